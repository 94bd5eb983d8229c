// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades by action and side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdcall_trades_total",
		Help: "Total number of trades executed",
	}, []string{"action", "side"})

	// TradeLatency tracks trade execution latency by action.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crowdcall_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// QuotesTotal counts served quotes.
	QuotesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crowdcall_quotes_total",
		Help: "Total number of quotes served",
	})

	// TradeRejections counts failed trade attempts by error kind.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdcall_trade_rejections_total",
		Help: "Trades rejected by the engine, partitioned by error kind",
	}, []string{"kind"})

	// SettlementsTotal counts resolved markets by outcome.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdcall_settlements_total",
		Help: "Markets resolved, partitioned by outcome",
	}, []string{"outcome"})

	// PayoutCredits totals credits paid to winners at settlement.
	PayoutCredits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crowdcall_payout_credits_total",
		Help: "Cumulative credits paid out at settlement",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crowdcall_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdcall_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crowdcall_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
