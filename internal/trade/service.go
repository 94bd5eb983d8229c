// Package trade provides the HTTP handlers for creating questions,
// quoting and executing trades, settling outcomes, and querying
// portfolios, charts, and leaderboards.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/crowdcall/market-engine/internal/charts"
	"github.com/crowdcall/market-engine/internal/engine"
	"github.com/crowdcall/market-engine/internal/leaderboard"
	"github.com/crowdcall/market-engine/internal/metrics"
	"github.com/crowdcall/market-engine/internal/model"
	"github.com/crowdcall/market-engine/internal/portfolio"
	"github.com/crowdcall/market-engine/internal/question"
	"github.com/crowdcall/market-engine/internal/store"
)

// Service wires the engine and its read models into HTTP handlers.
type Service struct {
	engine    *engine.Engine
	portfolio *portfolio.Accountant
	boards    *leaderboard.Aggregator
	charts    *charts.Builder
	wsHub     *WSHub // optional; nil disables broadcasts
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(eng *engine.Engine, acct *portfolio.Accountant, boards *leaderboard.Aggregator, builder *charts.Builder, hub *WSHub) *Service {
	return &Service{
		engine:    eng,
		portfolio: acct,
		boards:    boards,
		charts:    builder,
		wsHub:     hub,
	}
}

// Routes mounts all handlers on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/questions", func(r chi.Router) {
			r.Post("/", s.CreateQuestion)
			r.Get("/", s.ListQuestions)
			r.Get("/{questionID}", s.GetQuestion)
			r.Post("/{questionID}/lock", s.LockQuestion)
			r.Post("/{questionID}/resolve", s.ResolveQuestion)
		})

		r.Route("/trade", func(r chi.Router) {
			r.Post("/questions/{questionID}/quote", s.QuoteTrade)
			r.Post("/questions/{questionID}/buy", s.Buy)
			r.Post("/questions/{questionID}/sell", s.Sell)
			r.Get("/positions", s.ListPositions)
			r.Get("/portfolio-summary", s.PortfolioSummary)
			r.Get("/balance", s.GetBalance)
		})

		r.Route("/charts", func(r chi.Router) {
			r.Get("/questions/{questionID}/sentiment", s.Sentiment)
			r.Get("/questions/{questionID}/stats", s.Stats)
			r.Get("/questions/{questionID}/price-history", s.PriceHistory)
			r.Get("/leaderboard", s.Leaderboard)
		})

		if s.wsHub != nil {
			r.Get("/ws", s.wsHub.HandleWS)
		}
	})
}

// --- Request/Response types ---

// CreateQuestionRequest is the JSON body for question creation.
type CreateQuestionRequest struct {
	Slug  string          `json:"slug"`
	Title string          `json:"title"`
	B     decimal.Decimal `json:"b"` // liquidity parameter; 0 → default 100
}

// TradeRequest is the JSON body for quote, buy, and sell.
type TradeRequest struct {
	UserID   string          `json:"user_id"`
	Position string          `json:"position"` // "YES" or "NO"
	Shares   decimal.Decimal `json:"shares"`
}

// ResolveRequest is the JSON body for POST /questions/{id}/resolve.
type ResolveRequest struct {
	Outcome string `json:"outcome"` // "YES" or "NO"
}

// --- Question lifecycle handlers ---

// CreateQuestion handles POST /api/v1/questions
func (s *Service) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req CreateQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	params := question.Params{Slug: req.Slug, Title: req.Title, B: req.B}
	market, err := s.engine.CreateMarket(r.Context(), params)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	slog.Info("question created",
		"id", market.ID,
		"slug", market.Slug,
		"b", market.B.String(),
	)

	writeJSON(w, http.StatusCreated, market)
}

// GetQuestion handles GET /api/v1/questions/{questionID}
func (s *Service) GetQuestion(w http.ResponseWriter, r *http.Request) {
	market, err := s.engine.GetMarket(r.Context(), chi.URLParam(r, "questionID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// ListQuestions handles GET /api/v1/questions
// Optional ?status= filter: active, locked, or resolved.
func (s *Service) ListQuestions(w http.ResponseWriter, r *http.Request) {
	markets, err := s.engine.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list questions", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := []model.Market{}
		for _, m := range markets {
			if string(m.Status) == status {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}

	writeJSON(w, http.StatusOK, markets)
}

// LockQuestion handles POST /api/v1/questions/{questionID}/lock
func (s *Service) LockQuestion(w http.ResponseWriter, r *http.Request) {
	market, err := s.engine.Lock(r.Context(), chi.URLParam(r, "questionID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	slog.Info("question locked", "id", market.ID, "slug", market.Slug)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "question_locked",
			QuestionID: market.ID,
			Slug:       market.Slug,
			PriceYes:   market.PriceYes.String(),
			PriceNo:    market.PriceNo.String(),
		})
	}

	writeJSON(w, http.StatusOK, market)
}

// ResolveQuestion handles POST /api/v1/questions/{questionID}/resolve
// Settles every position; winning shares redeem at 1 credit each.
func (s *Service) ResolveQuestion(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	outcome := model.Side(req.Outcome)
	result, err := s.engine.Resolve(r.Context(), chi.URLParam(r, "questionID"), outcome)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.SettlementsTotal.WithLabelValues(string(outcome)).Inc()
	paid, _ := result.TotalPaid.Float64()
	metrics.PayoutCredits.Add(paid)

	slog.Info("question resolved",
		"id", result.Market.ID,
		"outcome", string(outcome),
		"winners", result.Winners,
		"losers", result.Losers,
		"total_paid", result.TotalPaid.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "question_resolved",
			QuestionID: result.Market.ID,
			Slug:       result.Market.Slug,
			Outcome:    string(outcome),
		})
	}

	writeJSON(w, http.StatusOK, result)
}

// --- Trade handlers ---

// QuoteTrade handles POST /api/v1/trade/questions/{questionID}/quote
// Advisory only: nothing mutates and the quoted cost is not reserved.
func (s *Service) QuoteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	q, err := s.engine.Quote(r.Context(), chi.URLParam(r, "questionID"), model.Side(req.Position), req.Shares)
	if err != nil {
		// A quote against a non-tradeable question is a bad request, not a
		// conflict: there is no execution attempt to conflict with.
		if kind, ok := engine.KindOf(err); ok && kind == engine.KindState {
			writeError(w, errMessage(err), http.StatusBadRequest)
			return
		}
		writeEngineError(w, err)
		return
	}

	metrics.QuotesTotal.Inc()
	writeJSON(w, http.StatusOK, q)
}

// Buy handles POST /api/v1/trade/questions/{questionID}/buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.executeTrade(w, r, model.ActionBuy)
}

// Sell handles POST /api/v1/trade/questions/{questionID}/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.executeTrade(w, r, model.ActionSell)
}

func (s *Service) executeTrade(w http.ResponseWriter, r *http.Request, action model.Action) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	questionID := chi.URLParam(r, "questionID")
	side := model.Side(req.Position)
	start := time.Now()

	var result *engine.TradeResult
	var err error
	if action == model.ActionBuy {
		result, err = s.engine.Buy(r.Context(), questionID, req.UserID, side, req.Shares)
	} else {
		result, err = s.engine.Sell(r.Context(), questionID, req.UserID, side, req.Shares)
	}
	if err != nil {
		if kind, ok := engine.KindOf(err); ok {
			metrics.TradeRejections.WithLabelValues(kind.String()).Inc()
		}
		writeEngineError(w, err)
		return
	}

	metrics.TradesTotal.WithLabelValues(string(action), string(side)).Inc()
	metrics.TradeLatency.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"trade_id", result.Trade.ID,
		"user", req.UserID,
		"question", questionID,
		"action", string(action),
		"position", string(side),
		"shares", req.Shares.String(),
		"credits", result.Trade.Credits.String(),
		"new_price_yes", result.Market.PriceYes.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "trade_executed",
			QuestionID: result.Market.ID,
			Slug:       result.Market.Slug,
			PriceYes:   result.Market.PriceYes.String(),
			PriceNo:    result.Market.PriceNo.String(),
			Action:     string(action),
			Position:   string(side),
			Shares:     req.Shares.String(),
		})
	}

	writeJSON(w, http.StatusOK, result)
}

// --- Portfolio handlers ---

// ListPositions handles GET /api/v1/trade/positions?user_id=
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	views, err := s.portfolio.Positions(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if views == nil {
		views = []portfolio.PositionView{}
	}

	writeJSON(w, http.StatusOK, views)
}

// PortfolioSummary handles GET /api/v1/trade/portfolio-summary?user_id=
func (s *Service) PortfolioSummary(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	summary, err := s.portfolio.Summary(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "user not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to build portfolio summary", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// GetBalance handles GET /api/v1/trade/balance?user_id=
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	balance, err := s.engine.GetBalance(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"influence_credits": balance})
}

// --- Chart handlers ---

// Sentiment handles GET /api/v1/charts/questions/{questionID}/sentiment
func (s *Service) Sentiment(w http.ResponseWriter, r *http.Request) {
	out, err := s.charts.Sentiment(r.Context(), chi.URLParam(r, "questionID"))
	if err != nil {
		writeChartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Stats handles GET /api/v1/charts/questions/{questionID}/stats
func (s *Service) Stats(w http.ResponseWriter, r *http.Request) {
	out, err := s.charts.Stats(r.Context(), chi.URLParam(r, "questionID"))
	if err != nil {
		writeChartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// PriceHistory handles GET /api/v1/charts/questions/{questionID}/price-history
func (s *Service) PriceHistory(w http.ResponseWriter, r *http.Request) {
	points, err := s.charts.PriceHistory(r.Context(), chi.URLParam(r, "questionID"))
	if err != nil {
		writeChartError(w, err)
		return
	}
	if points == nil {
		points = []charts.PricePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// Leaderboard handles GET /api/v1/charts/leaderboard?type=&window=&limit=
func (s *Service) Leaderboard(w http.ResponseWriter, r *http.Request) {
	typ := leaderboard.RankingType(r.URL.Query().Get("type"))
	if typ == "" {
		typ = leaderboard.ByVolume
	}
	window := leaderboard.Window(r.URL.Query().Get("window"))

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.boards.Top(r.Context(), typ, window, limit)
	if err != nil {
		if errors.Is(err, leaderboard.ErrUnknownRanking) || errors.Is(err, leaderboard.ErrUnknownWindow) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "failed to build leaderboard", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeEngineError maps the engine's error taxonomy to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	kind, ok := engine.KindOf(err)
	if !ok {
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case engine.KindValidation:
		status = http.StatusBadRequest
	case engine.KindState:
		status = http.StatusConflict
	case engine.KindResource:
		status = http.StatusPaymentRequired
	case engine.KindConcurrency:
		status = http.StatusServiceUnavailable
	case engine.KindNotFound:
		status = http.StatusNotFound
	}
	writeError(w, errMessage(err), status)
}

// writeChartError maps read-model failures; unknown questions are 404.
func writeChartError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "question not found", http.StatusNotFound)
		return
	}
	writeError(w, "failed to build chart", http.StatusInternalServerError)
}

// errMessage strips the taxonomy prefix so clients see the sentinel text.
func errMessage(err error) string {
	var e *engine.Error
	if errors.As(err, &e) {
		return e.Err.Error()
	}
	return err.Error()
}
