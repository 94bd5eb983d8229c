package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/crowdcall/market-engine/internal/charts"
	"github.com/crowdcall/market-engine/internal/engine"
	"github.com/crowdcall/market-engine/internal/leaderboard"
	"github.com/crowdcall/market-engine/internal/model"
	"github.com/crowdcall/market-engine/internal/portfolio"
	"github.com/crowdcall/market-engine/internal/question"
	"github.com/crowdcall/market-engine/internal/store"
	"github.com/crowdcall/market-engine/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service over an in-memory store and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	eng := engine.New(ms, nil, engine.Config{})
	svc := trade.NewService(
		eng,
		portfolio.NewAccountant(ms),
		leaderboard.NewAggregator(ms),
		charts.NewBuilder(ms),
		nil,
	)

	r := chi.NewRouter()
	svc.Routes(r)
	return ms, r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createQuestion(t *testing.T, router chi.Router) model.Market {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/questions", trade.CreateQuestionRequest{
		Title: "Will it rain tomorrow?",
		B:     d(100),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create question failed: %d %s", w.Code, w.Body.String())
	}
	var m model.Market
	json.Unmarshal(w.Body.Bytes(), &m)
	return m
}

// --- Question management ---

func TestCreateQuestion_Valid(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)

	if m.Slug != "will-it-rain-tomorrow" {
		t.Errorf("unexpected slug: %s", m.Slug)
	}
	if m.Status != model.StatusActive {
		t.Errorf("expected active, got %s", m.Status)
	}
	if !m.PriceYes.Equal(d(0.5)) {
		t.Errorf("expected 0.5 open, got %s", m.PriceYes)
	}
}

func TestCreateQuestion_EmptyTitle(t *testing.T) {
	_, router := newTestEnv(t)
	w := doJSON(t, router, "POST", "/api/v1/questions", trade.CreateQuestionRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetQuestion_NotFound(t *testing.T) {
	_, router := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/questions/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListQuestions_FilterByStatus(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)
	createQuestion(t, router)

	w := doJSON(t, router, "POST", "/api/v1/questions/"+m.ID+"/lock", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("lock failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "GET", "/api/v1/questions?status=locked", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list failed: %d", w.Code)
	}
	var markets []model.Market
	json.Unmarshal(w.Body.Bytes(), &markets)
	if len(markets) != 1 || markets[0].ID != m.ID {
		t.Errorf("expected only the locked question, got %d", len(markets))
	}
}

// --- Trading over HTTP ---

func TestBuy_OK(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)

	w := doJSON(t, router, "POST", "/api/v1/trade/questions/"+m.ID+"/buy", trade.TradeRequest{
		UserID:   "u1",
		Position: "YES",
		Shares:   d(10),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var res engine.TradeResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Trade.Credits.Equal(d(5.12)) {
		t.Errorf("expected cost 5.12, got %s", res.Trade.Credits)
	}
	if !res.Balance.Equal(d(994.88)) {
		t.Errorf("expected balance 994.88, got %s", res.Balance)
	}
	if !res.Position.Shares.Equal(d(10)) {
		t.Errorf("expected 10 shares, got %s", res.Position.Shares)
	}
}

func TestBuy_MissingUserID(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)

	w := doJSON(t, router, "POST", "/api/v1/trade/questions/"+m.ID+"/buy", trade.TradeRequest{
		Position: "YES",
		Shares:   d(10),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestBuy_InvalidPosition(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)

	w := doJSON(t, router, "POST", "/api/v1/trade/questions/"+m.ID+"/buy", trade.TradeRequest{
		UserID:   "u1",
		Position: "MAYBE",
		Shares:   d(10),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid position, got %d", w.Code)
	}
}

func TestBuy_InsufficientCredits(t *testing.T) {
	ms := store.NewMemoryStore()
	eng := engine.New(ms, nil, engine.Config{StartingCredits: d(1)})
	svc := trade.NewService(eng, portfolio.NewAccountant(ms), leaderboard.NewAggregator(ms), charts.NewBuilder(ms), nil)
	r := chi.NewRouter()
	svc.Routes(r)

	m, err := eng.CreateMarket(context.Background(), question.Params{Title: "q", B: d(100)})
	if err != nil {
		t.Fatalf("create market: %v", err)
	}

	w := doJSON(t, r, "POST", "/api/v1/trade/questions/"+m.ID+"/buy", trade.TradeRequest{
		UserID:   "poor",
		Position: "YES",
		Shares:   d(100),
	})
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("expected 402, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSell_WithoutShares(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)

	w := doJSON(t, router, "POST", "/api/v1/trade/questions/"+m.ID+"/sell", trade.TradeRequest{
		UserID:   "u1",
		Position: "YES",
		Shares:   d(5),
	})
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("expected 402, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBuy_LockedQuestionConflicts(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)
	doJSON(t, router, "POST", "/api/v1/questions/"+m.ID+"/lock", nil)

	w := doJSON(t, router, "POST", "/api/v1/trade/questions/"+m.ID+"/buy", trade.TradeRequest{
		UserID:   "u1",
		Position: "YES",
		Shares:   d(10),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for locked question, got %d", w.Code)
	}
}

// --- Quotes over HTTP ---

func TestQuote_OK(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)

	w := doJSON(t, router, "POST", "/api/v1/trade/questions/"+m.ID+"/quote", trade.TradeRequest{
		Position: "YES",
		Shares:   d(10),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var q engine.Quote
	json.Unmarshal(w.Body.Bytes(), &q)
	if !q.Cost.Equal(d(5.12)) {
		t.Errorf("expected cost 5.12, got %s", q.Cost)
	}
}

func TestQuote_LockedQuestionIsBadRequest(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)
	doJSON(t, router, "POST", "/api/v1/questions/"+m.ID+"/lock", nil)

	// A quote has no execution to conflict with; non-tradeable maps to 400.
	w := doJSON(t, router, "POST", "/api/v1/trade/questions/"+m.ID+"/quote", trade.TradeRequest{
		Position: "YES",
		Shares:   d(10),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for quote on locked question, got %d", w.Code)
	}
}

// --- Lifecycle over HTTP ---

func TestResolve_FullFlow(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)

	doJSON(t, router, "POST", "/api/v1/trade/questions/"+m.ID+"/buy", trade.TradeRequest{
		UserID: "winner", Position: "YES", Shares: d(10),
	})
	doJSON(t, router, "POST", "/api/v1/trade/questions/"+m.ID+"/buy", trade.TradeRequest{
		UserID: "loser", Position: "NO", Shares: d(8),
	})

	w := doJSON(t, router, "POST", "/api/v1/questions/"+m.ID+"/lock", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("lock failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "POST", "/api/v1/questions/"+m.ID+"/resolve", trade.ResolveRequest{Outcome: "YES"})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve failed: %d %s", w.Code, w.Body.String())
	}

	var result engine.SettlementResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.Winners != 1 || result.Losers != 1 {
		t.Errorf("expected 1/1 winners/losers, got %d/%d", result.Winners, result.Losers)
	}
	if !result.TotalPaid.Equal(d(10)) {
		t.Errorf("expected total paid 10, got %s", result.TotalPaid)
	}

	// Resolving again conflicts.
	w = doJSON(t, router, "POST", "/api/v1/questions/"+m.ID+"/resolve", trade.ResolveRequest{Outcome: "YES"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on double resolve, got %d", w.Code)
	}
}

func TestResolve_WithoutLockConflicts(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)

	w := doJSON(t, router, "POST", "/api/v1/questions/"+m.ID+"/resolve", trade.ResolveRequest{Outcome: "YES"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for unlocked resolve, got %d", w.Code)
	}
}

// --- Portfolio over HTTP ---

func TestListPositions(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)

	doJSON(t, router, "POST", "/api/v1/trade/questions/"+m.ID+"/buy", trade.TradeRequest{
		UserID: "u1", Position: "YES", Shares: d(10),
	})

	w := doJSON(t, router, "GET", "/api/v1/trade/positions?user_id=u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var views []portfolio.PositionView
	json.Unmarshal(w.Body.Bytes(), &views)
	if len(views) != 1 {
		t.Fatalf("expected 1 position, got %d", len(views))
	}
	if views[0].MarketSlug != m.Slug {
		t.Errorf("unexpected slug %s", views[0].MarketSlug)
	}
}

func TestListPositions_RequiresUserID(t *testing.T) {
	_, router := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/trade/positions", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestPortfolioSummary(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)

	doJSON(t, router, "POST", "/api/v1/trade/questions/"+m.ID+"/buy", trade.TradeRequest{
		UserID: "u1", Position: "YES", Shares: d(10),
	})

	w := doJSON(t, router, "GET", "/api/v1/trade/portfolio-summary?user_id=u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var s portfolio.Summary
	json.Unmarshal(w.Body.Bytes(), &s)
	if s.OpenPositions != 1 {
		t.Errorf("expected 1 open position, got %d", s.OpenPositions)
	}
	if !s.Balance.Equal(d(994.88)) {
		t.Errorf("expected balance 994.88, got %s", s.Balance)
	}
}

func TestPortfolioSummary_UnknownUser(t *testing.T) {
	_, router := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/trade/portfolio-summary?user_id=nobody", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown user, got %d", w.Code)
	}
}

func TestGetBalance_ProvisionsNewUser(t *testing.T) {
	_, router := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/trade/balance?user_id=fresh", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]decimal.Decimal
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp["influence_credits"].Equal(d(1000)) {
		t.Errorf("expected 1000 starting credits, got %s", resp["influence_credits"])
	}
}

// --- Charts over HTTP ---

func TestSentimentEndpoint(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)

	doJSON(t, router, "POST", "/api/v1/trade/questions/"+m.ID+"/buy", trade.TradeRequest{
		UserID: "u1", Position: "YES", Shares: d(10),
	})

	w := doJSON(t, router, "GET", "/api/v1/charts/questions/"+m.ID+"/sentiment", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var s charts.Sentiment
	json.Unmarshal(w.Body.Bytes(), &s)
	if s.YesHolders != 1 {
		t.Errorf("expected 1 yes holder, got %d", s.YesHolders)
	}
}

func TestStatsEndpoint_UnknownQuestion(t *testing.T) {
	_, router := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/charts/questions/nope/stats", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestPriceHistoryEndpoint(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)

	doJSON(t, router, "POST", "/api/v1/trade/questions/"+m.ID+"/buy", trade.TradeRequest{
		UserID: "u1", Position: "YES", Shares: d(50),
	})

	w := doJSON(t, router, "GET", "/api/v1/charts/questions/"+m.ID+"/price-history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var points []charts.PricePoint
	json.Unmarshal(w.Body.Bytes(), &points)
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
}

// --- Leaderboard over HTTP ---

func TestLeaderboardEndpoint(t *testing.T) {
	_, router := newTestEnv(t)
	m := createQuestion(t, router)

	doJSON(t, router, "POST", "/api/v1/trade/questions/"+m.ID+"/buy", trade.TradeRequest{
		UserID: "u1", Position: "YES", Shares: d(10),
	})

	w := doJSON(t, router, "GET", "/api/v1/charts/leaderboard?type=volume&window=all", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var entries []leaderboard.Entry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 1 || entries[0].UserID != "u1" {
		t.Errorf("unexpected leaderboard: %+v", entries)
	}
}

func TestLeaderboardEndpoint_UnknownType(t *testing.T) {
	_, router := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/charts/leaderboard?type=fame", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown ranking, got %d", w.Code)
	}
}

func TestLeaderboardEndpoint_BadLimit(t *testing.T) {
	_, router := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/charts/leaderboard?limit=-3", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}
