package leaderboard_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/crowdcall/market-engine/internal/engine"
	"github.com/crowdcall/market-engine/internal/leaderboard"
	"github.com/crowdcall/market-engine/internal/model"
	"github.com/crowdcall/market-engine/internal/question"
	"github.com/crowdcall/market-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newEnv(t *testing.T) (*engine.Engine, *leaderboard.Aggregator) {
	t.Helper()
	ms := store.NewMemoryStore()
	return engine.New(ms, nil, engine.Config{}), leaderboard.NewAggregator(ms)
}

func seedQuestion(t *testing.T, eng *engine.Engine, title string) *model.Market {
	t.Helper()
	m, err := eng.CreateMarket(context.Background(), question.Params{Title: title, B: d(100)})
	if err != nil {
		t.Fatalf("failed to create question: %v", err)
	}
	return m
}

func buy(t *testing.T, eng *engine.Engine, marketID, user string, side model.Side, shares float64) *engine.TradeResult {
	t.Helper()
	res, err := eng.Buy(context.Background(), marketID, user, side, d(shares))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	return res
}

func settle(t *testing.T, eng *engine.Engine, marketID string, outcome model.Side) {
	t.Helper()
	if _, err := eng.Lock(context.Background(), marketID); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if _, err := eng.Resolve(context.Background(), marketID, outcome); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
}

func TestTop_UnknownRanking(t *testing.T) {
	_, agg := newEnv(t)
	_, err := agg.Top(context.Background(), "fame", leaderboard.WindowAll, 10)
	if !errors.Is(err, leaderboard.ErrUnknownRanking) {
		t.Errorf("expected ErrUnknownRanking, got %v", err)
	}
}

func TestTop_UnknownWindow(t *testing.T) {
	_, agg := newEnv(t)
	_, err := agg.Top(context.Background(), leaderboard.ByVolume, "fortnight", 10)
	if !errors.Is(err, leaderboard.ErrUnknownWindow) {
		t.Errorf("expected ErrUnknownWindow, got %v", err)
	}
}

func TestTop_Empty(t *testing.T) {
	_, agg := newEnv(t)
	entries, err := agg.Top(context.Background(), leaderboard.ByVolume, leaderboard.WindowAll, 10)
	if err != nil {
		t.Fatalf("top failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty board, got %d entries", len(entries))
	}
}

func TestTop_ByVolume(t *testing.T) {
	eng, agg := newEnv(t)
	m := seedQuestion(t, eng, "q")

	big := buy(t, eng, m.ID, "whale", model.SideYes, 100)
	small := buy(t, eng, m.ID, "minnow", model.SideNo, 5)

	entries, err := agg.Top(context.Background(), leaderboard.ByVolume, leaderboard.WindowAll, 10)
	if err != nil {
		t.Fatalf("top failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if entries[0].UserID != "whale" || entries[0].Rank != 1 {
		t.Errorf("expected whale ranked first, got %+v", entries[0])
	}
	if !entries[0].Volume.Equal(big.Trade.Credits) {
		t.Errorf("expected volume %s, got %s", big.Trade.Credits, entries[0].Volume)
	}
	if !entries[1].Volume.Equal(small.Trade.Credits) {
		t.Errorf("expected volume %s, got %s", small.Trade.Credits, entries[1].Volume)
	}
}

func TestTop_VolumeCountsBuysAndSells(t *testing.T) {
	eng, agg := newEnv(t)
	m := seedQuestion(t, eng, "q")

	res := buy(t, eng, m.ID, "u1", model.SideYes, 10)
	sold, err := eng.Sell(context.Background(), m.ID, "u1", model.SideYes, d(10))
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	entries, err := agg.Top(context.Background(), leaderboard.ByVolume, leaderboard.WindowAll, 10)
	if err != nil {
		t.Fatalf("top failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	want := res.Trade.Credits.Add(sold.Trade.Credits)
	if !entries[0].Volume.Equal(want) {
		t.Errorf("expected volume %s, got %s", want, entries[0].Volume)
	}
	if entries[0].Trades != 2 {
		t.Errorf("expected 2 trades, got %d", entries[0].Trades)
	}
}

func TestTop_VolumeExcludesSettlementPayouts(t *testing.T) {
	eng, agg := newEnv(t)
	m := seedQuestion(t, eng, "q")

	res := buy(t, eng, m.ID, "u1", model.SideYes, 10)
	settle(t, eng, m.ID, model.SideYes)

	entries, err := agg.Top(context.Background(), leaderboard.ByVolume, leaderboard.WindowAll, 10)
	if err != nil {
		t.Fatalf("top failed: %v", err)
	}
	if !entries[0].Volume.Equal(res.Trade.Credits) {
		t.Errorf("payouts must not count as volume: expected %s, got %s",
			res.Trade.Credits, entries[0].Volume)
	}
}

func TestTop_ByProfit(t *testing.T) {
	eng, agg := newEnv(t)
	m := seedQuestion(t, eng, "q")

	winBuy := buy(t, eng, m.ID, "winner", model.SideYes, 10)
	loseBuy := buy(t, eng, m.ID, "loser", model.SideNo, 8)
	settle(t, eng, m.ID, model.SideYes)

	entries, err := agg.Top(context.Background(), leaderboard.ByProfit, leaderboard.WindowAll, 10)
	if err != nil {
		t.Fatalf("top failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if entries[0].UserID != "winner" {
		t.Errorf("expected winner ranked first, got %s", entries[0].UserID)
	}
	if !entries[0].Profit.Equal(d(10).Sub(winBuy.Trade.Credits)) {
		t.Errorf("unexpected winner profit %s", entries[0].Profit)
	}
	if !entries[1].Profit.Equal(loseBuy.Trade.Credits.Neg()) {
		t.Errorf("unexpected loser profit %s", entries[1].Profit)
	}
}

func TestTop_ByAccuracy(t *testing.T) {
	eng, agg := newEnv(t)
	m1 := seedQuestion(t, eng, "q1")
	m2 := seedQuestion(t, eng, "q2")

	// sharp: right twice. blunt: right once, wrong once.
	buy(t, eng, m1.ID, "sharp", model.SideYes, 10)
	buy(t, eng, m2.ID, "sharp", model.SideNo, 10)
	buy(t, eng, m1.ID, "blunt", model.SideYes, 10)
	buy(t, eng, m2.ID, "blunt", model.SideYes, 10)

	settle(t, eng, m1.ID, model.SideYes)
	settle(t, eng, m2.ID, model.SideNo)

	entries, err := agg.Top(context.Background(), leaderboard.ByAccuracy, leaderboard.WindowAll, 10)
	if err != nil {
		t.Fatalf("top failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if entries[0].UserID != "sharp" {
		t.Errorf("expected sharp ranked first, got %s", entries[0].UserID)
	}
	if entries[0].Accuracy == nil || !entries[0].Accuracy.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected accuracy 1, got %v", entries[0].Accuracy)
	}
	if entries[1].Accuracy == nil || !entries[1].Accuracy.Equal(d(0.5)) {
		t.Errorf("expected accuracy 0.5, got %v", entries[1].Accuracy)
	}
	if entries[0].Correct != 2 || entries[0].Resolved != 2 {
		t.Errorf("unexpected prediction counts: %d/%d", entries[0].Correct, entries[0].Resolved)
	}
}

func TestTop_AccuracyExcludesUnresolvedUsers(t *testing.T) {
	eng, agg := newEnv(t)
	m1 := seedQuestion(t, eng, "q1")
	m2 := seedQuestion(t, eng, "q2")

	buy(t, eng, m1.ID, "settled", model.SideYes, 10)
	buy(t, eng, m2.ID, "pending", model.SideYes, 10)
	settle(t, eng, m1.ID, model.SideYes)

	entries, err := agg.Top(context.Background(), leaderboard.ByAccuracy, leaderboard.WindowAll, 10)
	if err != nil {
		t.Fatalf("top failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("users with no resolved predictions must be excluded, got %d entries", len(entries))
	}
	if entries[0].UserID != "settled" {
		t.Errorf("expected settled user only, got %s", entries[0].UserID)
	}
}

func TestTop_MergedRecordCarriesAllFields(t *testing.T) {
	eng, agg := newEnv(t)
	m := seedQuestion(t, eng, "q")

	res := buy(t, eng, m.ID, "u1", model.SideYes, 10)
	settle(t, eng, m.ID, model.SideYes)

	// Whatever ordering is requested, the entry carries volume, profit,
	// and accuracy together.
	entries, err := agg.Top(context.Background(), leaderboard.ByVolume, leaderboard.WindowAll, 10)
	if err != nil {
		t.Fatalf("top failed: %v", err)
	}
	e := entries[0]
	if !e.Volume.Equal(res.Trade.Credits) {
		t.Errorf("unexpected volume %s", e.Volume)
	}
	if !e.Profit.Equal(d(10).Sub(res.Trade.Credits)) {
		t.Errorf("unexpected profit %s", e.Profit)
	}
	if e.Accuracy == nil || !e.Accuracy.Equal(decimal.NewFromInt(1)) {
		t.Errorf("unexpected accuracy %v", e.Accuracy)
	}
	if e.FirstTradeAt.IsZero() {
		t.Error("expected first trade timestamp")
	}
}

func TestTop_LimitTruncates(t *testing.T) {
	eng, agg := newEnv(t)
	m := seedQuestion(t, eng, "q")

	for _, u := range []string{"a", "b", "c", "d"} {
		buy(t, eng, m.ID, u, model.SideYes, 5)
	}

	entries, err := agg.Top(context.Background(), leaderboard.ByVolume, leaderboard.WindowAll, 2)
	if err != nil {
		t.Fatalf("top failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected limit 2, got %d", len(entries))
	}
	if entries[0].Rank != 1 || entries[1].Rank != 2 {
		t.Error("ranks should be assigned in order")
	}
}

func TestTop_TiesBrokenByEarlierFirstTrade(t *testing.T) {
	eng, agg := newEnv(t)
	m1 := seedQuestion(t, eng, "q1")
	m2 := seedQuestion(t, eng, "q2")

	// Same shares on fresh markets means identical volume; "early" traded first.
	buy(t, eng, m1.ID, "early", model.SideYes, 10)
	buy(t, eng, m2.ID, "late", model.SideYes, 10)

	entries, err := agg.Top(context.Background(), leaderboard.ByVolume, leaderboard.WindowAll, 10)
	if err != nil {
		t.Fatalf("top failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].UserID != "early" {
		t.Errorf("tie should go to the earlier first trade, got %s first", entries[0].UserID)
	}
}
