// Package leaderboard derives ranked per-user summaries from the trade
// ledger and settled positions. Each ranking returns one complete, merged
// record per user so clients never stitch partial responses together.
package leaderboard

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crowdcall/market-engine/internal/model"
	"github.com/crowdcall/market-engine/internal/store"
)

// RankingType selects the ordering criterion.
type RankingType string

const (
	ByVolume   RankingType = "volume"
	ByProfit   RankingType = "profit"
	ByAccuracy RankingType = "accuracy"
)

// Window restricts the ranking to a time span.
type Window string

const (
	WindowAll     Window = "all"
	WindowMonthly Window = "monthly"
)

var (
	ErrUnknownRanking = errors.New("leaderboard: unknown ranking type")
	ErrUnknownWindow  = errors.New("leaderboard: unknown window")
)

// DefaultLimit caps rankings when the caller does not specify one.
const DefaultLimit = 50

// Entry is one user's full leaderboard record: volume, realized profit,
// and prediction accuracy together, whatever the requested ordering.
type Entry struct {
	Rank         int              `json:"rank"`
	UserID       string           `json:"user_id"`
	Volume       decimal.Decimal  `json:"volume"`
	Trades       int              `json:"trades"`
	Profit       decimal.Decimal  `json:"profit"`
	Correct      int              `json:"correct_predictions"`
	Resolved     int              `json:"total_predictions"`
	Accuracy     *decimal.Decimal `json:"accuracy,omitempty"` // nil when no resolved predictions
	FirstTradeAt time.Time        `json:"first_trade_at"`
}

// Aggregator computes leaderboards over the store.
type Aggregator struct {
	store store.Store
	now   func() time.Time
}

// NewAggregator creates a leaderboard aggregator.
func NewAggregator(st store.Store) *Aggregator {
	return &Aggregator{store: st, now: time.Now}
}

// Top returns up to limit entries ranked by the given type over the given
// window. Ties are broken by the earlier first trade, so orderings are
// stable and reproducible.
func (a *Aggregator) Top(ctx context.Context, typ RankingType, window Window, limit int) ([]Entry, error) {
	switch typ {
	case ByVolume, ByProfit, ByAccuracy:
	default:
		return nil, ErrUnknownRanking
	}

	var since time.Time
	switch window {
	case WindowAll, "":
	case WindowMonthly:
		since = a.now().UTC().AddDate(0, -1, 0)
	default:
		return nil, ErrUnknownWindow
	}

	if limit <= 0 {
		limit = DefaultLimit
	}

	entries, err := a.aggregate(ctx, since)
	if err != nil {
		return nil, err
	}

	ranked := rank(entries, typ)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// aggregate merges the trade ledger and settled positions into one record
// per user.
func (a *Aggregator) aggregate(ctx context.Context, since time.Time) (map[string]*Entry, error) {
	trades, err := a.store.ListTradesSince(ctx, since)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]*Entry)
	get := func(userID string) *Entry {
		e, ok := entries[userID]
		if !ok {
			e = &Entry{UserID: userID, Volume: decimal.Zero, Profit: decimal.Zero}
			entries[userID] = e
		}
		return e
	}

	for _, tr := range trades {
		// Volume counts traded credits; settlement payouts are not volume.
		if tr.Action != model.ActionBuy && tr.Action != model.ActionSell {
			continue
		}
		e := get(tr.UserID)
		e.Volume = e.Volume.Add(tr.Credits)
		e.Trades++
		if e.FirstTradeAt.IsZero() || tr.CreatedAt.Before(e.FirstTradeAt) {
			e.FirstTradeAt = tr.CreatedAt
		}
	}

	// Realized P&L and accuracy come from settled positions only;
	// unrealized positions are market-movable and excluded.
	settled, err := a.store.ListSettledPositions(ctx, since)
	if err != nil {
		return nil, err
	}

	for _, p := range settled {
		if !p.SettledShares.IsPositive() {
			continue // no prediction held at resolution time
		}
		e := get(p.UserID)
		e.Profit = e.Profit.Add(p.RealizedPnL)
		e.Resolved++
		if p.Payout.IsPositive() {
			e.Correct++
		}
	}

	for _, e := range entries {
		if e.Resolved > 0 {
			acc := decimal.NewFromInt(int64(e.Correct)).
				Div(decimal.NewFromInt(int64(e.Resolved))).
				Round(4)
			e.Accuracy = &acc
		}
	}

	return entries, nil
}

func rank(entries map[string]*Entry, typ RankingType) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		// Accuracy is undefined — not zero — without resolved predictions,
		// so such users are excluded from that ranking entirely.
		if typ == ByAccuracy && e.Accuracy == nil {
			continue
		}
		out = append(out, *e)
	}

	sort.Slice(out, func(i, j int) bool {
		var cmp int
		switch typ {
		case ByVolume:
			cmp = out[i].Volume.Cmp(out[j].Volume)
		case ByProfit:
			cmp = out[i].Profit.Cmp(out[j].Profit)
		case ByAccuracy:
			cmp = out[i].Accuracy.Cmp(*out[j].Accuracy)
		}
		if cmp != 0 {
			return cmp > 0
		}
		return earlier(out[i].FirstTradeAt, out[j].FirstTradeAt)
	})

	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// earlier orders non-zero timestamps first, oldest wins.
func earlier(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	if b.IsZero() {
		return true
	}
	return a.Before(b)
}
