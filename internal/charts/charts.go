// Package charts builds market-level read models from the trade ledger:
// holder sentiment, summary stats, and the reconstructed price series.
package charts

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crowdcall/market-engine/internal/lmsr"
	"github.com/crowdcall/market-engine/internal/model"
	"github.com/crowdcall/market-engine/internal/store"
)

// Sentiment counts current holders on each side of a market.
type Sentiment struct {
	MarketID   string          `json:"market_id"`
	YesHolders int             `json:"yes_holders"`
	NoHolders  int             `json:"no_holders"`
	YesShares  decimal.Decimal `json:"yes_shares"`
	NoShares   decimal.Decimal `json:"no_shares"`
	YesPct     decimal.Decimal `json:"yes_pct"` // price-implied probability, 0-100
	NoPct      decimal.Decimal `json:"no_pct"`
}

// Stats summarizes a market's trading activity.
type Stats struct {
	MarketID    string          `json:"market_id"`
	Volume      decimal.Decimal `json:"volume"`
	Trades      int             `json:"trades"`
	Traders     int             `json:"traders"`
	LastTradeAt *time.Time      `json:"last_trade_at,omitempty"`
}

// PricePoint is one step of the reconstructed price series.
type PricePoint struct {
	Time     time.Time       `json:"time"`
	PriceYes decimal.Decimal `json:"price_yes"`
	PriceNo  decimal.Decimal `json:"price_no"`
}

// Builder computes chart read models over the store.
type Builder struct {
	store store.Store
}

// NewBuilder creates a charts builder.
func NewBuilder(st store.Store) *Builder {
	return &Builder{store: st}
}

// Sentiment reports live holder counts and the price-implied split.
func (b *Builder) Sentiment(ctx context.Context, marketID string) (*Sentiment, error) {
	m, err := b.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}

	positions, err := b.store.ListMarketPositions(ctx, marketID)
	if err != nil {
		return nil, err
	}

	s := &Sentiment{
		MarketID:  marketID,
		YesShares: decimal.Zero,
		NoShares:  decimal.Zero,
	}
	for _, p := range positions {
		if !p.Shares.IsPositive() {
			continue
		}
		if p.Side == model.SideYes {
			s.YesHolders++
			s.YesShares = s.YesShares.Add(p.Shares)
		} else {
			s.NoHolders++
			s.NoShares = s.NoShares.Add(p.Shares)
		}
	}

	hundred := decimal.NewFromInt(100)
	s.YesPct = m.PriceYes.Mul(hundred).Round(1)
	s.NoPct = hundred.Sub(s.YesPct)
	return s, nil
}

// Stats reports cumulative volume, trade count, and distinct traders.
// Settlement payouts are ledger records but not trading activity.
func (b *Builder) Stats(ctx context.Context, marketID string) (*Stats, error) {
	m, err := b.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}

	trades, err := b.store.ListTradesByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}

	st := &Stats{MarketID: marketID, Volume: m.Volume}
	traders := make(map[string]struct{})

	for _, tr := range trades {
		if tr.Action != model.ActionBuy && tr.Action != model.ActionSell {
			continue
		}
		st.Trades++
		traders[tr.UserID] = struct{}{}
		t := tr.CreatedAt
		if st.LastTradeAt == nil || t.After(*st.LastTradeAt) {
			st.LastTradeAt = &t
		}
	}
	st.Traders = len(traders)
	return st, nil
}

// PriceHistory replays the market's trade log through the pricing model,
// starting from the 50/50 open. The trade ledger is append-only, so the
// replay is deterministic.
func (b *Builder) PriceHistory(ctx context.Context, marketID string) ([]PricePoint, error) {
	m, err := b.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}

	mm, err := lmsr.New(m.B)
	if err != nil {
		return nil, err
	}

	trades, err := b.store.ListTradesByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}

	qYes, qNo := decimal.Zero, decimal.Zero
	priceYes, priceNo := mm.Prices(qYes, qNo)

	series := []PricePoint{{Time: m.CreatedAt, PriceYes: priceYes, PriceNo: priceNo}}

	for _, tr := range trades {
		var delta decimal.Decimal
		switch tr.Action {
		case model.ActionBuy:
			delta = tr.Shares
		case model.ActionSell:
			delta = tr.Shares.Neg()
		default:
			continue // resolution payouts do not move the pools
		}

		if tr.Side == model.SideYes {
			qYes = qYes.Add(delta)
		} else {
			qNo = qNo.Add(delta)
		}

		priceYes, priceNo = mm.Prices(qYes, qNo)
		series = append(series, PricePoint{
			Time:     tr.CreatedAt,
			PriceYes: priceYes,
			PriceNo:  priceNo,
		})
	}

	return series, nil
}
