// Package portfolio derives per-user position values and P&L from the
// ledger. Read-only: everything here is recomputed on demand from stored
// positions and market prices, never persisted redundantly.
package portfolio

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/crowdcall/market-engine/internal/model"
	"github.com/crowdcall/market-engine/internal/store"
)

// PositionView is one position marked to the market's live price — or its
// frozen price once the market locks, or the settlement outcome once it
// resolves.
type PositionView struct {
	model.Position

	MarketSlug    string          `json:"market_slug"`
	MarketTitle   string          `json:"market_title"`
	MarketStatus  model.Status    `json:"market_status"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	ProfitLoss    decimal.Decimal `json:"profit_loss"`
	ProfitLossPct decimal.Decimal `json:"profit_loss_pct"`
}

// Summary aggregates a user's whole book.
type Summary struct {
	UserID        string          `json:"user_id"`
	Balance       decimal.Decimal `json:"influence_credits"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	ProfitLoss    decimal.Decimal `json:"profit_loss"`
	ProfitLossPct decimal.Decimal `json:"profit_loss_pct"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	OpenPositions int             `json:"open_positions"`
}

// Accountant computes portfolio read models over the store.
type Accountant struct {
	store store.Store
}

// NewAccountant creates a portfolio accountant.
func NewAccountant(st store.Store) *Accountant {
	return &Accountant{store: st}
}

// Positions returns views for every position the user holds or has had
// settled. Fully sold, never-settled positions (zeroed rows) are omitted.
func (a *Accountant) Positions(ctx context.Context, userID string) ([]PositionView, error) {
	positions, err := a.store.ListUserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	markets := make(map[string]*model.Market)
	views := make([]PositionView, 0, len(positions))

	for _, p := range positions {
		if p.Shares.IsZero() && !p.Settled() {
			continue
		}

		m, ok := markets[p.MarketID]
		if !ok {
			m, err = a.store.GetMarket(ctx, p.MarketID)
			if err != nil {
				return nil, err
			}
			markets[p.MarketID] = m
		}

		views = append(views, buildView(p, m))
	}
	return views, nil
}

// Summary totals the user's open positions and realized settlement P&L.
// Totals are simple sums across positions with shares > 0.
func (a *Accountant) Summary(ctx context.Context, userID string) (*Summary, error) {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	views, err := a.Positions(ctx, userID)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		UserID:       userID,
		Balance:      user.Balance,
		CostBasis:    decimal.Zero,
		CurrentValue: decimal.Zero,
		ProfitLoss:   decimal.Zero,
		RealizedPnL:  decimal.Zero,
	}

	for _, v := range views {
		if v.Settled() {
			s.RealizedPnL = s.RealizedPnL.Add(v.RealizedPnL)
			continue
		}
		if v.Shares.IsPositive() {
			s.OpenPositions++
			s.CostBasis = s.CostBasis.Add(v.CostBasis)
			s.CurrentValue = s.CurrentValue.Add(v.CurrentValue)
			s.ProfitLoss = s.ProfitLoss.Add(v.ProfitLoss)
		}
	}

	s.ProfitLossPct = pct(s.ProfitLoss, s.CostBasis)
	return s, nil
}

func buildView(p model.Position, m *model.Market) PositionView {
	v := PositionView{
		Position:     p,
		MarketSlug:   m.Slug,
		MarketTitle:  m.Title,
		MarketStatus: m.Status,
		CurrentPrice: m.PriceFor(p.Side),
	}

	if p.Settled() {
		// Settled positions carry their outcome: winners redeemed at par,
		// losers worth nothing regardless of the frozen price.
		v.CurrentValue = decimal.Zero
		v.ProfitLoss = p.RealizedPnL
		v.ProfitLossPct = pct(p.RealizedPnL, p.CostBasis)
		return v
	}

	v.CurrentValue = p.Shares.Mul(v.CurrentPrice).Round(2)
	v.ProfitLoss = v.CurrentValue.Sub(p.CostBasis)
	v.ProfitLossPct = pct(v.ProfitLoss, p.CostBasis)
	return v
}

// pct computes profitLoss / costBasis * 100, defined as 0 when the cost
// basis is zero — never a divide-by-zero.
func pct(profitLoss, costBasis decimal.Decimal) decimal.Decimal {
	if costBasis.IsZero() {
		return decimal.Zero
	}
	return profitLoss.Div(costBasis).Mul(decimal.NewFromInt(100)).Round(2)
}
