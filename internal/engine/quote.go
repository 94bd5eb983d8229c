package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/crowdcall/market-engine/internal/lmsr"
	"github.com/crowdcall/market-engine/internal/model"
)

// Quote is an advisory, non-binding cost estimate for a hypothetical buy.
// It may be stale by the time a trade executes; execution re-derives the
// cost against current state through the same code path rather than
// trusting a cached quote.
type Quote struct {
	MarketID      string          `json:"market_id"`
	Side          model.Side      `json:"position"`
	Shares        decimal.Decimal `json:"shares"`
	Cost          decimal.Decimal `json:"cost"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
	CurrentPrice  decimal.Decimal `json:"current_price"` // pre-trade price of the side
	NewPrice      decimal.Decimal `json:"new_price"`     // side price after the hypothetical fill
}

// Quote computes the cost and price impact of buying shares on one side.
// Read-only: no lock is taken and no state mutates.
func (e *Engine) Quote(ctx context.Context, marketID string, side model.Side, shares decimal.Decimal) (*Quote, error) {
	if !side.Valid() {
		return nil, validationErr(ErrInvalidSide)
	}
	if shares.LessThanOrEqual(decimal.Zero) {
		return nil, validationErr(ErrInvalidQuantity)
	}

	m, err := e.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if !m.Tradeable() {
		return nil, stateErr(ErrMarketNotTradeable)
	}

	mm, err := lmsr.New(m.B)
	if err != nil {
		return nil, validationErr(err)
	}

	return quoteBuy(mm, m, side, shares)
}

// quoteBuy derives a buy quote against a market snapshot. Shared verbatim
// by Quote and Buy so the quoted and executed cost round identically.
// Quantities whose rounded cost is zero are rejected: shares redeem at
// par on resolution, so a zero-cost fill would mint free credits.
func quoteBuy(mm *lmsr.MarketMaker, m *model.Market, side model.Side, shares decimal.Decimal) (*Quote, error) {
	var rawCost decimal.Decimal
	var newQYes, newQNo decimal.Decimal

	if side == model.SideYes {
		rawCost = mm.TradeCost(m.QYes, m.QNo, shares)
		newQYes, newQNo = m.QYes.Add(shares), m.QNo
	} else {
		rawCost = mm.TradeCostNo(m.QYes, m.QNo, shares)
		newQYes, newQNo = m.QYes, m.QNo.Add(shares)
	}

	cost := roundCredits(rawCost)
	if !cost.IsPositive() {
		return nil, validationErr(ErrQuantityTooSmall)
	}

	newPriceYes := mm.Price(newQYes, newQNo)
	newPrice := newPriceYes
	if side == model.SideNo {
		newPrice = decimal.NewFromInt(1).Sub(newPriceYes)
	}

	return &Quote{
		MarketID:      m.ID,
		Side:          side,
		Shares:        shares,
		Cost:          cost,
		PricePerShare: cost.Div(shares).Round(lmsr.PriceScale),
		CurrentPrice:  m.PriceFor(side),
		NewPrice:      newPrice,
	}, nil
}

// quoteSell derives the proceeds of selling shares back to the market
// maker: C(q) - C(q with q_side -= shares), always >= 0 for shares within
// the outstanding quantity. Same rounding as the buy path.
func quoteSell(mm *lmsr.MarketMaker, m *model.Market, side model.Side, shares decimal.Decimal) *Quote {
	var rawCost decimal.Decimal
	var newQYes, newQNo decimal.Decimal

	if side == model.SideYes {
		rawCost = mm.TradeCost(m.QYes, m.QNo, shares.Neg())
		newQYes, newQNo = m.QYes.Sub(shares), m.QNo
	} else {
		rawCost = mm.TradeCostNo(m.QYes, m.QNo, shares.Neg())
		newQYes, newQNo = m.QYes, m.QNo.Sub(shares)
	}

	proceeds := roundCredits(rawCost.Neg())
	newPriceYes := mm.Price(newQYes, newQNo)
	newPrice := newPriceYes
	if side == model.SideNo {
		newPrice = decimal.NewFromInt(1).Sub(newPriceYes)
	}

	return &Quote{
		MarketID:      m.ID,
		Side:          side,
		Shares:        shares,
		Cost:          proceeds,
		PricePerShare: proceeds.Div(shares).Round(lmsr.PriceScale),
		CurrentPrice:  m.PriceFor(side),
		NewPrice:      newPrice,
	}
}
