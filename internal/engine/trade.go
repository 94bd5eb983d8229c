package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crowdcall/market-engine/internal/lmsr"
	"github.com/crowdcall/market-engine/internal/model"
	"github.com/crowdcall/market-engine/internal/store"
)

// TradeResult is the outcome of a successful buy or sell: the ledger
// record, the post-trade market snapshot, the updated position, and the
// user's remaining balance.
type TradeResult struct {
	Trade    *model.Trade    `json:"trade"`
	Market   *model.Market   `json:"market"`
	Position *model.Position `json:"position"`
	Balance  decimal.Decimal `json:"influence_credits"`
}

// Buy purchases shares on one side of a market. The whole
// validate-compute-commit sequence runs under the market's exclusive
// lock and the user's balance lock; any failure aborts with no partial
// state change.
func (e *Engine) Buy(ctx context.Context, marketID, userID string, side model.Side, shares decimal.Decimal) (*TradeResult, error) {
	// Input validation happens before any lock acquisition.
	if !side.Valid() {
		return nil, validationErr(ErrInvalidSide)
	}
	if shares.LessThanOrEqual(decimal.Zero) {
		return nil, validationErr(ErrInvalidQuantity)
	}

	release, err := e.acquireMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	defer release()

	// The balance check and debit must be atomic against this user's
	// trades on other markets.
	releaseUser, err := e.acquireUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer releaseUser()

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

	// Reject trades that would pin the price against the clamp bounds.
	if side == model.SideYes {
		err = mm.ValidateTrade(m.QYes, m.QNo, shares)
	} else {
		err = mm.ValidateTradeNo(m.QYes, m.QNo, shares)
	}
	if err != nil {
		return nil, validationErr(err)
	}

	// Exposure caps.
	if e.limiter != nil {
		holdings, err := e.userHoldings(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := e.limiter.Check(marketID, shares, holdings); err != nil {
			return nil, resourceErr(err)
		}
	}

	// Cost is re-derived against current state through the quote path;
	// any client-supplied price is ignored.
	q, err := quoteBuy(mm, m, side, shares)
	if err != nil {
		return nil, err
	}

	user, err := e.getOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Balance.LessThan(q.Cost) {
		return nil, resourceErr(ErrInsufficientCredits)
	}

	now := time.Now().UTC()

	// Post-trade market state.
	if side == model.SideYes {
		m.QYes = m.QYes.Add(shares)
	} else {
		m.QNo = m.QNo.Add(shares)
	}
	m.PriceYes, m.PriceNo = mm.Prices(m.QYes, m.QNo)
	m.Volume = m.Volume.Add(q.Cost)

	user.Balance = user.Balance.Sub(q.Cost)

	pos, err := e.store.GetPosition(ctx, userID, marketID, side)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		pos = &model.Position{
			UserID:    userID,
			MarketID:  marketID,
			Side:      side,
			Shares:    decimal.Zero,
			CostBasis: decimal.Zero,
			CreatedAt: now,
		}
	}
	pos.Shares = pos.Shares.Add(shares)
	pos.CostBasis = pos.CostBasis.Add(q.Cost)
	pos.UpdatedAt = now

	trade := &model.Trade{
		ID:            uuid.New().String(),
		MarketID:      marketID,
		UserID:        userID,
		Side:          side,
		Action:        model.ActionBuy,
		Shares:        shares,
		Credits:       q.Cost,
		PricePerShare: q.PricePerShare,
		CreatedAt:     now,
	}

	commit := store.TradeCommit{Market: m, User: user, Position: pos, Trade: trade}
	if err := e.store.ApplyTrade(ctx, commit); err != nil {
		return nil, err
	}

	return &TradeResult{Trade: trade, Market: m, Position: pos, Balance: user.Balance}, nil
}

// Sell returns shares to the market maker for credits. Proceeds are
// computed as C(q) - C(q with q_side -= shares); the position's cost
// basis shrinks proportionally to the shares sold.
func (e *Engine) Sell(ctx context.Context, marketID, userID string, side model.Side, shares decimal.Decimal) (*TradeResult, error) {
	if !side.Valid() {
		return nil, validationErr(ErrInvalidSide)
	}
	if shares.LessThanOrEqual(decimal.Zero) {
		return nil, validationErr(ErrInvalidQuantity)
	}

	release, err := e.acquireMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	defer release()

	releaseUser, err := e.acquireUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer releaseUser()

	m, err := e.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if !m.Tradeable() {
		return nil, stateErr(ErrMarketNotTradeable)
	}

	pos, err := e.store.GetPosition(ctx, userID, marketID, side)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, resourceErr(ErrInsufficientShares)
		}
		return nil, err
	}
	if pos.Shares.LessThan(shares) {
		return nil, resourceErr(ErrInsufficientShares)
	}

	mm, err := lmsr.New(m.B)
	if err != nil {
		return nil, validationErr(err)
	}

	// Selling moves the price the other way; the clamp bounds hold in
	// both directions.
	if side == model.SideYes {
		err = mm.ValidateTrade(m.QYes, m.QNo, shares.Neg())
	} else {
		err = mm.ValidateTradeNo(m.QYes, m.QNo, shares.Neg())
	}
	if err != nil {
		return nil, validationErr(err)
	}

	q := quoteSell(mm, m, side, shares)

	user, err := e.getOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	if side == model.SideYes {
		m.QYes = m.QYes.Sub(shares)
	} else {
		m.QNo = m.QNo.Sub(shares)
	}
	m.PriceYes, m.PriceNo = mm.Prices(m.QYes, m.QNo)
	m.Volume = m.Volume.Add(q.Cost)

	user.Balance = user.Balance.Add(q.Cost)

	// cost_basis *= remaining/original; exact zero on a full sell.
	original := pos.Shares
	remaining := original.Sub(shares)
	if remaining.IsZero() {
		pos.CostBasis = decimal.Zero
	} else {
		pos.CostBasis = roundCredits(pos.CostBasis.Mul(remaining).Div(original))
	}
	pos.Shares = remaining
	pos.UpdatedAt = now

	trade := &model.Trade{
		ID:            uuid.New().String(),
		MarketID:      marketID,
		UserID:        userID,
		Side:          side,
		Action:        model.ActionSell,
		Shares:        shares,
		Credits:       q.Cost,
		PricePerShare: q.PricePerShare,
		CreatedAt:     now,
	}

	commit := store.TradeCommit{Market: m, User: user, Position: pos, Trade: trade}
	if err := e.store.ApplyTrade(ctx, commit); err != nil {
		return nil, err
	}

	return &TradeResult{Trade: trade, Market: m, Position: pos, Balance: user.Balance}, nil
}

// userHoldings sums a user's live shares per market for the exposure limiter.
func (e *Engine) userHoldings(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	positions, err := e.store.ListUserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	holdings := make(map[string]decimal.Decimal)
	for _, p := range positions {
		holdings[p.MarketID] = holdings[p.MarketID].Add(p.Shares)
	}
	return holdings, nil
}
