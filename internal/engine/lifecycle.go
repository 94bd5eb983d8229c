package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crowdcall/market-engine/internal/model"
	"github.com/crowdcall/market-engine/internal/store"
)

// Payout records one winning position's redemption at settlement.
type Payout struct {
	UserID  string          `json:"user_id"`
	Side    model.Side      `json:"side"`
	Shares  decimal.Decimal `json:"shares"`
	Credits decimal.Decimal `json:"credits"`
}

// SettlementResult summarizes a completed resolution.
type SettlementResult struct {
	Market    *model.Market   `json:"market"`
	Payouts   []Payout        `json:"payouts"`
	TotalPaid decimal.Decimal `json:"total_paid"`
	Winners   int             `json:"winners"`
	Losers    int             `json:"losers"`
}

// Lock freezes trading on an active market. Pool quantities and prices
// stay as last traded; Buy/Sell/Quote fail with ErrMarketNotTradeable
// until resolution.
func (e *Engine) Lock(ctx context.Context, marketID string) (*model.Market, error) {
	release, err := e.acquireMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	defer release()

	m, err := e.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Status != model.StatusActive {
		return nil, stateErr(ErrMarketNotActive)
	}

	now := time.Now().UTC()
	m.Status = model.StatusLocked
	m.LockedAt = &now

	if err := e.store.UpdateMarketStatus(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Resolve fixes a locked market's outcome and settles every position.
// Winning shares redeem at par (1 credit each); losing positions realize
// their full cost basis as a loss, with shares kept on record for audit.
// Irreversible and idempotent: a second call fails with ErrAlreadyResolved
// and pays nothing.
//
// Resolution takes the same per-market lock as trades, so no Buy or Sell
// can interleave with settlement on the same market, and each winner's
// balance lock, so trades on other markets cannot race the payout.
func (e *Engine) Resolve(ctx context.Context, marketID string, outcome model.Side) (*SettlementResult, error) {
	if !outcome.Valid() {
		return nil, validationErr(ErrInvalidSide)
	}

	release, err := e.acquireMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	defer release()

	m, err := e.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	switch m.Status {
	case model.StatusResolved:
		return nil, stateErr(ErrAlreadyResolved)
	case model.StatusActive:
		return nil, stateErr(ErrMarketNotLocked)
	}

	positions, err := e.store.ListMarketPositions(ctx, marketID)
	if err != nil {
		return nil, err
	}

	// Payouts are read-modify-write on winner balances, so each winner's
	// balance lock is held for the settlement. Sorted order, after the
	// market lock.
	winners := make([]string, 0, len(positions))
	seen := make(map[string]bool)
	for _, p := range positions {
		if p.Side == outcome && p.Shares.IsPositive() && !seen[p.UserID] {
			seen[p.UserID] = true
			winners = append(winners, p.UserID)
		}
	}
	sort.Strings(winners)
	for _, userID := range winners {
		releaseUser, err := e.acquireUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		defer releaseUser()
	}

	now := time.Now().UTC()
	m.Status = model.StatusResolved
	m.Resolution = &outcome
	m.ResolvedAt = &now

	commit := store.SettlementCommit{Market: m}
	result := &SettlementResult{Market: m, TotalPaid: decimal.Zero}

	// Winners are credited once each; iterate positions a single time.
	credited := make(map[string]*model.User)

	for i := range positions {
		p := positions[i]
		settledAt := now
		p.SettledAt = &settledAt
		p.SettledShares = p.Shares

		won := p.Side == outcome && p.Shares.IsPositive()
		if won {
			payout := roundCredits(p.Shares) // par redemption: 1 credit per share

			user, ok := credited[p.UserID]
			if !ok {
				user, err = e.loadUser(ctx, p.UserID)
				if err != nil {
					return nil, err
				}
				credited[p.UserID] = user
			}
			user.Balance = user.Balance.Add(payout)

			p.Payout = payout
			p.RealizedPnL = payout.Sub(p.CostBasis)
			p.Shares = decimal.Zero // redeemed

			commit.Trades = append(commit.Trades, &model.Trade{
				ID:            uuid.New().String(),
				MarketID:      marketID,
				UserID:        p.UserID,
				Side:          p.Side,
				Action:        model.ActionResolution,
				Shares:        p.SettledShares,
				Credits:       payout,
				PricePerShare: decimal.NewFromInt(1),
				CreatedAt:     now,
			})

			result.Payouts = append(result.Payouts, Payout{
				UserID:  p.UserID,
				Side:    p.Side,
				Shares:  p.SettledShares,
				Credits: payout,
			})
			result.TotalPaid = result.TotalPaid.Add(payout)
			result.Winners++
		} else {
			// Shares remain on record; realized loss is the full cost basis.
			p.Payout = decimal.Zero
			p.RealizedPnL = p.CostBasis.Neg()
			if p.SettledShares.IsPositive() {
				result.Losers++
			}
		}
		p.UpdatedAt = now
		commit.Positions = append(commit.Positions, &p)
	}

	for _, u := range credited {
		commit.Users = append(commit.Users, u)
	}

	if err := e.store.ApplySettlement(ctx, commit); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) loadUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundErr(err)
		}
		return nil, err
	}
	return u, nil
}
