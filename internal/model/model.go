// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies the outcome a share is written on.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Valid reports whether s is a recognized outcome side.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Opposite returns the other side of a binary market.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Market lifecycle states. Status only ever advances
// active → locked → resolved.
type Status string

const (
	StatusActive   Status = "active"
	StatusLocked   Status = "locked"
	StatusResolved Status = "resolved"
)

// Action distinguishes ledger entry types.
type Action string

const (
	ActionBuy        Action = "buy"
	ActionSell       Action = "sell"
	ActionResolution Action = "resolution"
)

// Market represents the state of one binary-outcome question.
// QYes/QNo are outstanding share counters (quantities sold by the
// market maker), not raw token pools.
type Market struct {
	ID         string          `json:"id" db:"id"`
	Slug       string          `json:"slug" db:"slug"`
	Title      string          `json:"title" db:"title"`
	B          decimal.Decimal `json:"b" db:"b"` // LMSR liquidity parameter
	QYes       decimal.Decimal `json:"q_yes" db:"q_yes"`
	QNo        decimal.Decimal `json:"q_no" db:"q_no"`
	PriceYes   decimal.Decimal `json:"price_yes" db:"price_yes"`
	PriceNo    decimal.Decimal `json:"price_no" db:"price_no"`
	Volume     decimal.Decimal `json:"volume" db:"volume"` // cumulative credits traded
	Status     Status          `json:"status" db:"status"`
	Resolution *Side           `json:"resolution,omitempty" db:"resolution"` // non-nil iff resolved
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	LockedAt   *time.Time      `json:"locked_at,omitempty" db:"locked_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Tradeable reports whether the market accepts buy/sell orders.
func (m *Market) Tradeable() bool {
	return m.Status == StatusActive
}

// PriceFor returns the current price for the given side.
func (m *Market) PriceFor(side Side) decimal.Decimal {
	if side == SideYes {
		return m.PriceYes
	}
	return m.PriceNo
}

// Position is a user's accumulated holding in one outcome of one market.
// Addressed uniquely by (user, market, side). Created on first buy and
// zeroed — never deleted — on full sell or settlement payout.
type Position struct {
	UserID    string          `json:"user_id" db:"user_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	Side      Side            `json:"side" db:"side"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	CostBasis decimal.Decimal `json:"cost_basis" db:"cost_basis"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`

	// Settlement record, populated once when the market resolves.
	// SettledShares preserves the holding at resolution time for audit
	// and accuracy ranking after Shares has been zeroed by the payout.
	SettledAt     *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
	SettledShares decimal.Decimal `json:"settled_shares" db:"settled_shares"`
	Payout        decimal.Decimal `json:"payout" db:"payout"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
}

// Settled reports whether the position has been through resolution.
func (p *Position) Settled() bool {
	return p.SettledAt != nil
}

// Trade is an immutable, append-only record of one ledger event.
// Never mutated after creation; the trade log is the source of truth
// for volume, trade counts, and leaderboard derivations.
type Trade struct {
	ID            string          `json:"id" db:"id"`
	MarketID      string          `json:"market_id" db:"market_id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Side          Side            `json:"side" db:"side"`
	Action        Action          `json:"action" db:"action"`
	Shares        decimal.Decimal `json:"shares" db:"shares"`
	Credits       decimal.Decimal `json:"credits" db:"credits"`
	PricePerShare decimal.Decimal `json:"price_per_share" db:"price_per_share"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// User is a ledger account holding a single influence-credit balance.
// The balance never goes negative; all changes are committed together
// with the corresponding Trade record.
type User struct {
	ID        string          `json:"id" db:"id"`
	Balance   decimal.Decimal `json:"influence_credits" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
