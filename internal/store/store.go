// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/crowdcall/market-engine/internal/model"
)

// ErrNotFound is returned when a market, user, or position does not exist.
var ErrNotFound = errors.New("store: not found")

// TradeCommit carries the full post-trade state of one buy or sell.
// Implementations must apply it atomically: either every row lands or
// none does.
type TradeCommit struct {
	Market   *model.Market   // post-trade quantities, prices, volume
	User     *model.User     // post-trade balance
	Position *model.Position // post-trade holding
	Trade    *model.Trade    // the immutable ledger record
}

// SettlementCommit carries the outcome of resolving one market: the
// resolved market row, every settled position, credited winner balances,
// and the resolution ledger records. Applied atomically.
type SettlementCommit struct {
	Market    *model.Market
	Users     []*model.User
	Positions []*model.Position
	Trades    []*model.Trade
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Markets ---

	CreateMarket(ctx context.Context, market *model.Market) error
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarketStatus persists a lifecycle transition (lock).
	// Resolution goes through ApplySettlement instead.
	UpdateMarketStatus(ctx context.Context, market *model.Market) error

	// --- Users ---

	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)

	// --- Positions ---

	GetPosition(ctx context.Context, userID, marketID string, side model.Side) (*model.Position, error)
	ListUserPositions(ctx context.Context, userID string) ([]model.Position, error)
	ListMarketPositions(ctx context.Context, marketID string) ([]model.Position, error)

	// ListSettledPositions returns positions settled at or after since.
	// A zero since returns all settled positions.
	ListSettledPositions(ctx context.Context, since time.Time) ([]model.Position, error)

	// --- Immutable trade ledger ---

	ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error)
	ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// ListTradesSince returns all trades at or after since, ordered by time.
	// A zero since returns the full ledger.
	ListTradesSince(ctx context.Context, since time.Time) ([]model.Trade, error)

	// --- Atomic commits ---

	ApplyTrade(ctx context.Context, commit TradeCommit) error
	ApplySettlement(ctx context.Context, commit SettlementCommit) error
}
