// Package engine implements the trading core: quoting, buy/sell execution
// against the LMSR market maker, market lifecycle, and settlement.
//
// Each market is an independently lockable resource, and so is each
// user's balance. Mutating operations hold the market's exclusive lock
// for the whole validate-compute-commit sequence, plus the balance lock
// of every user whose credits they touch, so trades on different markets
// cannot race on a shared balance. Locks are always taken market first,
// then users in sorted order. Quotes and read models never take a lock,
// they read a consistent snapshot from the store.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crowdcall/market-engine/internal/lmsr"
	"github.com/crowdcall/market-engine/internal/model"
	"github.com/crowdcall/market-engine/internal/question"
	"github.com/crowdcall/market-engine/internal/risk"
	"github.com/crowdcall/market-engine/internal/store"
)

// CreditScale is the ledger's minimum currency unit: 0.01 credit.
// All costs, proceeds, and payouts are rounded to this scale with
// round-half-even, in the quote path and the execute path alike, so a
// quote is honorable up to price movement from other trades.
const CreditScale int32 = 2

// roundCredits quantizes an amount to the ledger's minimum unit.
func roundCredits(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(CreditScale)
}

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	// LockTimeout bounds per-market lock acquisition. A trade that cannot
	// take the lock in time fails with ErrBusy instead of queueing forever.
	LockTimeout time.Duration

	// StartingCredits is granted to a user on first contact with the ledger.
	StartingCredits decimal.Decimal
}

const defaultLockTimeout = 3 * time.Second

var defaultStartingCredits = decimal.NewFromInt(1000)

// Engine executes trades and lifecycle transitions against the store.
type Engine struct {
	store   store.Store
	limiter *risk.Limiter // optional exposure caps; nil disables

	mu    sync.Mutex
	locks map[string]chan struct{} // exclusive locks, keyed per market and per user balance

	lockTimeout     time.Duration
	startingCredits decimal.Decimal
}

// New creates an engine over the given store. limiter may be nil.
func New(st store.Store, limiter *risk.Limiter, cfg Config) *Engine {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if cfg.StartingCredits.LessThanOrEqual(decimal.Zero) {
		cfg.StartingCredits = defaultStartingCredits
	}
	return &Engine{
		store:           st,
		limiter:         limiter,
		locks:           make(map[string]chan struct{}),
		lockTimeout:     cfg.LockTimeout,
		startingCredits: cfg.StartingCredits,
	}
}

// lockFor returns the lock channel for a resource key, creating it on
// first use.
func (e *Engine) lockFor(key string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[key]
	if !ok {
		l = make(chan struct{}, 1)
		e.locks[key] = l
	}
	return l
}

// acquire takes a resource's exclusive lock, bounded by the configured
// timeout. Returns a release func, or ErrBusy if the lock is contended
// past the deadline — nothing was mutated and the caller may retry.
func (e *Engine) acquire(ctx context.Context, key string) (func(), error) {
	l := e.lockFor(key)

	timer := time.NewTimer(e.lockTimeout)
	defer timer.Stop()

	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-timer.C:
		return nil, concurrencyErr(ErrBusy)
	case <-ctx.Done():
		return nil, concurrencyErr(ctx.Err())
	}
}

// Market and user locks live in disjoint keyspaces. Callers take the
// market lock before any user lock, and user locks in sorted ID order,
// so lock acquisition never cycles.

func (e *Engine) acquireMarket(ctx context.Context, marketID string) (func(), error) {
	return e.acquire(ctx, "market:"+marketID)
}

func (e *Engine) acquireUser(ctx context.Context, userID string) (func(), error) {
	return e.acquire(ctx, "user:"+userID)
}

// CreateMarket validates the question parameters and opens a new market
// priced at 50/50.
func (e *Engine) CreateMarket(ctx context.Context, params question.Params) (*model.Market, error) {
	if err := params.Validate(); err != nil {
		return nil, validationErr(err)
	}

	if _, err := lmsr.New(params.B); err != nil {
		return nil, validationErr(err)
	}

	half := decimal.NewFromFloat(0.5)
	market := &model.Market{
		ID:        uuid.New().String(),
		Slug:      params.Slug,
		Title:     params.Title,
		B:         params.B,
		QYes:      decimal.Zero,
		QNo:       decimal.Zero,
		PriceYes:  half,
		PriceNo:   half,
		Volume:    decimal.Zero,
		Status:    model.StatusActive,
		CreatedAt: time.Now().UTC(),
	}

	if err := e.store.CreateMarket(ctx, market); err != nil {
		return nil, fmt.Errorf("create market: %w", err)
	}
	return market, nil
}

// GetMarket returns a snapshot of one market.
func (e *Engine) GetMarket(ctx context.Context, marketID string) (*model.Market, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundErr(err)
		}
		return nil, err
	}
	return m, nil
}

// ListMarkets returns snapshots of all markets.
func (e *Engine) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return e.store.ListMarkets(ctx)
}

// getOrCreateUser loads a user, provisioning the starting credit grant on
// first contact. Two markets racing on the same new user is resolved by
// retrying the read after a failed insert.
func (e *Engine) getOrCreateUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := e.store.GetUser(ctx, userID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	u = &model.User{
		ID:        userID,
		Balance:   e.startingCredits,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateUser(ctx, u); err != nil {
		return e.store.GetUser(ctx, userID)
	}
	return u, nil
}

// GetBalance returns a user's influence-credit balance, provisioning the
// account if it does not exist yet.
func (e *Engine) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	u, err := e.getOrCreateUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return u.Balance, nil
}
