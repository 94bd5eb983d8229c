package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crowdcall/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Reads return copies, so a snapshot handed to a quote or read model
// cannot observe a concurrent trade mid-commit.
type MemoryStore struct {
	mu        sync.RWMutex
	markets   map[string]*model.Market
	users     map[string]*model.User
	positions map[string]*model.Position // keyed by user|market|side
	trades    []model.Trade
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:   make(map[string]*model.Market),
		users:     make(map[string]*model.User),
		positions: make(map[string]*model.Position),
	}
}

func positionKey(userID, marketID string, side model.Side) string {
	return userID + "|" + marketID + "|" + string(side)
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("market %s already exists", m.ID)
	}
	for _, existing := range s.markets {
		if existing.Slug == m.Slug {
			return fmt.Errorf("market with slug %s already exists", m.Slug)
		}
	}

	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) UpdateMarketStatus(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.markets[m.ID]
	if !ok {
		return fmt.Errorf("market %s: %w", m.ID, ErrNotFound)
	}
	existing.Status = m.Status
	existing.LockedAt = m.LockedAt
	return nil
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s already exists", u.ID)
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, userID, marketID string, side model.Side) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[positionKey(userID, marketID, side)]
	if !ok {
		return nil, fmt.Errorf("position %s/%s/%s: %w", userID, marketID, side, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListMarketPositions(_ context.Context, marketID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.MarketID == marketID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListSettledPositions(_ context.Context, since time.Time) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.SettledAt == nil {
			continue
		}
		if !since.IsZero() && p.SettledAt.Before(since) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.Before(*out[j].SettledAt) })
	return out, nil
}

// --- Trade ledger ---

func (s *MemoryStore) ListTradesByMarket(_ context.Context, marketID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, tr := range s.trades {
		if tr.MarketID == marketID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, tr := range s.trades {
		if tr.UserID == userID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTradesSince(_ context.Context, since time.Time) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, tr := range s.trades {
		if since.IsZero() || !tr.CreatedAt.Before(since) {
			out = append(out, tr)
		}
	}
	return out, nil
}

// --- Atomic commits ---

func (s *MemoryStore) ApplyTrade(_ context.Context, c TradeCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[c.Market.ID]; !ok {
		return fmt.Errorf("market %s: %w", c.Market.ID, ErrNotFound)
	}
	if _, ok := s.users[c.User.ID]; !ok {
		return fmt.Errorf("user %s: %w", c.User.ID, ErrNotFound)
	}

	mCp := *c.Market
	uCp := *c.User
	pCp := *c.Position
	s.markets[c.Market.ID] = &mCp
	s.users[c.User.ID] = &uCp
	s.positions[positionKey(pCp.UserID, pCp.MarketID, pCp.Side)] = &pCp
	s.trades = append(s.trades, *c.Trade)
	return nil
}

func (s *MemoryStore) ApplySettlement(_ context.Context, c SettlementCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[c.Market.ID]; !ok {
		return fmt.Errorf("market %s: %w", c.Market.ID, ErrNotFound)
	}

	mCp := *c.Market
	s.markets[c.Market.ID] = &mCp
	for _, u := range c.Users {
		uCp := *u
		s.users[u.ID] = &uCp
	}
	for _, p := range c.Positions {
		pCp := *p
		s.positions[positionKey(pCp.UserID, pCp.MarketID, pCp.Side)] = &pCp
	}
	for _, tr := range c.Trades {
		s.trades = append(s.trades, *tr)
	}
	return nil
}
