package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/crowdcall/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary and share values are stored as NUMERIC for exact decimal
// precision — never floats.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the engine's tables if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS markets (
			id          TEXT PRIMARY KEY,
			slug        TEXT UNIQUE NOT NULL,
			title       TEXT NOT NULL,
			b           NUMERIC NOT NULL,
			q_yes       NUMERIC NOT NULL,
			q_no        NUMERIC NOT NULL,
			price_yes   NUMERIC NOT NULL,
			price_no    NUMERIC NOT NULL,
			volume      NUMERIC NOT NULL,
			status      TEXT NOT NULL,
			resolution  TEXT,
			created_at  TIMESTAMPTZ NOT NULL,
			locked_at   TIMESTAMPTZ,
			resolved_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			balance    NUMERIC NOT NULL CHECK (balance >= 0),
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS positions (
			user_id        TEXT NOT NULL,
			market_id      TEXT NOT NULL REFERENCES markets(id),
			side           TEXT NOT NULL,
			shares         NUMERIC NOT NULL CHECK (shares >= 0),
			cost_basis     NUMERIC NOT NULL CHECK (cost_basis >= 0),
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL,
			settled_at     TIMESTAMPTZ,
			settled_shares NUMERIC NOT NULL DEFAULT 0,
			payout         NUMERIC NOT NULL DEFAULT 0,
			realized_pnl   NUMERIC NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, market_id, side)
		);
		CREATE TABLE IF NOT EXISTS trades (
			id              TEXT PRIMARY KEY,
			market_id       TEXT NOT NULL REFERENCES markets(id),
			user_id         TEXT NOT NULL,
			side            TEXT NOT NULL,
			action          TEXT NOT NULL,
			shares          NUMERIC NOT NULL,
			credits         NUMERIC NOT NULL,
			price_per_share NUMERIC NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS trades_market_idx ON trades(market_id, created_at);
		CREATE INDEX IF NOT EXISTS trades_user_idx ON trades(user_id, created_at);
	`)
	return err
}

const marketColumns = `id, slug, title,
	b::TEXT, q_yes::TEXT, q_no::TEXT, price_yes::TEXT, price_no::TEXT, volume::TEXT,
	status, resolution, created_at, locked_at, resolved_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var b, qYes, qNo, priceYes, priceNo, volume string
	var resolution *string

	err := row.Scan(&m.ID, &m.Slug, &m.Title,
		&b, &qYes, &qNo, &priceYes, &priceNo, &volume,
		&m.Status, &resolution, &m.CreatedAt, &m.LockedAt, &m.ResolvedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	m.B, _ = decimal.NewFromString(b)
	m.QYes, _ = decimal.NewFromString(qYes)
	m.QNo, _ = decimal.NewFromString(qNo)
	m.PriceYes, _ = decimal.NewFromString(priceYes)
	m.PriceNo, _ = decimal.NewFromString(priceNo)
	m.Volume, _ = decimal.NewFromString(volume)
	if resolution != nil {
		side := model.Side(*resolution)
		m.Resolution = &side
	}
	return &m, nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, slug, title, b, q_yes, q_no, price_yes, price_no, volume, status, resolution, created_at, locked_at, resolved_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, NULL, $11, NULL, NULL)`,
		m.ID, m.Slug, m.Title,
		m.B.String(), m.QYes.String(), m.QNo.String(),
		m.PriceYes.String(), m.PriceNo.String(), m.Volume.String(),
		m.Status, m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarketStatus(ctx context.Context, m *model.Market) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $2, locked_at = $3 WHERE id = $1`,
		m.ID, m.Status, m.LockedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %s: %w", m.ID, ErrNotFound)
	}
	return nil
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, balance, created_at) VALUES ($1, $2::NUMERIC, $3)`,
		u.ID, u.Balance.String(), u.CreatedAt)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT id, balance::TEXT, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &balance, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}

	u.Balance, _ = decimal.NewFromString(balance)
	return &u, nil
}

// --- Positions ---

const positionColumns = `user_id, market_id, side,
	shares::TEXT, cost_basis::TEXT, created_at, updated_at,
	settled_at, settled_shares::TEXT, payout::TEXT, realized_pnl::TEXT`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var shares, costBasis, settledShares, payout, realizedPnL string

	err := row.Scan(&p.UserID, &p.MarketID, &p.Side,
		&shares, &costBasis, &p.CreatedAt, &p.UpdatedAt,
		&p.SettledAt, &settledShares, &payout, &realizedPnL)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	p.Shares, _ = decimal.NewFromString(shares)
	p.CostBasis, _ = decimal.NewFromString(costBasis)
	p.SettledShares, _ = decimal.NewFromString(settledShares)
	p.Payout, _ = decimal.NewFromString(payout)
	p.RealizedPnL, _ = decimal.NewFromString(realizedPnL)
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, marketID string, side model.Side) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND market_id = $2 AND side = $3`,
		userID, marketID, side)
	p, err := scanPosition(row)
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s/%s: %w", userID, marketID, side, err)
	}
	return p, nil
}

func (s *PostgresStore) listPositions(ctx context.Context, query string, args ...any) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ListUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	return s.listPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 ORDER BY created_at`,
		userID)
}

func (s *PostgresStore) ListMarketPositions(ctx context.Context, marketID string) ([]model.Position, error) {
	return s.listPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE market_id = $1 ORDER BY created_at`,
		marketID)
}

func (s *PostgresStore) ListSettledPositions(ctx context.Context, since time.Time) ([]model.Position, error) {
	if since.IsZero() {
		return s.listPositions(ctx,
			`SELECT `+positionColumns+` FROM positions WHERE settled_at IS NOT NULL ORDER BY settled_at`)
	}
	return s.listPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE settled_at >= $1 ORDER BY settled_at`,
		since)
}

// --- Trade ledger ---

const tradeColumns = `id, market_id, user_id, side, action,
	shares::TEXT, credits::TEXT, price_per_share::TEXT, created_at`

func (s *PostgresStore) listTrades(ctx context.Context, query string, args ...any) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var tr model.Trade
		var shares, credits, pricePerShare string

		if err := rows.Scan(&tr.ID, &tr.MarketID, &tr.UserID, &tr.Side, &tr.Action,
			&shares, &credits, &pricePerShare, &tr.CreatedAt); err != nil {
			return nil, err
		}

		tr.Shares, _ = decimal.NewFromString(shares)
		tr.Credits, _ = decimal.NewFromString(credits)
		tr.PricePerShare, _ = decimal.NewFromString(pricePerShare)
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return s.listTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE market_id = $1 ORDER BY created_at`, marketID)
}

func (s *PostgresStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.listTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (s *PostgresStore) ListTradesSince(ctx context.Context, since time.Time) ([]model.Trade, error) {
	if since.IsZero() {
		return s.listTrades(ctx, `SELECT `+tradeColumns+` FROM trades ORDER BY created_at`)
	}
	return s.listTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE created_at >= $1 ORDER BY created_at`, since)
}

// --- Atomic commits ---

func (s *PostgresStore) ApplyTrade(ctx context.Context, c TradeCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE markets
		 SET q_yes = $2::NUMERIC, q_no = $3::NUMERIC,
		     price_yes = $4::NUMERIC, price_no = $5::NUMERIC,
		     volume = $6::NUMERIC
		 WHERE id = $1`,
		c.Market.ID, c.Market.QYes.String(), c.Market.QNo.String(),
		c.Market.PriceYes.String(), c.Market.PriceNo.String(),
		c.Market.Volume.String()); err != nil {
		return fmt.Errorf("apply trade: update market: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET balance = $2::NUMERIC WHERE id = $1`,
		c.User.ID, c.User.Balance.String()); err != nil {
		return fmt.Errorf("apply trade: update balance: %w", err)
	}

	if err := upsertPosition(ctx, tx, c.Position); err != nil {
		return fmt.Errorf("apply trade: upsert position: %w", err)
	}

	if err := insertTrade(ctx, tx, c.Trade); err != nil {
		return fmt.Errorf("apply trade: insert trade: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ApplySettlement(ctx context.Context, c SettlementCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var resolution *string
	if c.Market.Resolution != nil {
		r := string(*c.Market.Resolution)
		resolution = &r
	}

	if _, err := tx.Exec(ctx,
		`UPDATE markets SET status = $2, resolution = $3, resolved_at = $4 WHERE id = $1`,
		c.Market.ID, c.Market.Status, resolution, c.Market.ResolvedAt); err != nil {
		return fmt.Errorf("apply settlement: update market: %w", err)
	}

	for _, u := range c.Users {
		if _, err := tx.Exec(ctx,
			`UPDATE users SET balance = $2::NUMERIC WHERE id = $1`,
			u.ID, u.Balance.String()); err != nil {
			return fmt.Errorf("apply settlement: update balance: %w", err)
		}
	}

	for _, p := range c.Positions {
		if err := upsertPosition(ctx, tx, p); err != nil {
			return fmt.Errorf("apply settlement: upsert position: %w", err)
		}
	}

	for _, tr := range c.Trades {
		if err := insertTrade(ctx, tx, tr); err != nil {
			return fmt.Errorf("apply settlement: insert trade: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func upsertPosition(ctx context.Context, tx pgx.Tx, p *model.Position) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, side, shares, cost_basis, created_at, updated_at,
		                        settled_at, settled_shares, payout, realized_pnl)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC)
		 ON CONFLICT (user_id, market_id, side) DO UPDATE SET
		   shares = EXCLUDED.shares,
		   cost_basis = EXCLUDED.cost_basis,
		   updated_at = EXCLUDED.updated_at,
		   settled_at = EXCLUDED.settled_at,
		   settled_shares = EXCLUDED.settled_shares,
		   payout = EXCLUDED.payout,
		   realized_pnl = EXCLUDED.realized_pnl`,
		p.UserID, p.MarketID, p.Side,
		p.Shares.String(), p.CostBasis.String(), p.CreatedAt, p.UpdatedAt,
		p.SettledAt, p.SettledShares.String(), p.Payout.String(), p.RealizedPnL.String())
	return err
}

func insertTrade(ctx context.Context, tx pgx.Tx, tr *model.Trade) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO trades (id, market_id, user_id, side, action, shares, credits, price_per_share, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		tr.ID, tr.MarketID, tr.UserID, tr.Side, tr.Action,
		tr.Shares.String(), tr.Credits.String(), tr.PricePerShare.String(), tr.CreatedAt)
	return err
}
