// Package postgres is the hosted repository backend, implemented over a
// pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ypeikes18/kalshi-screener/internal/models"
	"github.com/ypeikes18/kalshi-screener/internal/storage"
)

// Store implements storage.Repository using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database at dsn and pings it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres: DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS watchlist (
	id BIGSERIAL PRIMARY KEY,
	query TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE TABLE IF NOT EXISTS matches (
	id BIGSERIAL PRIMARY KEY,
	watchlist_id BIGINT NOT NULL REFERENCES watchlist(id) ON DELETE CASCADE,
	market_ticker TEXT NOT NULL,
	event_ticker TEXT NOT NULL,
	title TEXT NOT NULL,
	subtitle TEXT,
	category TEXT,
	yes_bid BIGINT,
	yes_ask BIGINT,
	no_bid BIGINT,
	no_ask BIGINT,
	volume BIGINT,
	matched_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	seen BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE(watchlist_id, market_ticker)
);
CREATE INDEX IF NOT EXISTS matches_watchlist_idx ON matches(watchlist_id);
`

// CreateTables ensures the watchlist and matches tables exist.
func (s *Store) CreateTables(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return &storage.StorageError{Op: "create tables", Err: err}
	}
	return nil
}

func (s *Store) ListWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	return s.queryWatchlist(ctx,
		`SELECT id, query, created_at, active FROM watchlist ORDER BY created_at DESC, id DESC`)
}

func (s *Store) ListActiveWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	return s.queryWatchlist(ctx,
		`SELECT id, query, created_at, active FROM watchlist WHERE active ORDER BY created_at DESC, id DESC`)
}

func (s *Store) queryWatchlist(ctx context.Context, query string, args ...any) ([]models.WatchlistItem, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &storage.StorageError{Op: "list watchlist", Err: err}
	}
	defer rows.Close()

	var items []models.WatchlistItem
	for rows.Next() {
		var item models.WatchlistItem
		if err := rows.Scan(&item.ID, &item.Query, &item.CreatedAt, &item.Active); err != nil {
			return nil, &storage.StorageError{Op: "scan watchlist row", Err: err}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.StorageError{Op: "iterate watchlist rows", Err: err}
	}
	return items, nil
}

func (s *Store) GetWatchlistItem(ctx context.Context, id int64) (*models.WatchlistItem, error) {
	var item models.WatchlistItem
	err := s.pool.QueryRow(ctx,
		`SELECT id, query, created_at, active FROM watchlist WHERE id = $1`, id,
	).Scan(&item.ID, &item.Query, &item.CreatedAt, &item.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, &storage.StorageError{Op: "get watchlist item", Err: err}
	}
	return &item, nil
}

func (s *Store) CreateWatchlistItem(ctx context.Context, query string) (*models.WatchlistItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &storage.StorageError{Op: "create watchlist item", Err: fmt.Errorf("query must not be empty")}
	}
	var item models.WatchlistItem
	err := s.pool.QueryRow(ctx,
		`INSERT INTO watchlist (query) VALUES ($1) RETURNING id, query, created_at, active`, query,
	).Scan(&item.ID, &item.Query, &item.CreatedAt, &item.Active)
	if err != nil {
		return nil, &storage.StorageError{Op: "create watchlist item", Err: err}
	}
	return &item, nil
}

func (s *Store) UpdateWatchlistItem(ctx context.Context, id int64, updates storage.WatchlistUpdate) (*models.WatchlistItem, error) {
	if updates.Query != nil {
		if _, err := s.pool.Exec(ctx, `UPDATE watchlist SET query = $1 WHERE id = $2`, strings.TrimSpace(*updates.Query), id); err != nil {
			return nil, &storage.StorageError{Op: "update watchlist query", Err: err}
		}
	}
	if updates.Active != nil {
		if _, err := s.pool.Exec(ctx, `UPDATE watchlist SET active = $1 WHERE id = $2`, *updates.Active, id); err != nil {
			return nil, &storage.StorageError{Op: "update watchlist active", Err: err}
		}
	}
	return s.GetWatchlistItem(ctx, id)
}

func (s *Store) DeleteWatchlistItem(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &storage.StorageError{Op: "delete watchlist item", Err: err}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM matches WHERE watchlist_id = $1`, id); err != nil {
		_ = tx.Rollback(ctx)
		return &storage.StorageError{Op: "delete matches for watchlist item", Err: err}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM watchlist WHERE id = $1`, id); err != nil {
		_ = tx.Rollback(ctx)
		return &storage.StorageError{Op: "delete watchlist item", Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &storage.StorageError{Op: "delete watchlist item", Err: err}
	}
	return nil
}

func (s *Store) ListMatches(ctx context.Context, limit int) ([]models.Match, error) {
	if limit <= 0 || limit > storage.DefaultMatchLimit {
		limit = storage.DefaultMatchLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.watchlist_id, m.market_ticker, m.event_ticker, m.title,
			m.subtitle, m.category, m.yes_bid, m.yes_ask, m.no_bid, m.no_ask,
			m.volume, m.matched_at, m.seen, w.query
		FROM matches m
		JOIN watchlist w ON m.watchlist_id = w.id
		ORDER BY m.matched_at DESC, m.id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, &storage.StorageError{Op: "list matches", Err: err}
	}
	defer rows.Close()

	var out []models.Match
	for rows.Next() {
		var m models.Match
		err := rows.Scan(
			&m.ID, &m.WatchlistID, &m.MarketTicker, &m.EventTicker, &m.Title,
			&m.Subtitle, &m.Category, &m.YesBid, &m.YesAsk, &m.NoBid, &m.NoAsk,
			&m.Volume, &m.MatchedAt, &m.Seen, &m.Query,
		)
		if err != nil {
			return nil, &storage.StorageError{Op: "scan match row", Err: err}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.StorageError{Op: "iterate match rows", Err: err}
	}
	return out, nil
}

const upsertMatchSQL = `
INSERT INTO matches (
	watchlist_id, market_ticker, event_ticker, title, subtitle, category,
	yes_bid, yes_ask, no_bid, no_ask, volume, matched_at, seen
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),FALSE)
ON CONFLICT (watchlist_id, market_ticker) DO UPDATE SET
	event_ticker = EXCLUDED.event_ticker,
	title        = EXCLUDED.title,
	subtitle     = EXCLUDED.subtitle,
	category     = EXCLUDED.category,
	yes_bid      = EXCLUDED.yes_bid,
	yes_ask      = EXCLUDED.yes_ask,
	no_bid       = EXCLUDED.no_bid,
	no_ask       = EXCLUDED.no_ask,
	volume       = EXCLUDED.volume,
	matched_at   = NOW()`

func (s *Store) UpsertMatch(ctx context.Context, input models.MatchInput) error {
	_, err := s.pool.Exec(ctx, upsertMatchSQL,
		input.WatchlistID,
		input.MarketTicker,
		input.EventTicker,
		input.Title,
		input.Subtitle,
		input.Category,
		input.YesBid,
		input.YesAsk,
		input.NoBid,
		input.NoAsk,
		input.Volume,
	)
	if err != nil {
		return &storage.StorageError{Op: fmt.Sprintf("upsert match %s", input.MarketTicker), Err: err}
	}
	return nil
}

func (s *Store) MarkMatchesSeen(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `UPDATE matches SET seen = TRUE WHERE id = ANY($1)`, ids); err != nil {
		return &storage.StorageError{Op: "mark matches seen", Err: err}
	}
	return nil
}

var _ storage.Repository = (*Store)(nil)
