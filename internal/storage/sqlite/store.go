// Package sqlite is the embedded repository backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ypeikes18/kalshi-screener/internal/models"
	"github.com/ypeikes18/kalshi-screener/internal/storage"
)

const defaultPath = "data/screener.db"

// Store wraps a SQLite DB connection.
type Store struct {
	path string
	db   *sql.DB
}

// Open creates (if needed) and opens the SQLite database.
func Open(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := ensureWAL(db); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	return &Store{path: path, db: db}, nil
}

func ensureWAL(db *sql.DB) error {
	const (
		maxAttempts = 5
		delay       = 200 * time.Millisecond
	)
	for i := 0; i < maxAttempts; i++ {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			if strings.Contains(err.Error(), "database is locked") {
				time.Sleep(delay)
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("database is locked after retries")
}

// Path returns the path backing the store.
func (s *Store) Path() string {
	return s.path
}

// Close closes the DB.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS watchlist (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	created_at TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS matches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	watchlist_id INTEGER NOT NULL,
	market_ticker TEXT NOT NULL,
	event_ticker TEXT NOT NULL,
	title TEXT NOT NULL,
	subtitle TEXT,
	category TEXT,
	yes_bid INTEGER,
	yes_ask INTEGER,
	no_bid INTEGER,
	no_ask INTEGER,
	volume INTEGER,
	matched_at TEXT NOT NULL,
	seen INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (watchlist_id) REFERENCES watchlist(id) ON DELETE CASCADE,
	UNIQUE(watchlist_id, market_ticker)
);
CREATE INDEX IF NOT EXISTS matches_watchlist_idx ON matches(watchlist_id);
`

// CreateTables ensures the watchlist and matches tables exist.
func (s *Store) CreateTables(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return &storage.StorageError{Op: "create tables", Err: err}
	}
	return nil
}

// DropTables removes both tables.
func (s *Store) DropTables(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS matches; DROP TABLE IF EXISTS watchlist;`); err != nil {
		return &storage.StorageError{Op: "drop tables", Err: err}
	}
	return nil
}

const watchlistCols = `id, query, created_at, active`

func (s *Store) ListWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	return s.queryWatchlist(ctx, `SELECT `+watchlistCols+` FROM watchlist ORDER BY created_at DESC, id DESC`)
}

func (s *Store) ListActiveWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	return s.queryWatchlist(ctx, `SELECT `+watchlistCols+` FROM watchlist WHERE active = 1 ORDER BY created_at DESC, id DESC`)
}

func (s *Store) queryWatchlist(ctx context.Context, query string, args ...any) ([]models.WatchlistItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &storage.StorageError{Op: "list watchlist", Err: err}
	}
	defer rows.Close()

	var items []models.WatchlistItem
	for rows.Next() {
		item, err := scanWatchlistItem(rows)
		if err != nil {
			return nil, &storage.StorageError{Op: "scan watchlist row", Err: err}
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.StorageError{Op: "iterate watchlist rows", Err: err}
	}
	return items, nil
}

func (s *Store) GetWatchlistItem(ctx context.Context, id int64) (*models.WatchlistItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+watchlistCols+` FROM watchlist WHERE id = ?`, id)
	item, err := scanWatchlistItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, &storage.StorageError{Op: "get watchlist item", Err: err}
	}
	return item, nil
}

func (s *Store) CreateWatchlistItem(ctx context.Context, query string) (*models.WatchlistItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &storage.StorageError{Op: "create watchlist item", Err: fmt.Errorf("query must not be empty")}
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO watchlist (query, created_at, active) VALUES (?, ?, 1)`,
		query, formatTime(now),
	)
	if err != nil {
		return nil, &storage.StorageError{Op: "create watchlist item", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, &storage.StorageError{Op: "create watchlist item", Err: err}
	}
	return s.GetWatchlistItem(ctx, id)
}

func (s *Store) UpdateWatchlistItem(ctx context.Context, id int64, updates storage.WatchlistUpdate) (*models.WatchlistItem, error) {
	if updates.Query != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE watchlist SET query = ? WHERE id = ?`, strings.TrimSpace(*updates.Query), id); err != nil {
			return nil, &storage.StorageError{Op: "update watchlist query", Err: err}
		}
	}
	if updates.Active != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE watchlist SET active = ? WHERE id = ?`, boolToInt(*updates.Active), id); err != nil {
			return nil, &storage.StorageError{Op: "update watchlist active", Err: err}
		}
	}
	return s.GetWatchlistItem(ctx, id)
}

// DeleteWatchlistItem removes the item and all matches referencing it.
// Matches go first so a failure cannot leave dangling rows.
func (s *Store) DeleteWatchlistItem(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &storage.StorageError{Op: "delete watchlist item", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE watchlist_id = ?`, id); err != nil {
		tx.Rollback()
		return &storage.StorageError{Op: "delete matches for watchlist item", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM watchlist WHERE id = ?`, id); err != nil {
		tx.Rollback()
		return &storage.StorageError{Op: "delete watchlist item", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &storage.StorageError{Op: "delete watchlist item", Err: err}
	}
	return nil
}

func (s *Store) ListMatches(ctx context.Context, limit int) ([]models.Match, error) {
	if limit <= 0 || limit > storage.DefaultMatchLimit {
		limit = storage.DefaultMatchLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.watchlist_id, m.market_ticker, m.event_ticker, m.title,
			m.subtitle, m.category, m.yes_bid, m.yes_ask, m.no_bid, m.no_ask,
			m.volume, m.matched_at, m.seen, w.query
		FROM matches m
		JOIN watchlist w ON m.watchlist_id = w.id
		ORDER BY m.matched_at DESC, m.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, &storage.StorageError{Op: "list matches", Err: err}
	}
	defer rows.Close()

	var out []models.Match
	for rows.Next() {
		var m models.Match
		var matchedAt string
		var seen int
		err := rows.Scan(
			&m.ID, &m.WatchlistID, &m.MarketTicker, &m.EventTicker, &m.Title,
			&m.Subtitle, &m.Category, &m.YesBid, &m.YesAsk, &m.NoBid, &m.NoAsk,
			&m.Volume, &matchedAt, &seen, &m.Query,
		)
		if err != nil {
			return nil, &storage.StorageError{Op: "scan match row", Err: err}
		}
		m.MatchedAt = parseTime(matchedAt)
		m.Seen = seen != 0
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
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,0)
ON CONFLICT(watchlist_id, market_ticker) DO UPDATE SET
	event_ticker=excluded.event_ticker,
	title=excluded.title,
	subtitle=excluded.subtitle,
	category=excluded.category,
	yes_bid=excluded.yes_bid,
	yes_ask=excluded.yes_ask,
	no_bid=excluded.no_bid,
	no_ask=excluded.no_ask,
	volume=excluded.volume,
	matched_at=excluded.matched_at;
`

func (s *Store) UpsertMatch(ctx context.Context, input models.MatchInput) error {
	now := formatTime(time.Now().UTC())
	_, err := s.db.ExecContext(ctx, upsertMatchSQL,
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
		now,
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &storage.StorageError{Op: "mark matches seen", Err: err}
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE matches SET seen = 1 WHERE id = ?`)
	if err != nil {
		tx.Rollback()
		return &storage.StorageError{Op: "mark matches seen", Err: err}
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			tx.Rollback()
			return &storage.StorageError{Op: "mark matches seen", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &storage.StorageError{Op: "mark matches seen", Err: err}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWatchlistItem(row rowScanner) (*models.WatchlistItem, error) {
	var item models.WatchlistItem
	var createdAt string
	var active int
	if err := row.Scan(&item.ID, &item.Query, &createdAt, &active); err != nil {
		return nil, err
	}
	item.CreatedAt = parseTime(createdAt)
	item.Active = active != 0
	return &item, nil
}

// timeLayout pads the fraction to nine digits so lexicographic order on the
// TEXT columns matches chronological order. RFC3339Nano trims trailing zeros,
// which makes "…00.12Z" sort after "…00.125Z".
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ storage.Repository = (*Store)(nil)
