// Package storage defines the repository contract shared by the embedded
// SQLite backend and the hosted Postgres backend.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ypeikes18/kalshi-screener/internal/models"
)

// ErrNotFound is returned when a watchlist item does not exist.
var ErrNotFound = errors.New("storage: not found")

// StorageError wraps a backend fault (connectivity, constraint violation).
// Backend errors are never swallowed; callers decide how to surface them.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// WatchlistUpdate carries a partial update; nil fields are left unchanged.
type WatchlistUpdate struct {
	Query  *string
	Active *bool
}

// DefaultMatchLimit bounds ListMatches when the caller passes no limit.
const DefaultMatchLimit = 200

// Repository is the durable storage abstraction. Both backends satisfy
// identical semantics: ordering, cascade deletes, and at-most-one-row upsert
// on (watchlist_id, market_ticker).
type Repository interface {
	ListWatchlist(ctx context.Context) ([]models.WatchlistItem, error)
	ListActiveWatchlist(ctx context.Context) ([]models.WatchlistItem, error)
	GetWatchlistItem(ctx context.Context, id int64) (*models.WatchlistItem, error)
	CreateWatchlistItem(ctx context.Context, query string) (*models.WatchlistItem, error)
	UpdateWatchlistItem(ctx context.Context, id int64, updates WatchlistUpdate) (*models.WatchlistItem, error)
	DeleteWatchlistItem(ctx context.Context, id int64) error

	ListMatches(ctx context.Context, limit int) ([]models.Match, error)
	UpsertMatch(ctx context.Context, input models.MatchInput) error
	MarkMatchesSeen(ctx context.Context, ids []int64) error

	Close() error
}
