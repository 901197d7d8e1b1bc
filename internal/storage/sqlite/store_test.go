package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ypeikes18/kalshi-screener/internal/models"
	"github.com/ypeikes18/kalshi-screener/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "screener.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.CreateTables(context.Background()); err != nil {
		t.Fatalf("CreateTables: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func matchInput(watchlistID int64, ticker string) models.MatchInput {
	return models.MatchInput{
		WatchlistID:  watchlistID,
		MarketTicker: ticker,
		EventTicker:  "FED-CUT",
		Title:        "Cut in March",
		Subtitle:     "25bps",
		Category:     "Economics",
		YesBid:       60,
		YesAsk:       65,
		NoBid:        35,
		NoAsk:        40,
		Volume:       1200,
	}
}

func TestCreateAndGetWatchlistItem(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item, err := s.CreateWatchlistItem(ctx, "  Fed rate cuts  ")
	if err != nil {
		t.Fatalf("CreateWatchlistItem: %v", err)
	}
	if item.Query != "Fed rate cuts" {
		t.Fatalf("query not trimmed: %q", item.Query)
	}
	if !item.Active {
		t.Fatalf("new item should be active")
	}
	if item.CreatedAt.IsZero() {
		t.Fatalf("created_at not set")
	}

	got, err := s.GetWatchlistItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetWatchlistItem: %v", err)
	}
	if got.ID != item.ID || got.Query != item.Query {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, item)
	}
}

func TestCreateWatchlistItemRejectsBlankQuery(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateWatchlistItem(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for blank query")
	}
}

func TestGetWatchlistItemNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetWatchlistItem(context.Background(), 9999)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListActiveWatchlistFiltersInactive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, _ := s.CreateWatchlistItem(ctx, "rates")
	b, _ := s.CreateWatchlistItem(ctx, "weather")

	off := false
	if _, err := s.UpdateWatchlistItem(ctx, b.ID, storage.WatchlistUpdate{Active: &off}); err != nil {
		t.Fatalf("UpdateWatchlistItem: %v", err)
	}

	active, err := s.ListActiveWatchlist(ctx)
	if err != nil {
		t.Fatalf("ListActiveWatchlist: %v", err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Fatalf("expected only %d active, got %+v", a.ID, active)
	}

	all, err := s.ListWatchlist(ctx)
	if err != nil {
		t.Fatalf("ListWatchlist: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both rows, got %d", len(all))
	}
}

func TestListWatchlistNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, _ := s.CreateWatchlistItem(ctx, "first")
	time.Sleep(10 * time.Millisecond)
	second, _ := s.CreateWatchlistItem(ctx, "second")

	items, err := s.ListWatchlist(ctx)
	if err != nil {
		t.Fatalf("ListWatchlist: %v", err)
	}
	if len(items) != 2 || items[0].ID != second.ID || items[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", items)
	}
}

func TestUpdateWatchlistItemPartial(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item, _ := s.CreateWatchlistItem(ctx, "rates")

	q := "Fed rate cuts 2026"
	updated, err := s.UpdateWatchlistItem(ctx, item.ID, storage.WatchlistUpdate{Query: &q})
	if err != nil {
		t.Fatalf("UpdateWatchlistItem: %v", err)
	}
	if updated.Query != q || !updated.Active {
		t.Fatalf("query update must not touch active: %+v", updated)
	}

	off := false
	updated, err = s.UpdateWatchlistItem(ctx, item.ID, storage.WatchlistUpdate{Active: &off})
	if err != nil {
		t.Fatalf("UpdateWatchlistItem: %v", err)
	}
	if updated.Active || updated.Query != q {
		t.Fatalf("active update must not touch query: %+v", updated)
	}
}

func TestUpdateWatchlistItemNotFound(t *testing.T) {
	s := openTestStore(t)

	q := "anything"
	_, err := s.UpdateWatchlistItem(context.Background(), 9999, storage.WatchlistUpdate{Query: &q})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteWatchlistItemCascadesMatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	keep, _ := s.CreateWatchlistItem(ctx, "keep")
	gone, _ := s.CreateWatchlistItem(ctx, "gone")

	if err := s.UpsertMatch(ctx, matchInput(keep.ID, "M-KEEP")); err != nil {
		t.Fatalf("UpsertMatch: %v", err)
	}
	if err := s.UpsertMatch(ctx, matchInput(gone.ID, "M-GONE")); err != nil {
		t.Fatalf("UpsertMatch: %v", err)
	}

	if err := s.DeleteWatchlistItem(ctx, gone.ID); err != nil {
		t.Fatalf("DeleteWatchlistItem: %v", err)
	}

	matches, err := s.ListMatches(ctx, 0)
	if err != nil {
		t.Fatalf("ListMatches: %v", err)
	}
	if len(matches) != 1 || matches[0].WatchlistID != keep.ID {
		t.Fatalf("expected only the surviving item's match, got %+v", matches)
	}
}

func TestUpsertMatchIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item, _ := s.CreateWatchlistItem(ctx, "rates")

	in := matchInput(item.ID, "FED-CUT-MAR")
	if err := s.UpsertMatch(ctx, in); err != nil {
		t.Fatalf("UpsertMatch: %v", err)
	}

	first, _ := s.ListMatches(ctx, 0)
	if len(first) != 1 {
		t.Fatalf("expected one row, got %d", len(first))
	}

	time.Sleep(10 * time.Millisecond)
	in.YesBid = 70
	if err := s.UpsertMatch(ctx, in); err != nil {
		t.Fatalf("second UpsertMatch: %v", err)
	}

	second, _ := s.ListMatches(ctx, 0)
	if len(second) != 1 {
		t.Fatalf("re-upsert must not add rows, got %d", len(second))
	}
	if second[0].ID != first[0].ID {
		t.Fatalf("row identity changed: %d vs %d", second[0].ID, first[0].ID)
	}
	if second[0].YesBid == nil || *second[0].YesBid != 70 {
		t.Fatalf("prices not refreshed: %+v", second[0])
	}
	if !second[0].MatchedAt.After(first[0].MatchedAt) {
		t.Fatalf("matched_at not refreshed: %v vs %v", second[0].MatchedAt, first[0].MatchedAt)
	}
}

func TestListMatchesJoinsWatchlistQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item, _ := s.CreateWatchlistItem(ctx, "Fed rate cuts")
	if err := s.UpsertMatch(ctx, matchInput(item.ID, "FED-CUT-MAR")); err != nil {
		t.Fatalf("UpsertMatch: %v", err)
	}

	matches, err := s.ListMatches(ctx, 0)
	if err != nil {
		t.Fatalf("ListMatches: %v", err)
	}
	m := matches[0]
	if m.Query != "Fed rate cuts" {
		t.Fatalf("join query missing: %+v", m)
	}
	if m.YesBid == nil || *m.YesBid != 60 || m.YesAsk == nil || *m.YesAsk != 65 {
		t.Fatalf("prices not persisted: %+v", m)
	}
	if m.Category == nil || *m.Category != "Economics" {
		t.Fatalf("category not persisted: %+v", m)
	}
	if m.Seen {
		t.Fatalf("new match must start unseen")
	}
}

func TestListMatchesOrdersSubSecondNeighbors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item, _ := s.CreateWatchlistItem(ctx, "rates")

	// 0.12s vs 0.125s: with a trimmed fraction the older string would sort
	// after the newer one ('Z' > '5').
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := base.Add(120 * time.Millisecond)
	newer := base.Add(125 * time.Millisecond)

	if len(formatTime(older)) != len(formatTime(newer)) {
		t.Fatalf("timestamps must be fixed width: %q vs %q", formatTime(older), formatTime(newer))
	}

	insert := func(ticker string, at time.Time) {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO matches (watchlist_id, market_ticker, event_ticker, title, matched_at, seen) VALUES (?,?,?,?,?,0)`,
			item.ID, ticker, "FED-CUT", "Cut in March", formatTime(at))
		if err != nil {
			t.Fatalf("insert %s: %v", ticker, err)
		}
	}
	insert("M-OLD", older)
	insert("M-NEW", newer)

	matches, err := s.ListMatches(ctx, 0)
	if err != nil {
		t.Fatalf("ListMatches: %v", err)
	}
	if len(matches) != 2 || matches[0].MarketTicker != "M-NEW" {
		t.Fatalf("expected most recent first, got %+v", matches)
	}
	if !matches[0].MatchedAt.After(matches[1].MatchedAt) {
		t.Fatalf("matched_at round trip lost ordering: %v vs %v", matches[0].MatchedAt, matches[1].MatchedAt)
	}
}

func TestListMatchesHonorsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item, _ := s.CreateWatchlistItem(ctx, "rates")
	for i := 0; i < 5; i++ {
		in := matchInput(item.ID, "M-"+string(rune('A'+i)))
		if err := s.UpsertMatch(ctx, in); err != nil {
			t.Fatalf("UpsertMatch: %v", err)
		}
	}

	matches, err := s.ListMatches(ctx, 3)
	if err != nil {
		t.Fatalf("ListMatches: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(matches))
	}
}

func TestMarkMatchesSeenTouchesOnlyGivenIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item, _ := s.CreateWatchlistItem(ctx, "rates")
	for _, ticker := range []string{"M-A", "M-B", "M-C"} {
		if err := s.UpsertMatch(ctx, matchInput(item.ID, ticker)); err != nil {
			t.Fatalf("UpsertMatch: %v", err)
		}
	}

	all, _ := s.ListMatches(ctx, 0)
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}

	if err := s.MarkMatchesSeen(ctx, []int64{all[0].ID, all[2].ID}); err != nil {
		t.Fatalf("MarkMatchesSeen: %v", err)
	}

	after, _ := s.ListMatches(ctx, 0)
	seen := make(map[int64]bool, len(after))
	for _, m := range after {
		seen[m.ID] = m.Seen
	}
	if !seen[all[0].ID] || !seen[all[2].ID] {
		t.Fatalf("requested ids not marked seen: %v", seen)
	}
	if seen[all[1].ID] {
		t.Fatalf("untouched id was marked seen: %v", seen)
	}
}

func TestMarkMatchesSeenEmptyIsNoop(t *testing.T) {
	s := openTestStore(t)

	if err := s.MarkMatchesSeen(context.Background(), nil); err != nil {
		t.Fatalf("MarkMatchesSeen(nil): %v", err)
	}
}
