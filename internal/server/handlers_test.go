package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ypeikes18/kalshi-screener/internal/models"
	"github.com/ypeikes18/kalshi-screener/internal/poller"
	"github.com/ypeikes18/kalshi-screener/internal/storage"
)

type stubRepo struct {
	items   []models.WatchlistItem
	matches []models.Match

	created     string
	deletedID   int64
	seenIDs     []int64
	matchLimit  int
	lastUpdate  storage.WatchlistUpdate
	updateID    int64
	notFoundIDs map[int64]bool
}

func (r *stubRepo) ListWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	return r.items, nil
}

func (r *stubRepo) ListActiveWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	return r.items, nil
}

func (r *stubRepo) GetWatchlistItem(ctx context.Context, id int64) (*models.WatchlistItem, error) {
	return nil, storage.ErrNotFound
}

func (r *stubRepo) CreateWatchlistItem(ctx context.Context, query string) (*models.WatchlistItem, error) {
	r.created = query
	return &models.WatchlistItem{ID: 42, Query: strings.TrimSpace(query), CreatedAt: time.Now(), Active: true}, nil
}

func (r *stubRepo) UpdateWatchlistItem(ctx context.Context, id int64, updates storage.WatchlistUpdate) (*models.WatchlistItem, error) {
	if r.notFoundIDs[id] {
		return nil, storage.ErrNotFound
	}
	r.updateID = id
	r.lastUpdate = updates
	return &models.WatchlistItem{ID: id, Query: "updated", Active: true}, nil
}

func (r *stubRepo) DeleteWatchlistItem(ctx context.Context, id int64) error {
	r.deletedID = id
	return nil
}

func (r *stubRepo) ListMatches(ctx context.Context, limit int) ([]models.Match, error) {
	r.matchLimit = limit
	return r.matches, nil
}

func (r *stubRepo) UpsertMatch(ctx context.Context, input models.MatchInput) error { return nil }

func (r *stubRepo) MarkMatchesSeen(ctx context.Context, ids []int64) error {
	r.seenIDs = ids
	return nil
}

func (r *stubRepo) Close() error { return nil }

type stubPoller struct {
	report poller.Report
	runs   int
}

func (p *stubPoller) Run(ctx context.Context) poller.Report {
	p.runs++
	return p.report
}

func doRequest(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := New(&stubRepo{}, &stubPoller{})
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestListWatchlistReturnsEmptyArrayNotNull(t *testing.T) {
	srv := New(&stubRepo{}, &stubPoller{})
	rec := doRequest(t, srv, http.MethodGet, "/watchlist", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", rec.Body.String())
	}
}

func TestCreateWatchlistItem(t *testing.T) {
	repo := &stubRepo{}
	srv := New(repo, &stubPoller{})

	rec := doRequest(t, srv, http.MethodPost, "/watchlist", `{"query":"Fed rate cuts"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.created != "Fed rate cuts" {
		t.Fatalf("repo received %q", repo.created)
	}

	var item models.WatchlistItem
	if err := json.Unmarshal(rec.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if item.ID != 42 || !item.Active {
		t.Fatalf("unexpected item %+v", item)
	}
}

func TestCreateWatchlistItemRejectsBlankQuery(t *testing.T) {
	repo := &stubRepo{}
	srv := New(repo, &stubPoller{})

	rec := doRequest(t, srv, http.MethodPost, "/watchlist", `{"query":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if repo.created != "" {
		t.Fatalf("repo must not be called for a blank query")
	}
}

func TestUpdateWatchlistItemRequiresID(t *testing.T) {
	srv := New(&stubRepo{}, &stubPoller{})

	rec := doRequest(t, srv, http.MethodPatch, "/watchlist", `{"active":false}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateWatchlistItemForwardsPartialUpdate(t *testing.T) {
	repo := &stubRepo{}
	srv := New(repo, &stubPoller{})

	rec := doRequest(t, srv, http.MethodPatch, "/watchlist", `{"id":7,"active":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.updateID != 7 {
		t.Fatalf("wrong id forwarded: %d", repo.updateID)
	}
	if repo.lastUpdate.Query != nil {
		t.Fatalf("query must stay nil on an active-only patch")
	}
	if repo.lastUpdate.Active == nil || *repo.lastUpdate.Active {
		t.Fatalf("active=false not forwarded: %+v", repo.lastUpdate)
	}
}

func TestUpdateWatchlistItemNotFound(t *testing.T) {
	repo := &stubRepo{notFoundIDs: map[int64]bool{99: true}}
	srv := New(repo, &stubPoller{})

	rec := doRequest(t, srv, http.MethodPatch, "/watchlist", `{"id":99,"active":true}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteWatchlistItem(t *testing.T) {
	repo := &stubRepo{}
	srv := New(repo, &stubPoller{})

	rec := doRequest(t, srv, http.MethodDelete, "/watchlist", `{"id":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if repo.deletedID != 5 {
		t.Fatalf("wrong id deleted: %d", repo.deletedID)
	}
}

func TestDeleteWatchlistItemRequiresID(t *testing.T) {
	srv := New(&stubRepo{}, &stubPoller{})

	rec := doRequest(t, srv, http.MethodDelete, "/watchlist", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListMatchesForwardsLimit(t *testing.T) {
	repo := &stubRepo{}
	srv := New(repo, &stubPoller{})

	rec := doRequest(t, srv, http.MethodGet, "/matches?limit=25", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if repo.matchLimit != 25 {
		t.Fatalf("limit not forwarded: %d", repo.matchLimit)
	}
}

func TestListMatchesRejectsBadLimit(t *testing.T) {
	srv := New(&stubRepo{}, &stubPoller{})

	for _, raw := range []string{"0", "-1", "abc"} {
		rec := doRequest(t, srv, http.MethodGet, "/matches?limit="+raw, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s: expected 400, got %d", raw, rec.Code)
		}
	}
}

func TestMarkMatchesSeenRequiresIDs(t *testing.T) {
	repo := &stubRepo{}
	srv := New(repo, &stubPoller{})

	rec := doRequest(t, srv, http.MethodPatch, "/matches", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if repo.seenIDs != nil {
		t.Fatalf("repo must not be called without ids")
	}
}

func TestMarkMatchesSeenForwardsIDs(t *testing.T) {
	repo := &stubRepo{}
	srv := New(repo, &stubPoller{})

	rec := doRequest(t, srv, http.MethodPatch, "/matches", `{"ids":[3,5]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(repo.seenIDs) != 2 || repo.seenIDs[0] != 3 || repo.seenIDs[1] != 5 {
		t.Fatalf("ids not forwarded: %v", repo.seenIDs)
	}
}

func TestMarkMatchesSeenAcceptsEmptyArray(t *testing.T) {
	repo := &stubRepo{}
	srv := New(repo, &stubPoller{})

	rec := doRequest(t, srv, http.MethodPatch, "/matches", `{"ids":[]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("an explicit empty array is a no-op, got %d", rec.Code)
	}
}

func TestPollReturnsReport(t *testing.T) {
	p := &stubPoller{report: poller.Report{Message: "Poll complete. Checked 12 events.", EventsChecked: 12, Matched: 3}}
	srv := New(&stubRepo{}, p)

	rec := doRequest(t, srv, http.MethodPost, "/poll", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if p.runs != 1 {
		t.Fatalf("poller ran %d times", p.runs)
	}

	var body struct {
		Message string `json:"message"`
		Matched int    `json:"matched"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Message != "Poll complete. Checked 12 events." || body.Matched != 3 {
		t.Fatalf("unexpected body %+v", body)
	}
}
