// Package poller executes one end-to-end scan cycle: load active watchlist
// queries, page through open events, batch them for semantic matching, fetch
// concrete markets for matched events, and upsert match rows.
package poller

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ypeikes18/kalshi-screener/internal/cache"
	"github.com/ypeikes18/kalshi-screener/internal/kalshi"
	"github.com/ypeikes18/kalshi-screener/internal/logging"
	"github.com/ypeikes18/kalshi-screener/internal/matcher"
	"github.com/ypeikes18/kalshi-screener/internal/models"
	"github.com/ypeikes18/kalshi-screener/internal/storage"
)

// Exchange is the slice of the exchange client the poller needs.
type Exchange interface {
	FetchEvents(ctx context.Context, cursor string, limit int) (*kalshi.EventsPage, error)
	FetchMarketsByEvent(ctx context.Context, eventTicker string) ([]kalshi.Market, error)
}

// Matcher decides which markets are relevant to which queries.
type Matcher interface {
	Match(ctx context.Context, queries []matcher.Query, markets []models.MarketSummary) ([]matcher.Pair, error)
}

// MatchPublisher fans upserted matches out to downstream consumers.
type MatchPublisher interface {
	Publish(ctx context.Context, inputs []models.MatchInput) error
}

// Report summarizes one poll cycle.
type Report struct {
	Message       string `json:"message"`
	EventsChecked int    `json:"events_checked"`
	Matched       int    `json:"matched"`
}

// Config wires a Runner. Repo, Exchange, and Matcher are required; Lock and
// Publisher are optional.
type Config struct {
	Repo      storage.Repository
	Exchange  Exchange
	Matcher   Matcher
	Lock      cache.PollLock
	Publisher MatchPublisher

	MaxPages     int           // event pages per cycle, default 10
	PageSize     int           // events per page, default 200
	BatchSize    int           // markets per matcher call, default 200
	PageThrottle time.Duration // optional delay between page fetches
	Budget       time.Duration // wall-clock cap for a cycle, default 90s
}

// Runner executes poll cycles. At most one cycle runs at a time; overlapping
// calls are refused, not queued.
type Runner struct {
	cfg     Config
	running atomic.Bool
}

// NewRunner validates required collaborators and builds a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("poller: repository is required")
	}
	if cfg.Exchange == nil {
		return nil, fmt.Errorf("poller: exchange client is required")
	}
	if cfg.Matcher == nil {
		return nil, fmt.Errorf("poller: matcher is required")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 90 * time.Second
	}
	return &Runner{cfg: cfg}, nil
}

// Run executes one scan cycle. It never panics or propagates unexpected
// faults upward: a failed run yields a zero-match report with a descriptive
// message, a partially failed run yields whatever it collected.
func (r *Runner) Run(ctx context.Context) Report {
	if !r.running.CompareAndSwap(false, true) {
		return Report{Message: "Poll already running"}
	}
	defer r.running.Store(false)

	if r.cfg.Lock != nil {
		release, ok, err := r.cfg.Lock.TryAcquire(ctx)
		if err != nil {
			logging.Warnf("[poller] lock check failed, proceeding without it: %v", err)
		} else if !ok {
			return Report{Message: "Poll already running"}
		} else {
			defer release()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Budget)
	defer cancel()

	items, err := r.cfg.Repo.ListActiveWatchlist(ctx)
	if err != nil {
		logging.Errorf("[poller] load watchlist: %v", err)
		return Report{Message: fmt.Sprintf("Poll failed: %v", err)}
	}
	if len(items) == 0 {
		return Report{Message: "No active watchlist items"}
	}

	queries := make([]matcher.Query, 0, len(items))
	for _, item := range items {
		queries = append(queries, matcher.Query{WatchlistID: item.ID, Text: item.Query})
	}

	events := r.collectEvents(ctx)
	if len(events) == 0 {
		return Report{Message: "No events found"}
	}

	summaries := make([]models.MarketSummary, 0, len(events))
	for _, ev := range events {
		summaries = append(summaries, ev.Summary())
	}

	matched := 0
	for start := 0; start < len(summaries); start += r.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + r.cfg.BatchSize
		if end > len(summaries) {
			end = len(summaries)
		}

		pairs, err := r.cfg.Matcher.Match(ctx, queries, summaries[start:end])
		if err != nil {
			logging.Errorf("[poller] match batch %d-%d: %v", start, end, err)
			continue
		}
		matched += r.upsertPairs(ctx, pairs)
	}

	msg := fmt.Sprintf("Poll complete. Checked %d events.", len(events))
	if ctx.Err() != nil {
		msg = fmt.Sprintf("Poll interrupted. Checked %d events.", len(events))
	}
	return Report{Message: msg, EventsChecked: len(events), Matched: matched}
}

// collectEvents pages through open events up to the configured caps. A page
// fetch failure stops paging and keeps what was collected so far.
func (r *Runner) collectEvents(ctx context.Context) []kalshi.Event {
	var events []kalshi.Event
	cursor := ""
	for i := 0; i < r.cfg.MaxPages; i++ {
		if ctx.Err() != nil {
			break
		}
		page, err := r.cfg.Exchange.FetchEvents(ctx, cursor, r.cfg.PageSize)
		if err != nil {
			logging.Errorf("[poller] events page %d: %v", i, err)
			break
		}
		events = append(events, page.Events...)
		if page.Cursor == "" || len(page.Events) == 0 {
			break
		}
		cursor = page.Cursor

		if r.cfg.PageThrottle > 0 {
			select {
			case <-time.After(r.cfg.PageThrottle):
			case <-ctx.Done():
				return events
			}
		}
	}
	return events
}

// upsertPairs fetches concrete markets per matched event, keeps only active
// markets, and upserts each as a Match. Per-event failures are logged and
// skipped; they never abort the batch.
func (r *Runner) upsertPairs(ctx context.Context, pairs []matcher.Pair) int {
	matched := 0
	for _, pair := range pairs {
		if ctx.Err() != nil {
			break
		}
		markets, err := r.cfg.Exchange.FetchMarketsByEvent(ctx, pair.Market.EventTicker)
		if err != nil {
			logging.Errorf("[poller] fetch markets for %s: %v", pair.Market.EventTicker, err)
			continue
		}

		var published []models.MatchInput
		for _, m := range markets {
			if m.Status != "active" {
				continue
			}
			input := models.MatchInput{
				WatchlistID:  pair.WatchlistID,
				MarketTicker: m.Ticker,
				EventTicker:  m.EventTicker,
				Title:        m.Title,
				Subtitle:     m.Subtitle,
				Category:     pair.Market.Category,
				YesBid:       m.YesBid,
				YesAsk:       m.YesAsk,
				NoBid:        m.NoBid,
				NoAsk:        m.NoAsk,
				Volume:       m.Volume,
			}
			if err := r.cfg.Repo.UpsertMatch(ctx, input); err != nil {
				logging.Errorf("[poller] upsert match %s: %v", m.Ticker, err)
				continue
			}
			matched++
			published = append(published, input)
		}

		if r.cfg.Publisher != nil && len(published) > 0 {
			if err := r.cfg.Publisher.Publish(ctx, published); err != nil {
				logging.Warnf("[poller] publish matches for %s: %v", pair.Market.EventTicker, err)
			}
		}
	}
	return matched
}
