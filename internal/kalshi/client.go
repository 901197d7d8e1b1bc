package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ypeikes18/kalshi-screener/internal/logging"
	"github.com/ypeikes18/kalshi-screener/internal/models"
)

const (
	defaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

	// maxEventPages bounds FetchAllEvents against an upstream that keeps
	// returning cursors.
	maxEventPages = 10
	pageSize      = 200
)

// APIError is returned for non-success HTTP responses from the exchange.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kalshi API status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the Kalshi Trade API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	rateLimitOff time.Duration
}

// Config provides optional overrides.
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	RateLimitBackoff time.Duration
}

// NewClient builds a configured Kalshi API client.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	backoff := cfg.RateLimitBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Client{
		baseURL:      base,
		rateLimitOff: backoff,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Event is one open event listing as returned by /events.
type Event struct {
	EventTicker  string `json:"event_ticker"`
	SeriesTicker string `json:"series_ticker"`
	Title        string `json:"title"`
	SubTitle     string `json:"sub_title"`
	Category     string `json:"category"`
}

// Market is one tradable contract as returned by /markets.
type Market struct {
	Ticker      string `json:"ticker"`
	EventTicker string `json:"event_ticker"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle"`
	Status      string `json:"status"`
	YesBid      int64  `json:"yes_bid"`
	YesAsk      int64  `json:"yes_ask"`
	NoBid       int64  `json:"no_bid"`
	NoAsk       int64  `json:"no_ask"`
	Volume      int64  `json:"volume"`
}

// EventsPage is one page of open events plus the continuation cursor.
type EventsPage struct {
	Events []Event `json:"events"`
	Cursor string  `json:"cursor"`
}

type marketsResponse struct {
	Markets []Market `json:"markets"`
}

// FetchEvents retrieves a single page of open events. An empty cursor starts
// from the beginning.
func (c *Client) FetchEvents(ctx context.Context, cursor string, limit int) (*EventsPage, error) {
	if limit <= 0 || limit > pageSize {
		limit = pageSize
	}
	u, _ := url.Parse(c.baseURL + "/events")
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	q.Set("status", "open")
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()

	var out EventsPage
	if err := c.get(ctx, u.String(), &out); err != nil {
		return nil, fmt.Errorf("list kalshi events: %w", err)
	}
	return &out, nil
}

// FetchAllEvents pages through open events until the upstream runs out of
// cursors, returns an empty page, or the page cap is hit.
func (c *Client) FetchAllEvents(ctx context.Context) ([]Event, error) {
	var all []Event
	cursor := ""
	for i := 0; i < maxEventPages; i++ {
		page, err := c.FetchEvents(ctx, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Events...)
		if page.Cursor == "" || len(page.Events) == 0 {
			break
		}
		cursor = page.Cursor
	}
	return all, nil
}

// FetchMarketsByEvent retrieves the markets belonging to one event. A 429
// from the exchange sleeps briefly and yields an empty slice so a single
// rate-limited event cannot poison a whole poll.
func (c *Client) FetchMarketsByEvent(ctx context.Context, eventTicker string) ([]Market, error) {
	u, _ := url.Parse(c.baseURL + "/markets")
	q := u.Query()
	q.Set("event_ticker", eventTicker)
	q.Set("limit", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()

	var out marketsResponse
	if err := c.get(ctx, u.String(), &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			logging.Infof("[kalshi] rate limited fetching markets for %s, backing off %s", eventTicker, c.rateLimitOff)
			select {
			case <-time.After(c.rateLimitOff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return nil, nil
		}
		return nil, fmt.Errorf("list kalshi markets for %s: %w", eventTicker, err)
	}
	return out.Markets, nil
}

func (c *Client) get(ctx context.Context, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Summary reduces an event listing to the transient unit the matcher consumes.
func (e Event) Summary() models.MarketSummary {
	return models.MarketSummary{
		Ticker:      e.EventTicker,
		EventTicker: e.EventTicker,
		Title:       e.Title,
		Subtitle:    e.SubTitle,
		Category:    e.Category,
	}
}
