package models

import "time"

// WatchlistItem is a user-authored topic of interest polled against markets.
type WatchlistItem struct {
	ID        int64     `json:"id"`
	Query     string    `json:"query"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

// Match is a persisted association between a watchlist item and a market.
// Display metadata and prices are nullable; prices are integer cents.
type Match struct {
	ID           int64     `json:"id"`
	WatchlistID  int64     `json:"watchlist_id"`
	MarketTicker string    `json:"market_ticker"`
	EventTicker  string    `json:"event_ticker"`
	Title        string    `json:"title"`
	Subtitle     *string   `json:"subtitle"`
	Category     *string   `json:"category"`
	YesBid       *int64    `json:"yes_bid"`
	YesAsk       *int64    `json:"yes_ask"`
	NoBid        *int64    `json:"no_bid"`
	NoAsk        *int64    `json:"no_ask"`
	Volume       *int64    `json:"volume"`
	MatchedAt    time.Time `json:"matched_at"`
	Seen         bool      `json:"seen"`
	Query        string    `json:"query,omitempty"` // owning watchlist query, set on joined reads
}

// MatchInput is the upsert payload for one (watchlist, market) pairing.
type MatchInput struct {
	WatchlistID  int64
	MarketTicker string
	EventTicker  string
	Title        string
	Subtitle     string
	Category     string
	YesBid       int64
	YesAsk       int64
	NoBid        int64
	NoAsk        int64
	Volume       int64
}

// MarketSummary is the transient unit handed from the exchange client to the
// semantic matcher. It is never persisted.
type MarketSummary struct {
	Ticker      string
	EventTicker string
	Title       string
	Subtitle    string
	Category    string
}
