package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ypeikes18/kalshi-screener/internal/logging"
	"github.com/ypeikes18/kalshi-screener/internal/models"
)

const systemPrompt = "You are a market matching engine for a prediction-market screener. " +
	"You map free-text watchlist queries to topically relevant markets. Respond only with JSON."

// Completer is the single-shot LLM call the matcher depends on. Satisfied by
// *llm.Client; tests substitute a fake.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Query pairs a watchlist id with its query text.
type Query struct {
	WatchlistID int64
	Text        string
}

// Pair is one (watchlist, market) relevance judgment from the model.
type Pair struct {
	WatchlistID int64
	Market      models.MarketSummary
}

// Matcher classifies markets against watchlist queries via an LLM call.
type Matcher struct {
	llm Completer
}

// New builds a Matcher around a completion client.
func New(c Completer) (*Matcher, error) {
	if c == nil {
		return nil, fmt.Errorf("matcher: completer is required")
	}
	return &Matcher{llm: c}, nil
}

type matchResponse struct {
	Matches []struct {
		Q       int   `json:"q"`
		Markets []int `json:"markets"`
	} `json:"matches"`
}

// Match asks the model which of the given markets are relevant to which
// queries. Empty input short-circuits to no matches with no network call.
// The model is best-effort: a malformed response degrades to no matches for
// this batch, never a hard error. Callers must keep each invocation within a
// bounded batch; Match does not re-batch internally.
func (m *Matcher) Match(ctx context.Context, queries []Query, markets []models.MarketSummary) ([]Pair, error) {
	if len(queries) == 0 || len(markets) == 0 {
		return nil, nil
	}

	raw, err := m.llm.Complete(ctx, systemPrompt, buildPrompt(queries, markets))
	if err != nil {
		return nil, fmt.Errorf("matcher: llm call: %w", err)
	}

	parsed, err := parseResponse(raw)
	if err != nil {
		logging.Warnf("[matcher] unparsable model response, dropping batch: %v", err)
		return nil, nil
	}

	var pairs []Pair
	for _, match := range parsed.Matches {
		if match.Q < 0 || match.Q >= len(queries) {
			continue
		}
		q := queries[match.Q]
		for _, idx := range match.Markets {
			if idx < 0 || idx >= len(markets) {
				continue
			}
			pairs = append(pairs, Pair{WatchlistID: q.WatchlistID, Market: markets[idx]})
		}
	}
	return pairs, nil
}

func buildPrompt(queries []Query, markets []models.MarketSummary) string {
	var qb strings.Builder
	for i, q := range queries {
		fmt.Fprintf(&qb, "Q%d: %q\n", i, q.Text)
	}

	var mb strings.Builder
	for i, m := range markets {
		fmt.Fprintf(&mb, "[%d] %s", i, m.Title)
		if m.Subtitle != "" {
			fmt.Fprintf(&mb, " - %s", m.Subtitle)
		}
		if m.Category != "" {
			fmt.Fprintf(&mb, " (%s)", m.Category)
		}
		mb.WriteByte('\n')
	}

	return strings.Join([]string{
		"Given watchlist queries and a list of prediction markets, identify which markets are relevant to each query.",
		"",
		"QUERIES:",
		qb.String(),
		"MARKETS:",
		mb.String(),
		"A market is relevant only if it has direct topical, entity, or event relevance to the query: the same country, organization, person, asset, or concrete event.",
		"Mere keyword overlap or weak thematic similarity is NOT a match. When in doubt, exclude.",
		"",
		"Respond ONLY in this JSON format, no other text:",
		`{"matches": [{"q": 0, "markets": [1, 5, 12]}, {"q": 1, "markets": [3, 7]}]}`,
		"If no markets match a query, omit it or use an empty array. Return ONLY valid JSON.",
	}, "\n")
}

func parseResponse(raw string) (*matchResponse, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty response")
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	var res matchResponse
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, err
	}
	return &res, nil
}
