package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ypeikes18/kalshi-screener/internal/models"
)

// matchEvent is the wire shape published for each upserted match.
type matchEvent struct {
	WatchlistID  int64  `json:"watchlist_id"`
	MarketTicker string `json:"market_ticker"`
	EventTicker  string `json:"event_ticker"`
	Title        string `json:"title"`
	YesBid       int64  `json:"yes_bid"`
	YesAsk       int64  `json:"yes_ask"`
	Volume       int64  `json:"volume"`
	MatchedAt    string `json:"matched_at"`
}

// Publisher adapts a kafka writer to the poller's MatchPublisher.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(writer *kafka.Writer) *Publisher {
	return &Publisher{writer: writer}
}

func (p *Publisher) Publish(ctx context.Context, inputs []models.MatchInput) error {
	return PublishMatches(ctx, p.writer, inputs)
}

// PublishMatches sends one message per upserted match so downstream
// consumers can alert on new matches. A nil writer disables publishing.
func PublishMatches(ctx context.Context, writer *kafka.Writer, inputs []models.MatchInput) error {
	if writer == nil || len(inputs) == 0 {
		return nil
	}

	matchedAt := time.Now().UTC().Format(time.RFC3339Nano)
	msgs := make([]kafka.Message, 0, len(inputs))
	for _, in := range inputs {
		payload, err := json.Marshal(matchEvent{
			WatchlistID:  in.WatchlistID,
			MarketTicker: in.MarketTicker,
			EventTicker:  in.EventTicker,
			Title:        in.Title,
			YesBid:       in.YesBid,
			YesAsk:       in.YesAsk,
			Volume:       in.Volume,
			MatchedAt:    matchedAt,
		})
		if err != nil {
			return fmt.Errorf("marshal match %s: %w", in.MarketTicker, err)
		}
		key := fmt.Sprintf("%d-%s", in.WatchlistID, in.MarketTicker)
		msgs = append(msgs, kafka.Message{Key: []byte(key), Value: payload})
	}
	return writer.WriteMessages(ctx, msgs...)
}
