package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/warp/stock-ledger/ledger"
	"google.golang.org/api/option"
)

// Message is the JSON body published for every ledger event.
type Message struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	StoreID        int64     `json:"store_id"`
	ProductIDs     []int64   `json:"product_ids"`
	TransactionIDs []int64   `json:"transaction_ids,omitempty"`
	AdjustmentID   int64     `json:"adjustment_id,omitempty"`
	StockTakeID    int64     `json:"stock_take_id,omitempty"`
	BusinessDate   string    `json:"business_date"`
	SheetLabel     string    `json:"sheet_label"`
	Retroactive    bool      `json:"retroactive"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewMessage converts ev and stamps it with a fresh id that consumers can
// use for deduplication.
func NewMessage(ev ledger.Event) Message {
	m := Message{
		ID:           uuid.NewString(),
		Kind:         string(ev.Kind),
		StoreID:      int64(ev.StoreID),
		ProductIDs:   make([]int64, 0, len(ev.ProductIDs)),
		AdjustmentID: int64(ev.AdjustmentID),
		StockTakeID:  int64(ev.StockTakeID),
		BusinessDate: ev.BusinessDate.String(),
		SheetLabel:   ev.BusinessDate.Label(),
		Retroactive:  ev.Retroactive,
		OccurredAt:   ev.OccurredAt,
	}
	for _, id := range ev.ProductIDs {
		m.ProductIDs = append(m.ProductIDs, int64(id))
	}
	for _, id := range ev.TransactionIDs {
		m.TransactionIDs = append(m.TransactionIDs, int64(id))
	}
	return m
}

// Attributes are set on the Pub/Sub message so subscriptions can filter
// without decoding the body.
func (m Message) Attributes() map[string]string {
	return map[string]string{
		"event_id":      m.ID,
		"kind":          m.Kind,
		"store_id":      strconv.FormatInt(m.StoreID, 10),
		"business_date": m.BusinessDate,
	}
}

// =============================================================================
// PUB/SUB SINK
// =============================================================================

type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubSink connects to projectID and publishes to topicID, creating
// the topic when it does not exist yet. opts are passed to the client, e.g.
// option.WithCredentialsFile.
func NewPubSubSink(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*PubSubSink, error) {
	if projectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if topicID == "" {
		return nil, errors.New("pubsub topic is required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client (project_id=%s): %w", projectID, err)
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("check topic %q: %w", topicID, err)
	}
	if !ok {
		if topic, err = client.CreateTopic(ctx, topicID); err != nil {
			client.Close()
			return nil, fmt.Errorf("create topic %q: %w", topicID, err)
		}
	}
	return &PubSubSink{client: client, topic: topic}, nil
}

func (s *PubSubSink) Name() string { return "pubsub" }

// Handle publishes ev and waits for the server to acknowledge it.
func (s *PubSubSink) Handle(ctx context.Context, ev ledger.Event) error {
	msg := NewMessage(ev)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: msg.Attributes(),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", msg.ID, err)
	}
	return nil
}

// Close flushes pending publishes and closes the client.
func (s *PubSubSink) Close() error {
	s.topic.Stop()
	return s.client.Close()
}
