package export_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/export"
	"github.com/warp/stock-ledger/ledger"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func sampleEvent() ledger.Event {
	return ledger.Event{
		Kind:           ledger.EventAdjustmentApproved,
		StoreID:        7,
		ProductIDs:     []ledger.ProductID{3, 4},
		TransactionIDs: []ledger.TransactionID{11, 12},
		AdjustmentID:   5,
		BusinessDate:   ledger.MustParseDate("2025-03-08"),
		Retroactive:    true,
		OccurredAt:     time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC),
	}
}

func TestNewMessage(t *testing.T) {
	m := export.NewMessage(sampleEvent())

	_, err := uuid.Parse(m.ID)
	require.NoError(t, err)
	assert.Equal(t, "adjustment_approved", m.Kind)
	assert.Equal(t, []int64{3, 4}, m.ProductIDs)
	assert.Equal(t, []int64{11, 12}, m.TransactionIDs)
	assert.Equal(t, "2025-03-08", m.BusinessDate)
	assert.Equal(t, "0308", m.SheetLabel)
	assert.True(t, m.Retroactive)

	assert.Equal(t, map[string]string{
		"event_id":      m.ID,
		"kind":          "adjustment_approved",
		"store_id":      "7",
		"business_date": "2025-03-08",
	}, m.Attributes())

	assert.NotEqual(t, m.ID, export.NewMessage(sampleEvent()).ID)
}

func TestNewMessage_EmptyProductsEncodeAsArray(t *testing.T) {
	raw, err := json.Marshal(export.NewMessage(ledger.Event{Kind: ledger.EventMovementPosted}))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"product_ids":[]`)
	assert.NotContains(t, string(raw), "transaction_ids")
}

func TestPubSubSink_PublishesToEmulator(t *testing.T) {
	// GIVEN: An in-process Pub/Sub server with no topic yet
	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ctx := context.Background()
	sink, err := export.NewPubSubSink(ctx, "test-project", "ledger-events", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	// WHEN: Handling an event
	require.NoError(t, sink.Handle(ctx, sampleEvent()))

	// THEN: One message with the event attributes reached the topic
	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "7", msgs[0].Attributes["store_id"])
	assert.Equal(t, "adjustment_approved", msgs[0].Attributes["kind"])

	var body export.Message
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	assert.Equal(t, msgs[0].Attributes["event_id"], body.ID)
	assert.Equal(t, int64(5), body.AdjustmentID)
}

func TestNewPubSubSink_RequiresNames(t *testing.T) {
	_, err := export.NewPubSubSink(context.Background(), "", "topic")
	assert.Error(t, err)
	_, err = export.NewPubSubSink(context.Background(), "project", "")
	assert.Error(t, err)
}
