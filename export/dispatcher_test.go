package export_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/export"
	"github.com/warp/stock-ledger/ledger"
)

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []ledger.Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Handle(_ context.Context, ev ledger.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestDispatcher_DeliversToEverySink(t *testing.T) {
	// GIVEN: A failing sink ahead of a working one
	broken := &recordingSink{name: "broken", err: errors.New("disk full")}
	ok := &recordingSink{name: "ok"}
	log, hook := test.NewNullLogger()
	d := export.NewDispatcher(log, 8, broken, ok)
	d.Start()

	// WHEN: Two events are queued and the dispatcher drains
	d.Notify(context.Background(), ledger.Event{Kind: ledger.EventMovementPosted, StoreID: 1})
	d.Notify(context.Background(), ledger.Event{Kind: ledger.EventTransactionCancelled, StoreID: 1})
	d.Stop()

	// THEN: Both sinks saw both events and the failure was logged
	assert.Equal(t, 2, broken.count())
	require.Equal(t, 2, ok.count())
	assert.Equal(t, ledger.EventTransactionCancelled, ok.events[1].Kind)

	var failures int
	for _, e := range hook.AllEntries() {
		if e.Message == "sink failed" {
			failures++
			assert.Equal(t, "broken", e.Data["sink"])
		}
	}
	assert.Equal(t, 2, failures)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &recordingSink{name: "slow"}
	d := export.NewDispatcher(quietLogger(), 1, sink)

	// not started yet, so the second event finds the queue full
	d.Notify(context.Background(), ledger.Event{Kind: ledger.EventMovementPosted})
	d.Notify(context.Background(), ledger.Event{Kind: ledger.EventMovementPosted})
	d.Start()
	d.Stop()

	assert.Equal(t, 1, sink.count())
}

func TestDispatcher_IgnoresEventsAfterStop(t *testing.T) {
	sink := &recordingSink{name: "late"}
	d := export.NewDispatcher(quietLogger(), 4, sink)
	d.Start()
	d.Stop()

	assert.NotPanics(t, func() {
		d.Notify(context.Background(), ledger.Event{Kind: ledger.EventMovementPosted})
		d.Stop()
		d.Start()
	})
	assert.Equal(t, 0, sink.count())
}

func TestLogSink(t *testing.T) {
	log, hook := test.NewNullLogger()
	sink := export.NewLogSink(log)

	err := sink.Handle(context.Background(), ledger.Event{
		Kind:         ledger.EventStockTakeCompleted,
		StoreID:      3,
		BusinessDate: ledger.MustParseDate("2025-03-10"),
	})

	require.NoError(t, err)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, ledger.EventStockTakeCompleted, entry.Data["event"])
	assert.Equal(t, "2025-03-10", entry.Data["date"])
}
