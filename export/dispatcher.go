/*
Package export fans committed ledger events out to reporting sinks.

PURPOSE:
  The ledger calls Notify after every commit. The Dispatcher queues the
  event and returns immediately; a background worker hands it to each sink
  in turn (workbook file, Pub/Sub, log). A sink failure is logged and never
  reaches the ledger: the movement it describes is already committed.

DESIGN:
  - Buffered queue with a single worker goroutine
  - A full queue drops the event with a warning rather than blocking a writer
  - Stop drains what is already queued, then returns

USAGE:
  d := export.NewDispatcher(logger, 256, export.NewLogSink(logger), fileSink)
  d.Start()
  l.Notifier = d
  // ... later
  d.Stop()

SEE ALSO:
  - workbook.go: MMDD daily sheets
  - pubsub.go: event publisher
*/
package export

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/ledger"
)

// Sink consumes committed events.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev ledger.Event) error
}

// Dispatcher is a ledger.Notifier that delivers events to sinks off the
// write path.
type Dispatcher struct {
	Sinks          []Sink
	HandlerTimeout time.Duration

	log     logrus.FieldLogger
	queue   chan ledger.Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	closed  bool
}

func NewDispatcher(log logrus.FieldLogger, size int, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = 256
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		Sinks:          sinks,
		HandlerTimeout: 30 * time.Second,
		log:            log.WithField("component", "export"),
		queue:          make(chan ledger.Event, size),
	}
}

// Start begins the worker. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run()
	d.log.WithField("sinks", len(d.Sinks)).Info("dispatcher started")
}

// Stop closes the queue and waits for queued events to be delivered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if started {
		d.wg.Wait()
	}
	d.log.Info("dispatcher stopped")
}

// Notify enqueues ev without blocking.
func (d *Dispatcher) Notify(_ context.Context, ev ledger.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.WithField("event", ev.Kind).Warn("dispatcher stopped, event dropped")
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.log.WithFields(logrus.Fields{
			"event":    ev.Kind,
			"store_id": ev.StoreID,
		}).Warn("export queue full, event dropped")
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev ledger.Event) {
	for _, s := range d.Sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.HandlerTimeout)
		err := s.Handle(ctx, ev)
		cancel()
		if err != nil {
			d.log.WithFields(logrus.Fields{
				"sink":     s.Name(),
				"event":    ev.Kind,
				"store_id": ev.StoreID,
				"date":     ev.BusinessDate.String(),
			}).WithError(err).Error("sink failed")
		}
	}
}

var _ ledger.Notifier = (*Dispatcher)(nil)

// =============================================================================
// LOG SINK
// =============================================================================

// LogSink writes one info line per event.
type LogSink struct {
	Log logrus.FieldLogger
}

func NewLogSink(log logrus.FieldLogger) *LogSink { return &LogSink{Log: log} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(_ context.Context, ev ledger.Event) error {
	s.Log.WithFields(logrus.Fields{
		"event":           ev.Kind,
		"store_id":        ev.StoreID,
		"product_ids":     ev.ProductIDs,
		"transaction_ids": ev.TransactionIDs,
		"date":            ev.BusinessDate.String(),
		"retroactive":     ev.Retroactive,
	}).Info("ledger event")
	return nil
}
