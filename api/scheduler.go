/*
scheduler.go - Daily snapshot scheduler

PURPOSE:
  Snapshots are normally rebuilt right after each commit, so a product with
  no movement on a day gets no row for that day. The scheduler fills those
  gaps: every tick it rebuilds yesterday's and today's snapshots for every
  active store, carrying each closing figure forward as the next opening.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Covers yesterday too, so a tick shortly after the 05:00 rollover
    finishes the day that just closed
  - A failing store is logged and the others still run

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewSnapshotScheduler(catalog, rollup, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RecomputeSnapshots endpoint (manual rebuild)
  - ledger/snapshot.go: SnapshotRollup
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/ledger"
)

// SnapshotScheduler keeps daily snapshots complete for every active store.
type SnapshotScheduler struct {
	Catalog       *ledger.Catalog
	Rollup        *ledger.SnapshotRollup
	CheckInterval time.Duration
	Enabled       bool

	log    logrus.FieldLogger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSnapshotScheduler creates a new scheduler.
func NewSnapshotScheduler(catalog *ledger.Catalog, rollup *ledger.SnapshotRollup, log logrus.FieldLogger) *SnapshotScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SnapshotScheduler{
		Catalog:       catalog,
		Rollup:        rollup,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log.WithField("component", "scheduler"),
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *SnapshotScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	s.log.WithField("interval", s.CheckInterval.String()).Info("started")
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *SnapshotScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log.Info("stopped")
	}
}

func (s *SnapshotScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow rebuilds yesterday and today for every active store and returns
// how many stores succeeded.
func (s *SnapshotScheduler) RunNow(ctx context.Context) int {
	stores, err := s.Catalog.ListStores(ctx, false)
	if err != nil {
		s.log.WithError(err).Error("list stores")
		return 0
	}
	from := s.Rollup.Calendar.Today().AddDays(-1)

	done := 0
	for _, st := range stores {
		if err := s.Rollup.RetroactiveRecompute(ctx, from, st.ID); err != nil {
			s.log.WithFields(logrus.Fields{
				"store_id": st.ID,
				"from":     from.String(),
			}).WithError(err).Error("snapshot pass failed")
			continue
		}
		done++
	}
	if len(stores) > 0 {
		s.log.WithFields(logrus.Fields{
			"stores": len(stores),
			"ok":     done,
			"from":   from.String(),
		}).Info("snapshot pass completed")
	}
	return done
}

// GetNextRunTime returns when the next scheduled pass will occur.
func (s *SnapshotScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(s.CheckInterval)
}
