package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotScheduler_FillsQuietDays(t *testing.T) {
	// GIVEN: Stock received yesterday and nothing since
	ts := newTestServer(t)
	s, p := ts.seed()
	ts.now = time.Date(2025, 3, 9, 12, 0, 0, 0, bangkok)
	ts.inbound(s, p, 4, "10")
	ts.now = time.Date(2025, 3, 10, 6, 0, 0, 0, bangkok)

	sched := NewSnapshotScheduler(ts.handler.Catalog, ts.handler.Rollup, quietLogger())

	// WHEN: The scheduler runs
	done := sched.RunNow(context.Background())

	// THEN: Today gets a snapshot carrying yesterday's closing
	assert.Equal(t, 1, done)
	rec := ts.do(http.MethodGet, fmt.Sprintf("/api/snapshots?store_id=%d", s.ID), nil)
	snaps := decodeBody[[]SnapshotDTO](t, rec)
	require.Len(t, snaps, 1)
	assert.Equal(t, "2025-03-10", snaps[0].BusinessDate.String())
	assert.Equal(t, int64(4), snaps[0].Opening.Case)
	assert.Equal(t, int64(4), snaps[0].Closing.Case)
	assert.Equal(t, int64(0), snaps[0].Inbound.Case)
}

func TestSnapshotScheduler_StartStop(t *testing.T) {
	ts := newTestServer(t)
	sched := NewSnapshotScheduler(ts.handler.Catalog, ts.handler.Rollup, quietLogger())
	sched.CheckInterval = time.Hour

	sched.Start()
	sched.Start()
	sched.Stop()
	sched.Stop()

	sched.Enabled = false
	sched.Start()
	sched.Stop()
}
