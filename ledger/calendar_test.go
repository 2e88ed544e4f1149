package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
)

func TestBusinessDateOf_DayStartBoundary(t *testing.T) {
	cal := ledger.NewCalendar(bangkok)

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"one second before rollover", at(2025, time.March, 11, 4, 59, 59), "2025-03-10"},
		{"exactly at rollover", at(2025, time.March, 11, 5, 0, 0), "2025-03-11"},
		{"midnight", at(2025, time.March, 11, 0, 0, 0), "2025-03-10"},
		{"late evening", at(2025, time.March, 10, 23, 30, 0), "2025-03-10"},
		{"new year before rollover", at(2025, time.January, 1, 2, 0, 0), "2024-12-31"},
		{"utc instant is converted", time.Date(2025, time.March, 10, 21, 59, 59, 0, time.UTC), "2025-03-10"},
		{"utc instant after local rollover", time.Date(2025, time.March, 10, 22, 0, 0, 0, time.UTC), "2025-03-11"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.BusinessDateOf(tt.at).String())
		})
	}
}

func TestWindow_CoversOneBusinessDay(t *testing.T) {
	cal := ledger.NewCalendar(bangkok)
	d := ledger.MustParseDate("2025-03-10")

	start, end := cal.Window(d)

	assert.True(t, start.Equal(at(2025, time.March, 10, 5, 0, 0)))
	assert.True(t, end.Equal(at(2025, time.March, 11, 4, 59, 59).Add(999*time.Millisecond)))
	assert.Equal(t, d, cal.BusinessDateOf(start))
	assert.Equal(t, d, cal.BusinessDateOf(end))
	assert.Equal(t, d.AddDays(1), cal.BusinessDateOf(end.Add(time.Millisecond)))
}

func TestToday_UsesInjectedClock(t *testing.T) {
	cal := ledger.NewCalendar(bangkok)
	cal.Now = func() time.Time { return at(2025, time.March, 1, 3, 0, 0) }

	assert.Equal(t, "2025-02-28", cal.Today().String())
}

func TestDate_LabelsAndRanges(t *testing.T) {
	d := ledger.MustParseDate("2025-03-09")

	assert.Equal(t, "0309", d.Label())
	assert.Equal(t, "2025-03", d.MonthTag())

	days := d.DaysThrough(ledger.MustParseDate("2025-03-11"))
	require.Len(t, days, 3)
	assert.Equal(t, "2025-03-11", days[2].String())
	assert.Empty(t, d.DaysThrough(d.AddDays(-1)))

	_, err := ledger.ParseDate("2025/03/09")
	assert.Error(t, err)
}

func TestFixedZone(t *testing.T) {
	loc, err := ledger.FixedZone("+07:00")
	require.NoError(t, err)
	_, offset := time.Date(2025, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 7*3600, offset)

	loc, err = ledger.FixedZone("-0530")
	require.NoError(t, err)
	_, offset = time.Date(2025, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, -(5*3600 + 30*60), offset)

	_, err = ledger.FixedZone("Bangkok")
	assert.Error(t, err)
}
