package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DATE - Civil date used as the business-day key
// =============================================================================

// Date is a calendar date without time of day. The zero value means "unset".
type Date struct {
	t time.Time // midnight UTC
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }
func (d Date) IsZero() bool              { return d.t.IsZero() }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Properties
func (d Date) Year() int          { return d.t.Year() }
func (d Date) Month() time.Month  { return d.t.Month() }
func (d Date) Day() int           { return d.t.Day() }
func (d Date) String() string     { return d.t.Format(dateLayout) }
func (d Date) Label() string      { return d.t.Format("0102") } // MMDD sheet/day label
func (d Date) MonthTag() string   { return d.t.Format("2006-01") }

// DaysThrough returns every date from d to end inclusive.
func (d Date) DaysThrough(end Date) []Date {
	var days []Date
	for cur := d; !cur.After(end); cur = cur.AddDays(1) {
		days = append(days, cur)
	}
	return days
}

// Value stores the date as YYYY-MM-DD text.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case string:
		return d.parseInto(v)
	case []byte:
		return d.parseInto(string(v))
	case time.Time:
		*d = DateOf(v)
		return nil
	}
	return fmt.Errorf("cannot scan %T into Date", src)
}

func (d *Date) parseInto(s string) error {
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == nil || *s == "" {
		*d = Date{}
		return nil
	}
	return d.parseInto(*s)
}

// =============================================================================
// CALENDAR - Business-day boundaries
// =============================================================================

// DefaultDayStartHour is the local hour at which a business day begins.
const DefaultDayStartHour = 5

// Calendar maps wall-clock instants to business dates. Every component
// derives "day" semantics from here.
//
// All stores share one civil timezone.
type Calendar struct {
	Location     *time.Location
	DayStartHour int
	Now          func() time.Time
}

func NewCalendar(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.Local
	}
	return &Calendar{Location: loc, DayStartHour: DefaultDayStartHour, Now: time.Now}
}

// BusinessDateOf returns the accounting date of t: instants before the day
// start hour belong to the previous calendar date.
func (c *Calendar) BusinessDateOf(t time.Time) Date {
	local := t.In(c.Location)
	if local.Hour() < c.DayStartHour {
		local = local.AddDate(0, 0, -1)
	}
	return DateOf(local)
}

// Window returns the first and last instant (millisecond precision) of d.
func (c *Calendar) Window(d Date) (start, end time.Time) {
	next := d.AddDays(1)
	start = time.Date(d.Year(), d.Month(), d.Day(), c.DayStartHour, 0, 0, 0, c.Location)
	end = time.Date(next.Year(), next.Month(), next.Day(), c.DayStartHour, 0, 0, 0, c.Location).Add(-time.Millisecond)
	return start, end
}

// Today returns the business date of the calendar's current instant.
func (c *Calendar) Today() Date {
	return c.BusinessDateOf(c.now())
}

func (c *Calendar) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// FixedZone builds a location from an offset such as "+08:00" or "-0530".
func FixedZone(offset string) (*time.Location, error) {
	t, err := time.Parse("-07:00", offset)
	if err != nil {
		if t, err = time.Parse("-0700", offset); err != nil {
			return nil, fmt.Errorf("parse timezone offset %q: %w", offset, err)
		}
	}
	_, secs := t.Zone()
	return time.FixedZone("UTC"+offset, secs), nil
}
