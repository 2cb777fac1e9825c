// Package timeparse reads the timestamp and date encodings that older
// revisions of the inventory database left behind. Parsing never fails: a
// value either resolves or is reported as absent.
package timeparse

import (
	"strconv"
	"strings"
	"time"
)

// StoreLayout is the format modified_at is written in.
const StoreLayout = "2006-01-02 15:04:05"

// DateLayout is the format calendar dates are written in.
const DateLayout = "2006-01-02"

// Strategy turns text into a time or reports that it does not apply.
type Strategy func(s string) (time.Time, bool)

// Chain tries its strategies in order and keeps the first match.
type Chain []Strategy

// Parse trims s and runs the chain. Blank input is absent.
func (c Chain) Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, try := range c {
		if t, ok := try(s); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// Timestamps resolves modified_at values. Results are local wall times.
var Timestamps = Chain{
	EpochMillis,
	Layout("2006-1-2 15:04:05"),
	Layout("2006-01-02T15:04:05"),
	Layout("2006-01-02T15:04"),
	Layout(DateLayout),
	Layout("02.01.2006 15:04"),
	Layout("02.01.2006"),
	Instant,
}

// Dates resolves purchase and commissioning dates. Results are midnight UTC
// of the calendar day so that they compare equal regardless of zone.
var Dates = Chain{
	Layout(DateLayout),
	AsDate(Layout("2006-01-02T15:04:05")),
	AsDate(Layout("2006-01-02T15:04")),
	Layout("02.01.2006"),
	AsDate(Layout("02.01.2006 15:04")),
	AsDate(Instant),
}

// Timestamp parses a modified_at value.
func Timestamp(s string) (time.Time, bool) {
	return Timestamps.Parse(s)
}

// Date parses a calendar date value and truncates it to the day.
func Date(s string) (time.Time, bool) {
	t, ok := Dates.Parse(s)
	if !ok {
		return time.Time{}, false
	}
	return CalendarDay(t), true
}

// FormatTimestamp renders t in the stored modified_at format, local time.
func FormatTimestamp(t time.Time) string {
	return t.In(time.Local).Format(StoreLayout)
}

// FormatDate renders the calendar day of t.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// CalendarDay drops the clock part and the zone of t.
func CalendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Layout parses a zone-less layout as local wall time.
func Layout(layout string) Strategy {
	return func(s string) (time.Time, bool) {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
}

// AsDate converts whatever next yields to its local calendar day.
func AsDate(next Strategy) Strategy {
	return func(s string) (time.Time, bool) {
		t, ok := next(s)
		if !ok {
			return time.Time{}, false
		}
		return CalendarDay(t.In(time.Local)), true
	}
}

// EpochMillis accepts a string of digits as milliseconds since the epoch.
func EpochMillis(s string) (time.Time, bool) {
	if len(s) > 18 {
		return time.Time{}, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return time.Time{}, false
		}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).In(time.Local), true
}

// Instant accepts an RFC 3339 timestamp with zone and converts it to local
// time.
func Instant(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.In(time.Local), true
}
