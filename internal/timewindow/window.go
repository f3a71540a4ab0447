// Package timewindow resolves a trigger instant into the absolute time
// interval a harvest run should consider.
//
// Resolution is a pure computation; the only failure mode is an unknown
// time zone identifier, which callers treat as fatal configuration.
package timewindow

import (
	"fmt"
	"time"
)

// Mode selects how the window is anchored.
type Mode string

const (
	// ModeCalendar covers yesterday (00:00:00 through 23:59:59) in the
	// reference time zone.
	ModeCalendar Mode = "calendar"

	// ModeRolling covers the last N hours ending at the trigger instant.
	ModeRolling Mode = "rolling"
)

// Window is the resolved interval. Start and End are absolute instants;
// both bounds are inclusive. Immutable once resolved - every source in a
// run shares the same Window by value.
type Window struct {
	Start time.Time
	End   time.Time
	Loc   *time.Location
}

// Resolve computes the window for a trigger instant.
//
// Rolling mode ends at now and reaches back hours. Calendar mode covers
// the full local day before now in tz; building the bounds with time.Date
// in the loaded location keeps them correct across DST transitions.
func Resolve(now time.Time, mode Mode, hours int, tz string) (Window, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Window{}, fmt.Errorf("invalid time zone %q: %w", tz, err)
	}

	switch mode {
	case ModeRolling:
		if hours <= 0 {
			hours = 24
		}
		return Window{
			Start: now.Add(-time.Duration(hours) * time.Hour),
			End:   now,
			Loc:   loc,
		}, nil

	case ModeCalendar:
		// "Yesterday" is derived from the local date 24h before the
		// trigger, so a run shortly after local midnight targets the
		// day that just ended.
		y, m, d := now.Add(-24 * time.Hour).In(loc).Date()
		return Window{
			Start: time.Date(y, m, d, 0, 0, 0, 0, loc),
			End:   time.Date(y, m, d, 23, 59, 59, 0, loc),
			Loc:   loc,
		}, nil

	default:
		return Window{}, fmt.Errorf("unknown window mode %q", mode)
	}
}

// Contains reports whether t falls inside the window. Both bounds are
// inclusive: an item stamped exactly at Start or End is in.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// DateKey returns the window's calendar date in its time zone as
// YYYY-MM-DD. For rolling windows this is the date of the window end.
func (w Window) DateKey() string {
	loc := w.Loc
	if loc == nil {
		loc = time.UTC
	}
	return w.End.In(loc).Format("2006-01-02")
}
