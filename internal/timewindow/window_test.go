package timewindow

import (
	"testing"
	"time"
)

func TestResolveRolling(t *testing.T) {
	now := time.Date(2024, 5, 15, 10, 30, 0, 0, time.UTC)

	win, err := Resolve(now, ModeRolling, 12, "UTC")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if !win.End.Equal(now) {
		t.Errorf("expected end %v, got %v", now, win.End)
	}
	if want := now.Add(-12 * time.Hour); !win.Start.Equal(want) {
		t.Errorf("expected start %v, got %v", want, win.Start)
	}
	if win.DateKey() != "2024-05-15" {
		t.Errorf("expected date key 2024-05-15, got %s", win.DateKey())
	}
}

func TestResolveCalendarYesterday(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	now := time.Date(2024, 5, 15, 9, 0, 0, 0, loc)

	win, err := Resolve(now, ModeCalendar, 0, "America/New_York")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if want := time.Date(2024, 5, 14, 0, 0, 0, 0, loc); !win.Start.Equal(want) {
		t.Errorf("expected start %v, got %v", want, win.Start)
	}
	if want := time.Date(2024, 5, 14, 23, 59, 59, 0, loc); !win.End.Equal(want) {
		t.Errorf("expected end %v, got %v", want, win.End)
	}
	if win.DateKey() != "2024-05-14" {
		t.Errorf("expected date key 2024-05-14, got %s", win.DateKey())
	}
}

func TestCalendarInclusiveBounds(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	now := time.Date(2024, 5, 15, 9, 0, 0, 0, loc)

	win, err := Resolve(now, ModeCalendar, 0, "America/New_York")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	tests := []struct {
		name string
		t    time.Time
		in   bool
	}{
		{"exactly at start", win.Start, true},
		{"exactly at end", win.End, true},
		{"1ms before start", win.Start.Add(-time.Millisecond), false},
		{"1ms after end", win.End.Add(time.Millisecond), false},
		{"midday", win.Start.Add(12 * time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := win.Contains(tt.t); got != tt.in {
				t.Errorf("Contains(%v) = %v, want %v", tt.t, got, tt.in)
			}
		})
	}
}

func TestCalendarAcrossDSTTransition(t *testing.T) {
	// 2024-03-10 is the US spring-forward date: the local day is only
	// 23 hours long. The window must still span exactly local midnight
	// through 23:59:59.
	loc, _ := time.LoadLocation("America/New_York")
	now := time.Date(2024, 3, 11, 9, 0, 0, 0, loc)

	win, err := Resolve(now, ModeCalendar, 0, "America/New_York")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if want := time.Date(2024, 3, 10, 0, 0, 0, 0, loc); !win.Start.Equal(want) {
		t.Errorf("expected start %v, got %v", want, win.Start)
	}
	if want := time.Date(2024, 3, 10, 23, 59, 59, 0, loc); !win.End.Equal(want) {
		t.Errorf("expected end %v, got %v", want, win.End)
	}

	// The short day: end minus start is 23h59m59s minus the skipped hour.
	if got := win.End.Sub(win.Start); got != 22*time.Hour+59*time.Minute+59*time.Second {
		t.Errorf("unexpected window span across DST: %v", got)
	}

	if !win.Contains(win.Start) || !win.Contains(win.End) {
		t.Error("bounds must be inclusive on a DST date too")
	}
	if win.Contains(win.End.Add(time.Millisecond)) {
		t.Error("1ms past end must be excluded on a DST date")
	}
}

func TestResolveBadTimeZone(t *testing.T) {
	_, err := Resolve(time.Now(), ModeCalendar, 0, "Not/AZone")
	if err == nil {
		t.Fatal("expected error for bad time zone")
	}
}

func TestResolveUnknownMode(t *testing.T) {
	_, err := Resolve(time.Now(), Mode("sometimes"), 0, "UTC")
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestRollingDefaultHours(t *testing.T) {
	now := time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)
	win, err := Resolve(now, ModeRolling, 0, "UTC")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if want := now.Add(-24 * time.Hour); !win.Start.Equal(want) {
		t.Errorf("expected 24h default lookback, got start %v", win.Start)
	}
}
