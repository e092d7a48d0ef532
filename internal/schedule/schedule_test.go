package schedule

import (
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2024, 3, 10, hour, min, 0, 0, time.Local)
}

func TestUntilNextHandlesMidnightWrap(t *testing.T) {
	s := New(HourMinute{Hour: 6}, HourMinute{Hour: 0}, func(bool) {}, nil)

	wait, opens := s.UntilNext(at(23, 0))
	if wait != time.Hour {
		t.Fatalf("expected 1h until the midnight stop, got %v", wait)
	}
	if opens {
		t.Fatalf("next boundary at midnight should close the window")
	}
}

func TestUntilNextPrefersNearestBoundary(t *testing.T) {
	s := New(HourMinute{Hour: 6}, HourMinute{Hour: 0}, func(bool) {}, nil)

	wait, opens := s.UntilNext(at(3, 0))
	if wait != 3*time.Hour || !opens {
		t.Fatalf("expected 3h until the 06:00 start, got %v opens=%v", wait, opens)
	}
}

func TestWindowOpen(t *testing.T) {
	// Relay runs 06:00→24:00, blackout 00:00→06:00.
	s := New(HourMinute{Hour: 6}, HourMinute{Hour: 0}, func(bool) {}, nil)
	if s.WindowOpen(at(3, 0)) {
		t.Fatalf("03:00 is inside the blackout")
	}
	if !s.WindowOpen(at(6, 0)) {
		t.Fatalf("06:00 opens the window")
	}
	if !s.WindowOpen(at(23, 59)) {
		t.Fatalf("23:59 is inside the window")
	}

	// A window fully inside one day.
	day := New(HourMinute{Hour: 9}, HourMinute{Hour: 17}, func(bool) {}, nil)
	if day.WindowOpen(at(8, 59)) || !day.WindowOpen(at(12, 0)) || day.WindowOpen(at(17, 0)) {
		t.Fatalf("09:00-17:00 window misbehaves")
	}

	// Equal boundaries mean always open.
	alwaysOn := New(HourMinute{Hour: 0}, HourMinute{Hour: 0}, func(bool) {}, nil)
	if !alwaysOn.WindowOpen(at(13, 37)) {
		t.Fatalf("equal boundaries should keep the window open")
	}
}

func TestArmReportsCurrentStateAndSingleTimer(t *testing.T) {
	var toggles []bool
	fixed := at(12, 0)
	s := New(HourMinute{Hour: 6}, HourMinute{Hour: 0},
		func(open bool) { toggles = append(toggles, open) },
		nil, WithClock(func() time.Time { return fixed }))
	defer s.Stop()

	s.Arm()
	if len(toggles) != 1 || !toggles[0] {
		t.Fatalf("expected an immediate open report at noon, got %v", toggles)
	}

	// Re-arming replaces the previous timer rather than stacking a second.
	first := s.timer
	s.Arm()
	if s.timer == first {
		t.Fatalf("expected a fresh timer on re-arm")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(HourMinute{Hour: 6}, HourMinute{Hour: 0}, func(bool) {}, nil)
	s.Arm()
	s.Stop()
	s.Stop()
	if s.timer != nil {
		t.Fatalf("expected timer cleared after Stop")
	}
}
