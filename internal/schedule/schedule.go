// Package schedule arms the daily timers that open and close the relay
// window.
package schedule

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HourMinute is one daily boundary.
type HourMinute struct {
	Hour   int
	Minute int
}

// Scheduler flips the relay's enabled state at the configured start and
// stop instants. Exactly one timer is outstanding at a time; re-arming
// always cancels the previous one.
type Scheduler struct {
	start    HourMinute
	stop     HourMinute
	onToggle func(enabled bool)
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

type Option func(*Scheduler)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(start, stop HourMinute, onToggle func(bool), logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{start: start, stop: stop, onToggle: onToggle, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Arm reports the current window state through onToggle and schedules the
// next boundary crossing.
func (s *Scheduler) Arm() {
	now := s.now()
	open := s.WindowOpen(now)
	s.onToggle(open)
	s.armNext(now)
}

// WindowOpen reports whether the relay window contains t, handling windows
// that span midnight (stop numerically before start).
func (s *Scheduler) WindowOpen(t time.Time) bool {
	startD := sinceMidnight(s.start)
	stopD := sinceMidnight(s.stop)
	cur := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
	if startD == stopD {
		return true
	}
	if startD < stopD {
		return cur >= startD && cur < stopD
	}
	return cur >= startD || cur < stopD
}

// UntilNext returns the wait to the next boundary and whether that boundary
// opens the window.
func (s *Scheduler) UntilNext(now time.Time) (time.Duration, bool) {
	untilStart := untilBoundary(now, s.start)
	untilStop := untilBoundary(now, s.stop)
	if untilStart <= untilStop {
		return untilStart, true
	}
	return untilStop, false
}

func (s *Scheduler) armNext(now time.Time) {
	wait, opens := s.UntilNext(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.logger.Info("relay window timer armed",
		zap.Duration("wait", wait), zap.Bool("opens", opens))
	s.timer = time.AfterFunc(wait, func() {
		s.onToggle(opens)
		s.armNext(s.now())
	})
}

// Stop cancels the armed timer; idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func sinceMidnight(hm HourMinute) time.Duration {
	return time.Duration(hm.Hour)*time.Hour + time.Duration(hm.Minute)*time.Minute
}

// untilBoundary computes the wait from now to the next occurrence of the
// boundary, adding a day when it is numerically behind now.
func untilBoundary(now time.Time, hm HourMinute) time.Duration {
	y, m, d := now.Date()
	next := time.Date(y, m, d, hm.Hour, hm.Minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
