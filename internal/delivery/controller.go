// Package delivery decides how and whether an outbound message reaches the
// chat platform's broadcast sink, tolerating rate limits through a
// primary/fallback channel switch and batching sends in passive mode.
package delivery

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink is the chat platform's broadcast primitive. Targets are channel
// references of the form "platform:id".
type Sink interface {
	Broadcast(ctx context.Context, targets []string, text string) error
}

// Notifier pushes a user-visible notice back to the game side.
type Notifier func(ctx context.Context, text string)

// Options carries the configuration surface of the controller.
type Options struct {
	// PrimaryTargets yields the current bridged channel set.
	PrimaryTargets func() []string
	// FallbackChannel is the secondary target; empty disables failover.
	FallbackChannel string

	// Passive batches submissions and flushes after FlushDelay.
	Passive    bool
	FlushDelay time.Duration

	// TriggerMode gates game chat lines on TriggerWord being their third
	// token.
	TriggerMode bool
	TriggerWord string

	// Notice is sent to the game side once per suspension episode.
	Notice string
	Notify Notifier

	Now func() time.Time
}

type Controller struct {
	sink   Sink
	store  StateStore
	logger *zap.Logger
	opts   Options

	mu                sync.Mutex
	enabled           bool
	usingFallback     bool
	fallbackExhausted bool
	pending           []string
	awaitingFlush     bool
	noticeSent        bool
	flushTimer        *time.Timer
	resetTimer        *time.Timer
	closed            bool
}

func NewController(sink Sink, store StateStore, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = 5 * time.Second
	}
	return &Controller{sink: sink, store: store, logger: logger, opts: opts, enabled: true}
}

// Start restores persisted failover flags and arms the daily reset timer.
func (c *Controller) Start(ctx context.Context) error {
	st, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.usingFallback = st.UsingFallback
	c.fallbackExhausted = st.FallbackExhausted
	c.mu.Unlock()
	if st.UsingFallback || st.FallbackExhausted {
		c.logger.Info("restored failover state",
			zap.Bool("using_fallback", st.UsingFallback),
			zap.Bool("fallback_exhausted", st.FallbackExhausted))
	}
	c.armDailyReset()
	return nil
}

// SetEnabled is invoked by the scheduler and by channel registry changes.
// Leaving the suspended state re-arms the one-shot suspension notice.
func (c *Controller) SetEnabled(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasSuspended := c.suspendedLocked()
	c.enabled = v
	if wasSuspended && !c.suspendedLocked() {
		c.noticeSent = false
	}
}

// Suspended reports whether delivery is fully suspended.
func (c *Controller) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspendedLocked()
}

func (c *Controller) suspendedLocked() bool { return !c.enabled || c.fallbackExhausted }

// UsingFallback reports whether the fallback channel is the active target.
func (c *Controller) UsingFallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usingFallback
}

// Submit routes one game-side message toward the broadcast sink.
func (c *Controller) Submit(ctx context.Context, msg string) {
	c.mu.Lock()
	if c.suspendedLocked() {
		sendNotice := !c.noticeSent
		c.noticeSent = true
		c.mu.Unlock()
		if sendNotice && c.opts.Notify != nil {
			c.opts.Notify(ctx, c.opts.Notice)
		}
		return
	}
	c.mu.Unlock()

	out, ok := c.rewrite(msg)
	if !ok {
		return
	}

	if !c.opts.Passive {
		c.deliver(ctx, []string{out})
		return
	}

	c.mu.Lock()
	c.pending = append(c.pending, out)
	if !c.awaitingFlush && !c.closed {
		c.awaitingFlush = true
		c.flushTimer = time.AfterFunc(c.opts.FlushDelay, c.flush)
	}
	c.mu.Unlock()
}

// rewrite applies the game→chat trigger convention. A line shaped like
// "[tag] <name> rest..." passes only when its third token equals the
// trigger word (trigger mode on) and becomes "name说: rest..."; any other
// shape is forwarded verbatim.
func (c *Controller) rewrite(msg string) (string, bool) {
	fields := strings.Fields(strings.TrimSpace(msg))
	matches := len(fields) >= 2 &&
		strings.HasPrefix(fields[0], "[") && strings.HasSuffix(fields[0], "]") &&
		strings.HasPrefix(fields[1], "<") && strings.HasSuffix(fields[1], ">")
	if !matches || !c.opts.TriggerMode {
		return msg, true
	}
	if len(fields) < 3 {
		return "", false
	}
	if fields[2] != c.opts.TriggerWord {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(fields[1], "<"), ">")
	return name + "说: " + strings.Join(fields[3:], " "), true
}

// flush drains the messages queued before it started; anything enqueued
// while it runs belongs to the next cycle.
func (c *Controller) flush() {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.awaitingFlush = false
	c.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	c.deliver(context.Background(), batch)
}

func (c *Controller) deliver(ctx context.Context, batch []string) {
	for i := 0; i < len(batch); i++ {
		targets := c.activeTargets()
		if len(targets) == 0 {
			c.logger.Warn("no broadcast targets bound, dropping message")
			continue
		}
		err := c.sink.Broadcast(ctx, targets, batch[i])
		if err == nil {
			continue
		}
		switch Classify(err) {
		case SinkUnavailable:
			// Bot offline or sink not initialized: surface to the
			// operator, no retry loop.
			c.logger.Warn("broadcast sink unavailable, is the bot online?", zap.Error(err))
		case SinkRateLimited:
			if c.enterFallback(ctx) {
				c.logger.Warn("rate limited, retrying on fallback channel", zap.Error(err))
				i--
				continue
			}
			c.logger.Warn("rate limited with no fallback left, delivery suspended until daily reset",
				zap.Int("dropped", len(batch)-i), zap.Error(err))
			return
		default:
			c.logger.Error("broadcast failed", zap.Error(err))
		}
	}
}

func (c *Controller) activeTargets() []string {
	c.mu.Lock()
	usingFallback := c.usingFallback
	c.mu.Unlock()
	if usingFallback && c.opts.FallbackChannel != "" {
		return []string{c.opts.FallbackChannel}
	}
	if c.opts.PrimaryTargets == nil {
		return nil
	}
	return c.opts.PrimaryTargets()
}

// enterFallback advances the failover state machine on a rate-limit hit.
// It reports whether a retry against the fallback channel is allowed.
func (c *Controller) enterFallback(ctx context.Context) bool {
	c.mu.Lock()
	retry := false
	switch {
	case c.opts.FallbackChannel == "":
		c.usingFallback = true
		c.fallbackExhausted = true
	case c.usingFallback:
		c.fallbackExhausted = true
	default:
		c.usingFallback = true
		retry = true
	}
	st := State{UsingFallback: c.usingFallback, FallbackExhausted: c.fallbackExhausted}
	c.mu.Unlock()

	if err := c.store.Save(ctx, st, nextMidnight(c.opts.Now())); err != nil {
		c.logger.Warn("persist failover state failed", zap.Error(err))
	}
	return retry
}

func (c *Controller) armDailyReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.resetTimer != nil {
		c.resetTimer.Stop()
	}
	c.resetTimer = time.AfterFunc(nextMidnight(c.opts.Now()).Sub(c.opts.Now()), c.dailyReset)
}

func (c *Controller) dailyReset() {
	c.ResetFailover()
	c.armDailyReset()
}

// ResetFailover clears both failover flags and restores the primary
// channel. Fired by the midnight timer, also usable as an operator action.
func (c *Controller) ResetFailover() {
	c.mu.Lock()
	wasSuspended := c.suspendedLocked()
	c.usingFallback = false
	c.fallbackExhausted = false
	if wasSuspended && !c.suspendedLocked() {
		c.noticeSent = false
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Warn("clear failover state failed", zap.Error(err))
	}
	c.logger.Info("failover reset, primary channel restored")
}

// Close cancels the flush and reset timers. Queued messages are dropped;
// the queue is best-effort and in-memory only.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.flushTimer != nil {
		c.flushTimer.Stop()
	}
	if c.resetTimer != nil {
		c.resetTimer.Stop()
	}
	c.pending = nil
	c.awaitingFlush = false
}

func nextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}
