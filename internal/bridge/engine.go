// Package bridge wires the relay together: gateway, normalizer, delivery
// controller and scheduler, plus the bridged-channel registry.
package bridge

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/mc-relay-go/internal/config"
	"github.com/kapu/mc-relay-go/internal/delivery"
	"github.com/kapu/mc-relay-go/internal/gateway"
	"github.com/kapu/mc-relay-go/internal/normalize"
	"github.com/kapu/mc-relay-go/internal/schedule"
	"github.com/kapu/mc-relay-go/internal/wire"
)

type Engine struct {
	cfg        *config.AppConfig
	logger     *zap.Logger
	gateway    *gateway.Server
	normalizer *normalize.Normalizer
	controller *delivery.Controller
	scheduler  *schedule.Scheduler

	mu         sync.Mutex
	channels   map[string]string // platform → channel id
	windowOpen bool
}

func New(cfg *config.AppConfig, gw *gateway.Server, nz *normalize.Normalizer, sink delivery.Sink, store delivery.StateStore, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		gateway:    gw,
		normalizer: nz,
		channels:   make(map[string]string),
		windowOpen: true,
	}
	for _, ch := range cfg.Channels {
		platform, id, ok := strings.Cut(ch, ":")
		if ok {
			e.channels[platform] = id
		}
	}

	e.controller = delivery.NewController(sink, store, delivery.Options{
		PrimaryTargets:  e.targets,
		FallbackChannel: cfg.FallbackChannel,
		Passive:         cfg.PassiveMode,
		FlushDelay:      time.Duration(cfg.PassiveFlushDelaySec) * time.Second,
		TriggerMode:     cfg.TriggerToChatEnabled,
		TriggerWord:     cfg.TriggerToChat,
		Notice:          cfg.SuspendNotice,
		Notify:          e.notifyGame,
	}, logger)

	if cfg.ScheduleEnabled {
		startH, startM, err := config.ParseClock(cfg.ScheduleStart)
		if err != nil {
			return nil, err
		}
		stopH, stopM, err := config.ParseClock(cfg.ScheduleStop)
		if err != nil {
			return nil, err
		}
		e.scheduler = schedule.New(
			schedule.HourMinute{Hour: startH, Minute: startM},
			schedule.HourMinute{Hour: stopH, Minute: stopM},
			e.setWindowOpen, logger)
	}

	gw.SetInboundHandler(e.handleInbound)
	return e, nil
}

// Start restores delivery state, binds the relay port, and arms the window
// scheduler.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.controller.Start(ctx); err != nil {
		return err
	}
	if err := e.gateway.Listen(e.cfg.WSPort); err != nil {
		return err
	}
	if e.scheduler != nil {
		e.scheduler.Arm()
	} else {
		e.refreshEnabled()
	}
	return nil
}

// Close stops the scheduler and controller timers, then the gateway. Any
// queued messages are dropped.
func (e *Engine) Close() {
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
	e.controller.Close()
	e.gateway.Close()
}

// HandleChatMessage relays one chat-platform message toward the game side.
// Messages for untracked channels are ignored, and nothing is normalized
// unless a game client is connected, so shortlink calls are never wasted.
func (e *Engine) HandleChatMessage(ctx context.Context, platform, channelID, userName string, elements []normalize.Element) {
	defer e.recovered("chat message handler")

	e.mu.Lock()
	tracked := e.channels[platform] == channelID
	e.mu.Unlock()
	if !tracked {
		return
	}
	if !e.gateway.HasClient() {
		return
	}

	strip := false
	if trigger := e.cfg.TriggerToGame; trigger != "" {
		if firstTextToken(elements) != trigger {
			return
		}
		strip = true
	}

	flat, err := e.normalizer.Flatten(ctx, elements, strip)
	if err != nil {
		e.logger.Error("normalize failed, message not relayed",
			zap.String("channel", platform+":"+channelID), zap.Error(err))
		return
	}
	if strings.TrimSpace(flat) == "" {
		return
	}

	if err := e.gateway.Send(ctx, wire.Envelope{Sender: userName, Message: flat}); err != nil {
		e.logger.Warn("relay to game failed", zap.Error(err))
	}
}

// HandleLogin tracks a freshly logged-in bot account's channel and
// recomputes the broadcast target set.
func (e *Engine) HandleLogin(platform, channelID string) {
	e.mu.Lock()
	e.channels[platform] = channelID
	e.mu.Unlock()
	e.logger.Info("platform login", zap.String("platform", platform), zap.String("channel", channelID))
	e.refreshEnabled()
}

// HandleLogout drops a logged-out platform from the target set.
func (e *Engine) HandleLogout(platform string) {
	e.mu.Lock()
	delete(e.channels, platform)
	e.mu.Unlock()
	e.logger.Info("platform logout", zap.String("platform", platform))
	e.refreshEnabled()
}

// Controller exposes the delivery controller for the host process.
func (e *Engine) Controller() *delivery.Controller { return e.controller }

func (e *Engine) handleInbound(message string) {
	defer e.recovered("inbound message handler")
	e.controller.Submit(context.Background(), message)
}

func (e *Engine) notifyGame(ctx context.Context, text string) {
	if err := e.gateway.Send(ctx, wire.Envelope{Sender: "relay", Message: text}); err != nil {
		e.logger.Warn("suspension notice send failed", zap.Error(err))
	}
}

func (e *Engine) targets() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.channels))
	for platform, id := range e.channels {
		out = append(out, platform+":"+id)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) setWindowOpen(open bool) {
	e.mu.Lock()
	e.windowOpen = open
	e.mu.Unlock()
	e.refreshEnabled()
}

func (e *Engine) refreshEnabled() {
	e.mu.Lock()
	enabled := e.windowOpen && len(e.channels) > 0
	e.mu.Unlock()
	e.controller.SetEnabled(enabled)
}

// firstTextToken returns the first space-delimited token of the first text
// segment, used for the chat→game trigger check before normalization.
func firstTextToken(elements []normalize.Element) string {
	for _, el := range elements {
		if el.Type != "text" {
			continue
		}
		fields := strings.Fields(el.Text)
		if len(fields) == 0 {
			return ""
		}
		return fields[0]
	}
	return ""
}

func (e *Engine) recovered(where string) {
	if r := recover(); r != nil {
		e.logger.Error("panic recovered", zap.String("handler", where), zap.Any("panic", r))
	}
}
