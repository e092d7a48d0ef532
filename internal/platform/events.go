package platform

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kapu/mc-relay-go/internal/normalize"
)

// Event is one frame of the bot API's event stream.
type Event struct {
	Type      string              `json:"type"`
	Platform  string              `json:"platform,omitempty"`
	ChannelID string              `json:"channel_id,omitempty"`
	UserName  string              `json:"user_name,omitempty"`
	Elements  []normalize.Element `json:"elements,omitempty"`
}

// EventHandlers receives dispatched platform events.
type EventHandlers struct {
	OnChatMessage func(platform, channelID, userName string, elements []normalize.Element)
	OnLogin       func(platform, channelID string)
	OnLogout      func(platform string)
}

// EventStream maintains the WebSocket subscription to the bot API's event
// feed, reconnecting with bounded exponential backoff.
type EventStream struct {
	wsURL    string
	handlers EventHandlers
	logger   *zap.Logger

	maxReconnectAttempts int

	conn *websocket.Conn

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewEventStream(wsURL string, handlers EventHandlers, logger *zap.Logger) *EventStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStream{
		wsURL:                wsURL,
		handlers:             handlers,
		logger:               logger,
		maxReconnectAttempts: 10,
		stopCh:               make(chan struct{}),
	}
}

func (es *EventStream) Connect(ctx context.Context) error {
	es.rootCtx, es.rootCancel = context.WithCancel(context.Background())

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, es.wsURL, nil)
	if err != nil {
		return err
	}
	es.conn = conn

	es.wg.Add(1)
	go es.listen()
	return nil
}

func (es *EventStream) listen() {
	defer es.wg.Done()
	for {
		select {
		case <-es.stopCh:
			return
		default:
		}

		var ev Event
		if err := wsjson.Read(es.rootCtx, es.conn, &ev); err != nil {
			if es.isStopping() {
				return
			}
			es.logger.Warn("event stream read failed, reconnecting", zap.Error(err))
			_ = es.conn.Close(websocket.StatusGoingAway, "reconnect")
			es.scheduleReconnect()
			return
		}
		es.dispatch(&ev)
	}
}

func (es *EventStream) dispatch(ev *Event) {
	switch ev.Type {
	case "message":
		if es.handlers.OnChatMessage != nil {
			es.handlers.OnChatMessage(ev.Platform, ev.ChannelID, ev.UserName, ev.Elements)
		}
	case "login":
		if es.handlers.OnLogin != nil {
			es.handlers.OnLogin(ev.Platform, ev.ChannelID)
		}
	case "logout":
		if es.handlers.OnLogout != nil {
			es.handlers.OnLogout(ev.Platform)
		}
	default:
		es.logger.Debug("unhandled platform event", zap.String("type", ev.Type))
	}
}

func (es *EventStream) scheduleReconnect() {
	es.wg.Add(1)
	go func() {
		defer es.wg.Done()
		for attempt := 1; attempt <= es.maxReconnectAttempts; attempt++ {
			select {
			case <-es.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}

			dialCtx, cancel := context.WithTimeout(es.rootCtx, 10*time.Second)
			conn, _, err := websocket.Dial(dialCtx, es.wsURL, nil)
			cancel()
			if err != nil {
				continue
			}
			es.conn = conn
			es.logger.Info("event stream reconnected", zap.Int("attempt", attempt))
			es.wg.Add(1)
			go es.listen()
			return
		}
		es.logger.Error("event stream reconnect attempts exhausted")
	}()
}

func (es *EventStream) Close(ctx context.Context) error {
	es.stopOnce.Do(func() { close(es.stopCh) })
	if es.conn != nil {
		_ = es.conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		es.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if es.rootCancel != nil {
			es.rootCancel()
		}
		return nil
	}
}

func (es *EventStream) isStopping() bool {
	select {
	case <-es.stopCh:
		return true
	default:
		return false
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 500 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}
