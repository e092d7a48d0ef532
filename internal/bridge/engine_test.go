package bridge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kapu/mc-relay-go/internal/config"
	"github.com/kapu/mc-relay-go/internal/gateway"
	"github.com/kapu/mc-relay-go/internal/normalize"
	"github.com/kapu/mc-relay-go/internal/wire"
)

type recordingSink struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingSink) Broadcast(ctx context.Context, targets []string, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

type countingResolver struct {
	mu    sync.Mutex
	calls int
}

func (c *countingResolver) Resolve(ctx context.Context, url string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return url, nil
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		WSPort:               0, // ephemeral port for tests
		WSToken:              "sekrit",
		Channels:             []string{"qq:100"},
		PassiveFlushDelaySec: 1,
		TriggerToChat:        "qq",
		TriggerToChatEnabled: true,
		SuspendNotice:        "转发暂停",
	}
}

func newTestEngine(t *testing.T, cfg *config.AppConfig, sink *recordingSink) (*Engine, *gateway.Server) {
	t.Helper()
	gw := gateway.NewServer(cfg.WSToken, nil)
	nz := normalize.New(&countingResolver{})
	e, err := New(cfg, gw, nz, sink, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, gw
}

func TestChannelRegistryDrivesEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Channels = nil
	e, _ := newTestEngine(t, cfg, &recordingSink{})
	defer e.Close()

	e.HandleLogin("qq", "100")
	if e.Controller().Suspended() {
		t.Fatalf("expected delivery enabled after login")
	}
	if got := e.targets(); len(got) != 1 || got[0] != "qq:100" {
		t.Fatalf("unexpected targets %v", got)
	}

	e.HandleLogout("qq")
	if !e.Controller().Suspended() {
		t.Fatalf("expected delivery suspended with no bridged channels")
	}
}

func TestChatMessageSkippedWithoutGameClient(t *testing.T) {
	cfg := testConfig()
	gw := gateway.NewServer(cfg.WSToken, nil)
	resolver := &countingResolver{}
	e, err := New(cfg, gw, normalize.New(resolver), &recordingSink{}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	e.HandleChatMessage(context.Background(), "qq", "100", "Alice",
		[]normalize.Element{{Type: "text", Text: "see https://example.com/a"}})
	if resolver.calls != 0 {
		t.Fatalf("expected no shortlink work without a connected game client")
	}
}

func TestEndToEndRelay(t *testing.T) {
	cfg := testConfig()
	sink := &recordingSink{}
	e, gw := newTestEngine(t, cfg, sink)
	defer e.Close()

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	wsURL := fmt.Sprintf("ws://%s/?access_token=%s", gw.Addr(), cfg.WSToken)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for !gw.HasClient() {
		if time.Now().After(deadline) {
			t.Fatalf("game client not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Chat → game.
	e.HandleChatMessage(context.Background(), "qq", "100", "Alice",
		[]normalize.Element{{Type: "text", Text: "hello game"}})
	var env wire.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if env.Sender != "Alice" || env.Message != "hello game" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	// Game → chat, through the trigger rewrite.
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"message":"[Survival] <Bob> qq hi all"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for len(sink.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("message never reached the sink")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := sink.snapshot()[0]; got != "Bob说: hi all" {
		t.Fatalf("unexpected broadcast %q", got)
	}
}

func TestFirstTextToken(t *testing.T) {
	elems := []normalize.Element{
		{Type: "img", Src: "x"},
		{Type: "text", Text: "  mc hello"},
	}
	if got := firstTextToken(elems); got != "mc" {
		t.Fatalf("expected mc, got %q", got)
	}
	if got := firstTextToken(nil); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}
