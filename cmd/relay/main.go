package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcfg "github.com/kapu/mc-relay-go/internal/config"
	"github.com/kapu/mc-relay-go/internal/bridge"
	"github.com/kapu/mc-relay-go/internal/delivery"
	"github.com/kapu/mc-relay-go/internal/gateway"
	"github.com/kapu/mc-relay-go/internal/normalize"
	"github.com/kapu/mc-relay-go/internal/obslog"
	"github.com/kapu/mc-relay-go/internal/platform"
	"github.com/kapu/mc-relay-go/internal/shortlink"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	resolver := shortlink.New(cfg.ShortlinkMode, cfg.ShortlinkAPIURL, cfg.ShortlinkToken)
	normalizer := normalize.New(resolver)

	sink := platform.NewClient(cfg.PlatformAPIURL)

	var store delivery.StateStore = delivery.NewMemoryStore()
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb = redis.NewClient(opts)
		store = delivery.NewRedisStore(rdb)
	}

	gw := gateway.NewServer(cfg.WSToken, logger)

	engine, err := bridge.New(cfg, gw, normalizer, sink, store, logger)
	if err != nil {
		logger.Fatal("engine init failed", zap.Error(err))
	}

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		if errors.Is(err, gateway.ErrPortInUse) {
			logger.Fatal("relay port already in use, is another relay instance running?",
				zap.Int("port", cfg.WSPort))
		}
		logger.Fatal("engine start failed", zap.Error(err))
	}

	var events *platform.EventStream
	if cfg.PlatformEventWSURL != "" {
		events = platform.NewEventStream(cfg.PlatformEventWSURL, platform.EventHandlers{
			OnChatMessage: func(pf, channelID, userName string, elements []normalize.Element) {
				// Keep the event loop responsive; normalization may block
				// on the shortlink API.
				go engine.HandleChatMessage(context.Background(), pf, channelID, userName, elements)
			},
			OnLogin:  engine.HandleLogin,
			OnLogout: engine.HandleLogout,
		}, logger)
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := events.Connect(cctx)
		cancel()
		if err != nil {
			logger.Fatal("event stream connect failed", zap.Error(err))
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	if events != nil {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = events.Close(cctx)
		cancel()
	}
	engine.Close()
	if rdb != nil {
		_ = rdb.Close()
	}
}
