package delivery

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	st, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if st.UsingFallback || st.FallbackExhausted {
		t.Fatalf("expected zero state, got %+v", st)
	}

	want := State{UsingFallback: true, FallbackExhausted: true}
	if err := store.Save(ctx, want, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	st, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st != want {
		t.Fatalf("round trip mismatch: %+v", st)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	st, _ = store.Load(ctx)
	if st.UsingFallback || st.FallbackExhausted {
		t.Fatalf("expected cleared state, got %+v", st)
	}
}

func TestRedisStoreExpiresAtReset(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, State{UsingFallback: true}, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	st, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.UsingFallback {
		t.Fatalf("expected state to expire with the daily reset, got %+v", st)
	}
}
