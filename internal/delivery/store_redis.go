package delivery

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyFailover = "relay:failover"

// RedisStore keeps failover flags in Redis so a mid-day restart does not
// forget that the fallback channel is already exhausted.
type RedisStore struct{ rdb *redis.Client }

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func (s *RedisStore) Load(ctx context.Context) (State, error) {
	vals, err := s.rdb.HGetAll(ctx, keyFailover).Result()
	if err != nil {
		return State{}, err
	}
	return State{
		UsingFallback:     vals["using_fallback"] == "1",
		FallbackExhausted: vals["fallback_exhausted"] == "1",
	}, nil
}

func (s *RedisStore) Save(ctx context.Context, st State, expiry time.Time) error {
	if err := s.rdb.HSet(ctx, keyFailover,
		"using_fallback", boolField(st.UsingFallback),
		"fallback_exhausted", boolField(st.FallbackExhausted),
	).Err(); err != nil {
		return err
	}
	return s.rdb.ExpireAt(ctx, keyFailover, expiry).Err()
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, keyFailover).Err()
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
