package store

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-latch/v1/store")

// delScript deletes the key only when its value still equals the caller's
// token. Running it server-side keeps the read and the delete indivisible;
// a plain GET followed by DEL would race with expiry and reassignment.
var delScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// extendScript refreshes the expiry only when the caller still owns the key.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
    return 0
end
`)

// Redis implements Store using a Redis backend. Atomicity comes from SET NX
// for acquisition and from server-side Lua scripts for the conditional
// delete and extend.
type Redis struct {
	client *redis.Client
}

// NewRedis returns a new Redis store using the provided client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// TrySet implements Store.TrySet using SET NX PX.
func (s *Redis) TrySet(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, latcherrors.ErrInvalidTTL
	}
	ctx, span := tracer.Start(ctx, "RedisStore.TrySet", trace.WithAttributes(attribute.String("latch.key", key)))
	defer span.End()

	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", latcherrors.ErrStoreUnavailable, err)
	}
	return ok, nil
}

// DeleteIfOwner implements Store.DeleteIfOwner.
func (s *Redis) DeleteIfOwner(ctx context.Context, key, token string) (bool, error) {
	ctx, span := tracer.Start(ctx, "RedisStore.DeleteIfOwner", trace.WithAttributes(attribute.String("latch.key", key)))
	defer span.End()

	res, err := delScript.Run(ctx, s.client, []string{key}, token).Int64()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("%w: %v", latcherrors.ErrStoreUnavailable, err)
	}
	return res == 1, nil
}

// ExtendIfOwner implements Store.ExtendIfOwner.
func (s *Redis) ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, latcherrors.ErrInvalidTTL
	}
	ctx, span := tracer.Start(ctx, "RedisStore.ExtendIfOwner", trace.WithAttributes(attribute.String("latch.key", key)))
	defer span.End()

	res, err := extendScript.Run(ctx, s.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("%w: %v", latcherrors.ErrStoreUnavailable, err)
	}
	return res == 1, nil
}
