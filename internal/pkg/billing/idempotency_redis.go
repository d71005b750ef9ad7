package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisEventKeyPrefix = "tiergate:webhook:event:"

// RedisGuard admits event ids with SET NX EX for the processing lease.
// Complete rewrites the key with the retention TTL, so no sweeper is needed.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	lease  time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisGuard{client: client, ttl: ttl, lease: DefaultProcessingLease}
}

// WithLease sets how long an unfinished admission blocks redeliveries.
func (g *RedisGuard) WithLease(d time.Duration) *RedisGuard {
	if d > 0 {
		g.lease = d
	}
	return g
}

func redisEventKey(eventID string) string {
	return redisEventKeyPrefix + strings.TrimSpace(eventID)
}

func (g *RedisGuard) Admit(ctx context.Context, eventID string) (Admission, error) {
	if strings.TrimSpace(eventID) == "" {
		return 0, errEmptyEventID
	}
	ok, err := g.client.SetNX(ctx, redisEventKey(eventID), processingOutcome, g.lease).Result()
	if err != nil {
		return 0, err
	}
	if ok {
		return Admitted, nil
	}
	return Duplicate, nil
}

func (g *RedisGuard) Complete(ctx context.Context, eventID, outcome string) error {
	err := g.client.SetArgs(ctx, redisEventKey(eventID), outcome, redis.SetArgs{
		Mode: "XX",
		TTL:  g.ttl,
	}).Err()
	if errors.Is(err, redis.Nil) {
		// key expired or was released in the meantime
		return nil
	}
	return err
}

func (g *RedisGuard) Release(ctx context.Context, eventID string) error {
	return g.client.Del(ctx, redisEventKey(eventID)).Err()
}
