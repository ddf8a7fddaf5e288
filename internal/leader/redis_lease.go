package leader

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisLeaderKey = "slaps:leader"

// RedisLease is the server-fields backend's multi-host transport,
// grounded on the teacher's scheduler distributed lock (SETNX with a
// TTL, held only long enough to renew): here the lock itself IS the
// leadership token, renewed every Acquire call rather than released
// immediately after one batch.
type RedisLease struct {
	client *redis.Client
	id     string
	ttl    time.Duration
}

func NewRedisLease(client *redis.Client, holderID string, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, id: holderID, ttl: ttl}
}

// Acquire renews leadership if this process already holds it, or takes
// over via SETNX if the key is absent (the previous holder's TTL
// expired). A holder mismatch with a live TTL means someone else leads.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	won, err := l.client.SetNX(ctx, redisLeaderKey, l.id, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("leader: redis setnx: %w", err)
	}
	if won {
		return true, nil
	}

	current, err := l.client.Get(ctx, redisLeaderKey).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("leader: redis get: %w", err)
	}
	if current != l.id {
		return false, nil
	}
	// still the holder: renew the TTL.
	if err := l.client.Expire(ctx, redisLeaderKey, l.ttl).Err(); err != nil {
		return false, fmt.Errorf("leader: redis renew: %w", err)
	}
	return true, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	current, err := l.client.Get(ctx, redisLeaderKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("leader: redis get: %w", err)
	}
	if current != l.id {
		return nil
	}
	if err := l.client.Del(ctx, redisLeaderKey).Err(); err != nil {
		return fmt.Errorf("leader: redis del: %w", err)
	}
	return nil
}

var _ Lease = (*RedisLease)(nil)
