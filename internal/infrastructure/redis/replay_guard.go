package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const replayKeyPrefix = "bookingpay:webhook:seen:"

// ReplayGuard remembers webhook deliveries for a while so a resent
// notification is acknowledged without being processed twice.
type ReplayGuard struct {
	client *redis.Client
}

func NewReplayGuard(client *redis.Client) *ReplayGuard {
	return &ReplayGuard{client: client}
}

// Claim returns true for the first caller presenting key within ttl.
func (g *ReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, replayKeyPrefix+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim webhook delivery: %w", err)
	}
	return ok, nil
}

// Release forgets key so a later redelivery is processed again.
func (g *ReplayGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, replayKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release webhook delivery: %w", err)
	}
	return nil
}
