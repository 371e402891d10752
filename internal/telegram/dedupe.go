package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type UpdateDeduplicator struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func NewUpdateDeduplicator(rdb *redis.Client, prefix string, ttl time.Duration) *UpdateDeduplicator {
	if prefix == "" {
		prefix = "prism"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &UpdateDeduplicator{redis: rdb, prefix: prefix, ttl: ttl}
}

// MarkFirst reports whether updateID is seen for the first time.
func (d *UpdateDeduplicator) MarkFirst(ctx context.Context, updateID int64) (bool, error) {
	key := fmt.Sprintf("%s:update:%d", d.prefix, updateID)
	ok, err := d.redis.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}
