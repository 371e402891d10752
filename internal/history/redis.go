package history

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var prependScript = redis.NewScript(`
local limit = tonumber(ARGV[3])
redis.call("LREM", KEYS[1], 0, ARGV[1])
redis.call("LPUSH", KEYS[1], ARGV[1])
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
local dropped = redis.call("LRANGE", KEYS[1], limit, -1)
for _, id in ipairs(dropped) do
  redis.call("HDEL", KEYS[2], id)
end
redis.call("LTRIM", KEYS[1], 0, limit - 1)
return #dropped
`)

var removeScript = redis.NewScript(`
local n = redis.call("LREM", KEYS[1], 0, ARGV[1])
redis.call("HDEL", KEYS[2], ARGV[1])
return n
`)

var listScript = redis.NewScript(`
local ids = redis.call("LRANGE", KEYS[1], 0, -1)
if #ids == 0 then
  return {}
end
return redis.call("HMGET", KEYS[2], unpack(ids))
`)

// RedisBackend keeps each log as a list of ids plus a hash of payloads.
type RedisBackend struct {
	redis  *redis.Client
	prefix string
}

func NewRedisBackend(rdb *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "prism"
	}
	return &RedisBackend{redis: rdb, prefix: prefix}
}

func (b *RedisBackend) keys(log string) []string {
	return []string{
		fmt.Sprintf("%s:history:%s:ids", b.prefix, log),
		fmt.Sprintf("%s:history:%s:data", b.prefix, log),
	}
}

func (b *RedisBackend) Prepend(ctx context.Context, log, id string, payload []byte, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("history limit must be > 0")
	}
	if err := prependScript.Run(ctx, b.redis, b.keys(log), id, payload, limit).Err(); err != nil {
		return fmt.Errorf("prepend script: %w", err)
	}
	return nil
}

func (b *RedisBackend) Remove(ctx context.Context, log, id string) (bool, error) {
	n, err := removeScript.Run(ctx, b.redis, b.keys(log), id).Int64()
	if err != nil {
		return false, fmt.Errorf("remove script: %w", err)
	}
	return n > 0, nil
}

func (b *RedisBackend) List(ctx context.Context, log string) ([][]byte, error) {
	res, err := listScript.Run(ctx, b.redis, b.keys(log)).Slice()
	if err != nil {
		return nil, fmt.Errorf("list script: %w", err)
	}
	out := make([][]byte, 0, len(res))
	for _, v := range res {
		switch t := v.(type) {
		case string:
			out = append(out, []byte(t))
		case []byte:
			out = append(out, t)
		}
	}
	return out, nil
}

func (b *RedisBackend) Clear(ctx context.Context, log string) error {
	if err := b.redis.Del(ctx, b.keys(log)...).Err(); err != nil {
		return fmt.Errorf("clear log: %w", err)
	}
	return nil
}
