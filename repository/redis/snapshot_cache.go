package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/fastygo/recordlog/domain"
	"github.com/fastygo/recordlog/repository"
)

// putNewer stores ARGV[1] unless the cached snapshot already carries a higher version.
var putNewer = redislib.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, decoded = pcall(cjson.decode, cur)
  if ok and decoded.version and tonumber(decoded.version) > tonumber(ARGV[2]) then
    return 0
  end
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

type snapshotCache struct {
	client *redislib.Client
	prefix string
	ttl    time.Duration
}

// NewSnapshotCache creates a Redis-backed snapshot cache.
func NewSnapshotCache(client *redislib.Client, ttl time.Duration) repository.SnapshotCache {
	if ttl < 0 {
		ttl = 0
	}
	return &snapshotCache{
		client: client,
		prefix: "snapshot:",
		ttl:    ttl,
	}
}

func (c *snapshotCache) Get(ctx context.Context, id string) (*domain.Entity, bool, error) {
	result, err := c.client.Get(ctx, c.key(id)).Result()
	if err != nil {
		if err == redislib.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}

	var entity domain.Entity
	if err := json.Unmarshal([]byte(result), &entity); err != nil {
		return nil, false, err
	}
	if entity.Fields == nil {
		entity.Fields = domain.Fields{}
	}
	return &entity, true, nil
}

func (c *snapshotCache) Put(ctx context.Context, entity domain.Entity) error {
	if entity.ID == "" {
		return domain.ErrInvalidPayload
	}

	payload, err := json.Marshal(entity)
	if err != nil {
		return err
	}

	return putNewer.Run(ctx, c.client, []string{c.key(entity.ID)},
		payload, entity.Version, c.ttl.Milliseconds()).Err()
}

func (c *snapshotCache) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, c.key(id)).Err()
}

func (c *snapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *snapshotCache) key(id string) string {
	return fmt.Sprintf("%s%s", c.prefix, id)
}
