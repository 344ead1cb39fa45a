package infra

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"noticeboard/notice/domain"

	"github.com/redis/go-redis/v9"
)

// RedisCache implementa domain.Cache com um hash por aviso em
// "<prefix>:notice:<id>": campos version e data (JSON), ou gone=1 quando a
// chave é uma lápide.
type RedisCache struct {
	rdb          redis.UniversalClient
	prefix       string
	tombstoneTTL time.Duration
}

// storeScript grava a entrada de forma condicional.
// KEYS[1] = chave; ARGV = modo (fill|write), versão, JSON, TTL em ms.
// fill só grava se a chave não existir; write não regride a versão
// cacheada mas sobrescreve lápides.
var storeScript = redis.NewScript(`
local key = KEYS[1]
if ARGV[1] == "fill" then
  if redis.call("EXISTS", key) == 1 then
    return 0
  end
elseif not redis.call("HGET", key, "gone") then
  local cur = redis.call("HGET", key, "version")
  if cur and tonumber(cur) >= tonumber(ARGV[2]) then
    return 0
  end
end
redis.call("DEL", key)
redis.call("HSET", key, "version", ARGV[2], "data", ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call("PEXPIRE", key, ARGV[4])
end
return 1
`)

func NewRedisCache(rdb redis.UniversalClient, opts ...Option) *RedisCache {
	o := applyOptions(opts)
	return &RedisCache{rdb: rdb, prefix: o.prefix, tombstoneTTL: o.tombstoneTTL}
}

func (c *RedisCache) key(id int64) string {
	return c.prefix + ":notice:" + strconv.FormatInt(id, 10)
}

func (c *RedisCache) Read(ctx context.Context, id int64) (domain.Notice, bool, error) {
	fields, err := c.rdb.HGetAll(ctx, c.key(id)).Result()
	if err != nil {
		return domain.Notice{}, false, domain.E("cache read", domain.KindCacheUnavailable, err)
	}
	raw := fields["data"]
	if fields["gone"] != "" || raw == "" {
		return domain.Notice{}, false, nil
	}
	var n domain.Notice
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		// entrada corrompida conta como miss; o próximo Write sobrescreve.
		return domain.Notice{}, false, nil
	}
	return n, true, nil
}

func (c *RedisCache) Write(ctx context.Context, n domain.Notice, ttl time.Duration) error {
	return c.store(ctx, "write", n, ttl)
}

func (c *RedisCache) Fill(ctx context.Context, n domain.Notice, ttl time.Duration) error {
	return c.store(ctx, "fill", n, ttl)
}

func (c *RedisCache) store(ctx context.Context, mode string, n domain.Notice, ttl time.Duration) error {
	op := "cache " + mode
	raw, err := json.Marshal(n)
	if err != nil {
		return domain.E(op, domain.KindCacheUnavailable, err)
	}
	err = storeScript.Run(ctx, c.rdb, []string{c.key(n.ID)}, mode, n.Version, raw, ttl.Milliseconds()).Err()
	if err != nil {
		return domain.E(op, domain.KindCacheUnavailable, err)
	}
	return nil
}

// Invalidate troca a entrada por uma lápide numa transação.
func (c *RedisCache) Invalidate(ctx context.Context, id int64) error {
	key := c.key(id)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "gone", "1")
		pipe.PExpire(ctx, key, c.tombstoneTTL)
		return nil
	})
	if err != nil {
		return domain.E("cache invalidate", domain.KindCacheUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return domain.E("cache ping", domain.KindCacheUnavailable, err)
	}
	return nil
}

var _ domain.Cache = (*RedisCache)(nil)
