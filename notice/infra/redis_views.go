package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"noticeboard/notice/domain"

	"github.com/redis/go-redis/v9"
)

// RedisViewCounter guarda visualizações pendentes em "<prefix>:views:<id>".
// As chaves não expiram: só o Drain as remove.
type RedisViewCounter struct {
	rdb    redis.UniversalClient
	prefix string

	scanCount int64
}

func NewRedisViewCounter(rdb redis.UniversalClient, opts ...Option) *RedisViewCounter {
	o := applyOptions(opts)
	return &RedisViewCounter{rdb: rdb, prefix: o.prefix + ":views:", scanCount: 100}
}

func (c *RedisViewCounter) key(id int64) string {
	return c.prefix + strconv.FormatInt(id, 10)
}

func (c *RedisViewCounter) Incr(ctx context.Context, id int64) (int64, error) {
	v, err := c.rdb.Incr(ctx, c.key(id)).Result()
	if err != nil {
		return 0, domain.E("views incr", domain.KindCacheUnavailable, err)
	}
	return v, nil
}

func (c *RedisViewCounter) Add(ctx context.Context, id int64, n int64) error {
	if err := c.rdb.IncrBy(ctx, c.key(id), n).Err(); err != nil {
		return domain.E("views add", domain.KindCacheUnavailable, err)
	}
	return nil
}

func (c *RedisViewCounter) Discard(ctx context.Context, id int64) error {
	if err := c.rdb.Del(ctx, c.key(id)).Err(); err != nil {
		return domain.E("views discard", domain.KindCacheUnavailable, err)
	}
	return nil
}

// Drain percorre as chaves com SCAN e lê-e-apaga cada uma com GETDEL, então
// incrementos concorrentes nunca se perdem: ou entram nesta leitura ou
// recriam a chave para o próximo ciclo.
//
// Chaves cujo sufixo não é um id numérico não são tocadas. Se algum GETDEL
// falhar, o mapa devolvido junto com o erro traz as contagens que já foram
// removidas do Redis; quem chama precisa persisti-las ou devolvê-las.
func (c *RedisViewCounter) Drain(ctx context.Context) (map[int64]int64, error) {
	out := make(map[int64]int64)

	var (
		keys []string
		ids  []int64
	)
	iter := c.rdb.Scan(ctx, 0, c.prefix+"*", c.scanCount).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		id, err := strconv.ParseInt(strings.TrimPrefix(k, c.prefix), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		keys = append(keys, k)
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, domain.E("views drain", domain.KindCacheUnavailable, err)
	}
	if len(keys) == 0 {
		return out, nil
	}

	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.GetDel(ctx, k)
	}
	// o erro do Exec é o do primeiro comando que falhou; os demais ainda
	// podem ter apagado a chave.
	_, _ = pipe.Exec(ctx)

	var failed error
	for i, cmd := range cmds {
		n, err := cmd.Int64()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if failed == nil {
				failed = fmt.Errorf("%s: %w", keys[i], err)
			}
			continue
		case n == 0:
			continue
		}
		out[ids[i]] += n
	}
	if failed != nil {
		return out, domain.E("views drain", domain.KindCacheUnavailable, failed)
	}
	return out, nil
}

var _ domain.ViewCounter = (*RedisViewCounter)(nil)
