package infra

import (
	"context"
	"sync"
	"time"

	"noticeboard/notice/domain"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryCache implementa domain.Cache em processo com ttlcache.
// Usado quando não há Redis configurado e nos testes.
//
// Hits não renovam o TTL: a janela de desatualização começa no Write.
type MemoryCache struct {
	// mu serializa as escritas condicionais; Read não precisa dele.
	mu           sync.Mutex
	items        *ttlcache.Cache[int64, cacheEntry]
	tombstoneTTL time.Duration
}

// cacheEntry com gone=true é uma lápide deixada por Invalidate.
type cacheEntry struct {
	notice domain.Notice
	gone   bool
}

func NewMemoryCache(capacity uint64, opts ...Option) *MemoryCache {
	o := applyOptions(opts)
	ttlOpts := []ttlcache.Option[int64, cacheEntry]{
		ttlcache.WithDisableTouchOnHit[int64, cacheEntry](),
	}
	if capacity > 0 {
		ttlOpts = append(ttlOpts, ttlcache.WithCapacity[int64, cacheEntry](capacity))
	}
	return &MemoryCache{items: ttlcache.New(ttlOpts...), tombstoneTTL: o.tombstoneTTL}
}

// StartJanitor remove itens expirados em background até ctx encerrar.
func (c *MemoryCache) StartJanitor(ctx DoneContext) {
	go c.items.Start()
	go func() {
		<-ctx.Done()
		c.items.Stop()
	}()
}

func (c *MemoryCache) live(id int64) (cacheEntry, bool) {
	item := c.items.Get(id)
	if item == nil || item.IsExpired() {
		return cacheEntry{}, false
	}
	return item.Value(), true
}

func (c *MemoryCache) Read(_ context.Context, id int64) (domain.Notice, bool, error) {
	e, ok := c.live(id)
	if !ok || e.gone {
		return domain.Notice{}, false, nil
	}
	return cloneNotice(e.notice), true, nil
}

func (c *MemoryCache) Write(_ context.Context, n domain.Notice, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.live(n.ID); ok && !cur.gone && cur.notice.Version >= n.Version {
		return nil
	}
	c.items.Set(n.ID, cacheEntry{notice: cloneNotice(n)}, ttl)
	return nil
}

func (c *MemoryCache) Fill(_ context.Context, n domain.Notice, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live(n.ID); ok {
		return nil
	}
	c.items.Set(n.ID, cacheEntry{notice: cloneNotice(n)}, ttl)
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Set(id, cacheEntry{gone: true}, c.tombstoneTTL)
	return nil
}

func (c *MemoryCache) Ping(context.Context) error { return nil }

// Len conta entradas e lápides.
func (c *MemoryCache) Len() int { return c.items.Len() }

// cloneNotice evita que chamadores compartilhem o slice de anexos guardado.
func cloneNotice(n domain.Notice) domain.Notice {
	if n.Attachments != nil {
		n.Attachments = append([]domain.Attachment(nil), n.Attachments...)
	}
	return n
}

// DoneContext é o mínimo necessário de context.Context para os janitors.
type DoneContext interface {
	Done() <-chan struct{}
}

var _ domain.Cache = (*MemoryCache)(nil)
