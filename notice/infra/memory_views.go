package infra

import (
	"context"
	"sync"

	"noticeboard/notice/domain"
)

// MemoryViewCounter é a versão em memória do contador de visualizações.
// Serve para desenvolvimento e testes; perde as contagens ao reiniciar.
type MemoryViewCounter struct {
	mu      sync.Mutex
	pending map[int64]int64
}

func NewMemoryViewCounter() *MemoryViewCounter {
	return &MemoryViewCounter{pending: make(map[int64]int64)}
}

func (c *MemoryViewCounter) Incr(_ context.Context, id int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[id]++
	return c.pending[id], nil
}

func (c *MemoryViewCounter) Add(_ context.Context, id int64, n int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[id] += n
	return nil
}

func (c *MemoryViewCounter) Discard(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
	return nil
}

func (c *MemoryViewCounter) Drain(context.Context) (map[int64]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = make(map[int64]int64)
	return out, nil
}

// Pending devolve uma cópia das contagens atuais.
func (c *MemoryViewCounter) Pending() map[int64]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]int64, len(c.pending))
	for k, v := range c.pending {
		out[k] = v
	}
	return out
}

var _ domain.ViewCounter = (*MemoryViewCounter)(nil)
