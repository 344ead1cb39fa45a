package infra

import (
	"strings"
	"time"
)

// DefaultTombstoneTTL precisa cobrir a leitura mais lenta no repositório
// somada à escrita no cache.
const DefaultTombstoneTTL = 10 * time.Second

// Option ajusta os adaptadores de cache e de visualizações.
type Option func(*options)

type options struct {
	prefix       string
	tombstoneTTL time.Duration
}

// WithPrefix define o namespace das chaves no Redis.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if p := strings.Trim(prefix, ":"); p != "" {
			o.prefix = p
		}
	}
}

// WithTombstoneTTL define por quanto tempo um Invalidate recusa Fill.
func WithTombstoneTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.tombstoneTTL = d
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{prefix: "noticeboard", tombstoneTTL: DefaultTombstoneTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
