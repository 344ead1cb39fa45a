package notice

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// ClientKeyFunc identifica o cliente para o rate limit.
type ClientKeyFunc func(r *http.Request) string

// DefaultClientKey usa o IP do cliente. O X-User-ID não entra na chave: ele
// não é autenticado e trocá-lo a cada requisição criaria um bucket novo.
func DefaultClientKey(trustXFF bool) ClientKeyFunc {
	return func(r *http.Request) string {
		if trustXFF {
			// primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
					return "ip:" + ip
				}
			}
		}
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return "ip:" + host
		}
		if r.RemoteAddr != "" {
			return "ip:" + r.RemoteAddr
		}
		return "unknown"
	}
}

type RateLimitOptions struct {
	RPS        float64
	Burst      int
	RetryAfter time.Duration
	// IdleTTL é quanto tempo o limiter de um cliente sobrevive sem uso.
	IdleTTL  time.Duration
	KeyFn    ClientKeyFunc
	TrustXFF bool
}

// DefaultMaxClients limita quantos buckets ficam em memória.
const DefaultMaxClients = 100_000

// ClientLimiters guarda um token bucket por cliente. Entradas ociosas
// expiram pelo ttlcache (cada acesso renova o TTL); acima de maxClients o
// menos usado recentemente é despejado.
type ClientLimiters struct {
	rps     rate.Limit
	burst   int
	entries *ttlcache.Cache[string, *rate.Limiter]
}

func NewClientLimiters(rps float64, burst int, idleTTL time.Duration, maxClients uint64) *ClientLimiters {
	if idleTTL <= 0 {
		idleTTL = 15 * time.Minute
	}
	if maxClients == 0 {
		maxClients = DefaultMaxClients
	}
	return &ClientLimiters{
		rps:   rate.Limit(rps),
		burst: burst,
		entries: ttlcache.New(
			ttlcache.WithTTL[string, *rate.Limiter](idleTTL),
			ttlcache.WithCapacity[string, *rate.Limiter](maxClients),
		),
	}
}

func (l *ClientLimiters) Get(key string) *rate.Limiter {
	if item := l.entries.Get(key); item != nil {
		return item.Value()
	}
	item, _ := l.entries.GetOrSet(key, rate.NewLimiter(l.rps, l.burst))
	return item.Value()
}

func (l *ClientLimiters) Len() int { return l.entries.Len() }

// StartJanitor remove limiters ociosos até ctx encerrar.
func (l *ClientLimiters) StartJanitor(ctx context.Context) {
	go l.entries.Start()
	go func() {
		<-ctx.Done()
		l.entries.Stop()
	}()
}

// RateLimit rejeita com 429 + Retry-After quem estourar o bucket.
func RateLimit(limiters *ClientLimiters, opts RateLimitOptions) func(next http.Handler) http.Handler {
	if limiters == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultClientKey(opts.TrustXFF)
	}
	retryAfter := strconv.Itoa(max(1, int(opts.RetryAfter.Seconds())))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.Get(opts.KeyFn(r)).Allow() {
				w.Header().Set("Retry-After", retryAfter)
				writeJSON(w, http.StatusTooManyRequests, errorBody{
					Error:   "rate_limited",
					Message: http.StatusText(http.StatusTooManyRequests),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type ConcurrencyOptions struct {
	Max int
	// AcquireTimeout <= 0 espera até o ctx da requisição encerrar.
	AcquireTimeout time.Duration
}

// ConcurrencyLimit limita requisições em voo; sem vaga no prazo, 503.
func ConcurrencyLimit(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	sem := make(chan struct{}, opts.Max)

	acquire := func(ctx context.Context) bool {
		if opts.AcquireTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.AcquireTimeout)
			defer cancel()
		}
		select {
		case sem <- struct{}{}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !acquire(r.Context()) {
				writeJSON(w, http.StatusServiceUnavailable, errorBody{
					Error:   "overloaded",
					Message: http.StatusText(http.StatusServiceUnavailable),
				})
				return
			}
			defer func() { <-sem }()
			next.ServeHTTP(w, r)
		})
	}
}
