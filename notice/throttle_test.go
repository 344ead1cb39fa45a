package notice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_AllowsThenRejectsSameClient(t *testing.T) {
	limiters := NewClientLimiters(0.02, 1, time.Minute, 0)

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})
	h := RateLimit(limiters, RateLimitOptions{RetryAfter: 2500 * time.Millisecond})(next)

	r1 := httptest.NewRequest(http.MethodGet, "http://example/api/notices", nil)
	r1.RemoteAddr = "10.0.0.1:1234"
	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, r1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w1.Code)
	}

	// burst=1 e rps baixo: a segunda bloqueia
	r2 := httptest.NewRequest(http.MethodGet, "http://example/api/notices", nil)
	r2.RemoteAddr = "10.0.0.1:4321"
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, r2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After=2, got %q", got)
	}
	var body errorBody
	if err := json.NewDecoder(w2.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "rate_limited" {
		t.Fatalf("expected rate_limited, got %q", body.Error)
	}
	if calls != 1 {
		t.Fatalf("expected next handler to be called once, got %d", calls)
	}
}

func TestRateLimit_RotatingUserHeaderSharesIPBucket(t *testing.T) {
	limiters := NewClientLimiters(0.02, 1, time.Minute, 0)
	h := RateLimit(limiters, RateLimitOptions{})(okHandler())

	codes := make([]int, 0, 3)
	for _, user := range []string{"1", "2", "3"} {
		r := httptest.NewRequest(http.MethodPost, "http://example/api/notices", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		r.Header.Set(UserHeader, user)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK {
		t.Fatalf("expected first request 200, got %d", codes[0])
	}
	for i, code := range codes[1:] {
		if code != http.StatusTooManyRequests {
			t.Fatalf("expected request %d with a new user header to get 429, got %d", i+2, code)
		}
	}
	if limiters.Len() != 1 {
		t.Fatalf("expected 1 limiter, got %d", limiters.Len())
	}
}

func TestRateLimit_SeparateBucketPerIP(t *testing.T) {
	limiters := NewClientLimiters(0.02, 1, time.Minute, 0)
	h := RateLimit(limiters, RateLimitOptions{})(okHandler())

	for _, addr := range []string{"10.0.0.1:1234", "10.0.0.2:1234"} {
		r := httptest.NewRequest(http.MethodPost, "http://example/api/notices", nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", addr, w.Code)
		}
	}
	if limiters.Len() != 2 {
		t.Fatalf("expected 2 limiters, got %d", limiters.Len())
	}
}

func TestClientLimiters_CapacityBound(t *testing.T) {
	limiters := NewClientLimiters(1, 1, time.Minute, 3)
	for i := 0; i < 10; i++ {
		limiters.Get("ip:10.0.0." + strconv.Itoa(i))
	}
	if limiters.Len() != 3 {
		t.Fatalf("expected at most 3 limiters, got %d", limiters.Len())
	}
}

func TestRateLimit_NilLimitersPassThrough(t *testing.T) {
	h := RateLimit(nil, RateLimitOptions{})(okHandler())
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}
}

func TestClientLimiters_IdleEntriesExpire(t *testing.T) {
	limiters := NewClientLimiters(1, 1, 30*time.Millisecond, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiters.StartJanitor(ctx)

	first := limiters.Get("ip:10.0.0.1")
	if limiters.Get("ip:10.0.0.1") != first {
		t.Fatalf("expected the same limiter for the same key")
	}

	deadline := time.Now().Add(2 * time.Second)
	for limiters.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if limiters.Len() != 0 {
		t.Fatalf("expected idle limiter to expire, still have %d", limiters.Len())
	}
}

func TestDefaultClientKey_IgnoresUserHeader(t *testing.T) {
	fn := DefaultClientKey(false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set(UserHeader, " 42 ")

	if got := fn(r); got != "ip:10.0.0.1" {
		t.Fatalf("expected ip key, got %q", got)
	}
}

func TestDefaultClientKey_TrustXForwardedForUsesFirstIP(t *testing.T) {
	fn := DefaultClientKey(true)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	if got := fn(r); got != "ip:1.2.3.4" {
		t.Fatalf("expected first XFF ip, got %q", got)
	}
}

func TestDefaultClientKey_IgnoresXForwardedForUnlessTrusted(t *testing.T) {
	fn := DefaultClientKey(false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	if got := fn(r); got != "ip:10.0.0.9" {
		t.Fatalf("expected remote host, got %q", got)
	}
}

func TestConcurrencyLimit_TimesOutWhenNoSlot(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	secondDone := make(chan struct{})
	var startedOnce sync.Once

	// segura a vaga até liberarmos.
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedOnce.Do(func() { close(started) })
		<-release
		w.WriteHeader(http.StatusOK)
	})

	h := ConcurrencyLimit(ConcurrencyOptions{Max: 1, AcquireTimeout: 25 * time.Millisecond})(next)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
		if w.Code != http.StatusOK {
			t.Errorf("expected first request 200, got %d", w.Code)
		}
	}()

	select {
	case <-started:
	case <-time.After(500 * time.Millisecond):
		close(release)
		wg.Wait()
		t.Fatalf("timeout waiting first request to start")
	}

	go func() {
		defer wg.Done()
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("expected second request 503, got %d", w.Code)
		}
		close(secondDone)
	}()

	select {
	case <-secondDone:
	case <-time.After(time.Second):
		close(release)
		wg.Wait()
		t.Fatalf("timeout waiting second request to finish")
	}

	close(release)
	wg.Wait()
}

func TestConcurrencyLimit_DisabledWhenMaxZero(t *testing.T) {
	h := ConcurrencyLimit(ConcurrencyOptions{})(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
