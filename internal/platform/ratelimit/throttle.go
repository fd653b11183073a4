package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/httpx"
)

const throttleIdleTTL = 10 * time.Minute

// Throttle is a per-client token bucket for HTTP routes that accept unauthenticated or
// high-value requests, such as gateway callbacks and pickup verification.
type Throttle struct {
	limit rate.Limit
	burst int
	clock func() time.Time

	mu      sync.Mutex
	clients map[string]*throttleClient
}

type throttleClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle allows perMinute requests per client with the given burst.
func NewThrottle(perMinute int, burst int) *Throttle {
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		clock:   time.Now,
		clients: make(map[string]*throttleClient),
	}
}

// AllowClient reports whether a request from key may proceed now.
func (t *Throttle) AllowClient(key string) bool {
	if t == nil || t.limit <= 0 {
		return true
	}
	now := t.clock()
	key = normalizeKey(key)

	t.mu.Lock()
	client, ok := t.clients[key]
	if !ok {
		t.evictIdleLocked(now)
		client = &throttleClient{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.clients[key] = client
	}
	client.lastSeen = now
	t.mu.Unlock()

	return client.limiter.AllowN(now, 1)
}

func (t *Throttle) evictIdleLocked(now time.Time) {
	for key, client := range t.clients {
		if now.Sub(client.lastSeen) > throttleIdleTTL {
			delete(t.clients, key)
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.AllowClient(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
