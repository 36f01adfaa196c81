// Package ratelimit limits API requests per client address.
package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter keeps one token bucket per client key.
type ClientLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// New returns a limiter allowing rps requests per second with the given
// burst for each client. rps <= 0 disables limiting.
func New(rps float64, burst int) *ClientLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	return &ClientLimiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

func (l *ClientLimiter) Enabled() bool {
	return l.limit > 0
}

// Allow reports whether key may make a request now. When it may not, the
// returned duration is how long until the next token.
func (l *ClientLimiter) Allow(key string) (bool, time.Duration) {
	if !l.Enabled() {
		return true, 0
	}

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	now := l.now()
	c.lastSeen = now
	l.mu.Unlock()

	if c.limiter.AllowN(now, 1) {
		return true, 0
	}
	deficit := 1 - c.limiter.TokensAt(now)
	return false, time.Duration(deficit / float64(l.limit) * float64(time.Second))
}

// Cleanup forgets clients idle for longer than ttl, every interval, until ctx
// is done.
func (l *ClientLimiter) Cleanup(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict(ttl)
		}
	}
}

func (l *ClientLimiter) evict(ttl time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-ttl)
	n := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			n++
		}
	}
	return n
}

// Middleware rejects requests over the limit with 429. Clients are keyed by
// remote IP, so it belongs after chi's RealIP middleware.
func (l *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.Allow(clientKey(r))
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"ok":false,"error":"rate-limited"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
