package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxClients caps the number of tracked client addresses.
const maxClients = 100_000

// RateLimiter throttles the admin API per client address with a token
// bucket. Paths under an exempt prefix bypass it: vendor webhooks arrive in
// bursts from a handful of addresses and are deduplicated downstream.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	exempt []string

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perSecond sustained requests
// and bursts of up to burst per client.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clients: make(map[string]*client),
	}
}

// Exempt adds path prefixes that are not rate limited.
func (rl *RateLimiter) Exempt(prefixes ...string) *RateLimiter {
	rl.exempt = append(rl.exempt, prefixes...)
	return rl
}

// Handler returns HTTP middleware that enforces the per-client limit.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		now := time.Now()
		remaining, wait, ok := rl.take(clientAddr(r), now)

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(time.Second).Unix(), 10))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(wait.Seconds())))))
			writeTooMany(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) isExempt(path string) bool {
	for _, p := range rl.exempt {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// take consumes one token for addr. When none is available it reports how
// long the client should wait; the reservation is cancelled so rejected
// requests do not push the next token further out.
func (rl *RateLimiter) take(addr string, now time.Time) (remaining int, wait time.Duration, ok bool) {
	rl.mu.Lock()
	c, found := rl.clients[addr]
	if !found {
		if len(rl.clients) >= maxClients {
			rl.mu.Unlock()
			return 0, time.Second, false
		}
		c = &client{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[addr] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	res := c.lim.ReserveN(now, 1)
	if !res.OK() {
		return 0, time.Second, false
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return 0, d, false
	}
	return max(0, int(c.lim.TokensAt(now))), 0, true
}

func writeTooMany(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
}

// StartCleanup forgets clients idle for longer than maxIdle, checking every
// interval. The returned function stops it.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.forgetIdle(now.Add(-maxIdle))
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) forgetIdle(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for addr, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, addr)
		}
	}
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// clientAddr is the peer address without port. Forwarding headers are
// ignored since any caller can set them.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
