// Package middleware provides HTTP middleware for the billing endpoints.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter pairs a token bucket with its last access time
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-client token bucket to incoming requests.
// Stale buckets are evicted in the background so the map stays bounded.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	rate     rate.Limit
	burst    int
	maxSize  int
	staleTTL time.Duration
	stopCh   chan struct{}
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond sustained
// with the given burst, per remote address.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		clients:  make(map[string]*clientLimiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		maxSize:  10000,
		staleTTL: 5 * time.Minute,
		stopCh:   make(chan struct{}),
	}

	go rl.evictLoop()

	return rl
}

// Shutdown stops the eviction goroutine
func (rl *RateLimiter) Shutdown() {
	close(rl.stopCh)
}

// Middleware wraps next with rate limiting keyed by remote address
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r.RemoteAddr) {
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler wraps a handler function with rate limiting
func (rl *RateLimiter) Handler(handler http.HandlerFunc) http.HandlerFunc {
	return rl.Middleware(handler).ServeHTTP
}

func (rl *RateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.clients[client]
	if !ok {
		if len(rl.clients) >= rl.maxSize {
			rl.evictOldestLocked()
		}
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[client] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter.Allow()
}

// evictOldestLocked drops the least recently seen client. Caller holds mu.
func (rl *RateLimiter) evictOldestLocked() {
	var oldest string
	var oldestSeen time.Time
	for client, entry := range rl.clients {
		if oldest == "" || entry.lastSeen.Before(oldestSeen) {
			oldest = client
			oldestSeen = entry.lastSeen
		}
	}
	if oldest != "" {
		delete(rl.clients, oldest)
	}
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.staleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimiter) evictStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.staleTTL)
	for client, entry := range rl.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.clients, client)
		}
	}
}
