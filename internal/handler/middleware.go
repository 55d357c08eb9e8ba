package handler

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientIP returns the host part of RemoteAddr. chi's RealIP middleware may
// already have replaced it with a bare address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// LocalOnly is a middleware that restricts access to loopback clients
func LocalOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := net.ParseIP(clientIP(r))
		if ip == nil || !ip.IsLoopback() {
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimiter implements per-client rate limiting using token buckets
type RateLimiter struct {
	ips    map[string]*rate.Limiter
	mu     sync.Mutex
	limit  rate.Limit
	burst  int
	ticker *time.Ticker
	done   chan struct{}
}

// NewRateLimiter creates a new rate limiter. A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		ips:    make(map[string]*rate.Limiter),
		limit:  limit,
		burst:  burst,
		ticker: time.NewTicker(1 * time.Hour),
		done:   make(chan struct{}),
	}

	// Start cleanup routine
	go rl.cleanup()

	return rl
}

// cleanup forgets all client buckets periodically
func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.ticker.C:
			rl.mu.Lock()
			clear(rl.ips)
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

// getLimiter returns the bucket of the given client
func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.ips[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.ips[ip] = limiter
	}
	return limiter
}

// RateLimit middleware limits requests per client IP
func (rl *RateLimiter) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := rl.getLimiter(clientIP(r))
		if !limiter.Allow() {
			if rl.limit != rate.Inf && rl.limit > 0 {
				retry := time.Duration(float64(time.Second) / float64(rl.limit))
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			}
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close stops the cleanup routine
func (rl *RateLimiter) Close() {
	rl.ticker.Stop()
	close(rl.done)
}
