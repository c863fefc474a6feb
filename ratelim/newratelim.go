package ratelim

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"

	"kisantrack/utils"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key (client IP, connection id).
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
	proxies  []*net.IPNet
}

// NewRateLimiter allows rps events per second per key with the given burst.
// Keys idle for longer than ttl are forgotten by Cleanup.
func NewRateLimiter(rps float64, burst int, ttl time.Duration) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get or create a rate limiter for a key
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if v, exists := rl.visitors[key]; exists {
		v.lastSeen = now
		return v.limiter
	}
	l := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: l, lastSeen: now}
	return l
}

func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).AllowN(rl.now(), 1)
}

func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	delete(rl.visitors, key)
	rl.mu.Unlock()
}

// Cleanup drops keys not seen within ttl and returns how many were removed.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	cutoff := rl.now().Add(-rl.ttl)
	for k, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, k)
			n++
		}
	}
	return n
}

func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// Run calls Cleanup every ttl until stop is closed.
func (rl *RateLimiter) Run(stop <-chan struct{}) {
	t := time.NewTicker(rl.ttl)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			rl.Cleanup()
		}
	}
}

// TrustProxies lets Limit key on X-Forwarded-For for requests that arrive
// through one of nets. Call it before serving.
func (rl *RateLimiter) TrustProxies(nets []*net.IPNet) *RateLimiter {
	rl.proxies = nets
	return rl
}

// Limit enforces the per-IP budget on an httprouter handle.
func (rl *RateLimiter) Limit(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !rl.Allow(utils.ClientIP(r, rl.proxies)) {
			utils.RespondWithError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r, ps)
	}
}
