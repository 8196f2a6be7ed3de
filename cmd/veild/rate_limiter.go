// rate_limiter.go - Per-client request throttling for the public API
package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter is a token bucket refilled by refill tokens every period.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   int
	burst    int
	refill   int
	period   time.Duration
	last     time.Time
	lastSeen time.Time
	now      func() time.Time
}

// NewRateLimiter returns a full bucket.
func NewRateLimiter(burst, refill int, period time.Duration) *RateLimiter {
	return newRateLimiterAt(burst, refill, period, time.Now)
}

func newRateLimiterAt(burst, refill int, period time.Duration, now func() time.Time) *RateLimiter {
	t := now()
	return &RateLimiter{tokens: burst, burst: burst, refill: refill, period: period, last: t, lastSeen: t, now: now}
}

// Allow consumes one token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.lastSeen = now
	if n := int(now.Sub(rl.last) / rl.period); n > 0 {
		rl.tokens = min(rl.burst, rl.tokens+n*rl.refill)
		// Keep the fractional period so slow trickles still refill.
		rl.last = rl.last.Add(time.Duration(n) * rl.period)
	}
	if rl.tokens == 0 {
		return false
	}
	rl.tokens--
	return true
}

// Tokens returns the tokens left in the bucket.
func (rl *RateLimiter) Tokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.tokens
}

func (rl *RateLimiter) idleSince(t time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.lastSeen.Before(t)
}

// ClientRateLimiter keeps one bucket per client key.
type ClientRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter
	burst    int
	refill   int
	period   time.Duration
	now      func() time.Time
}

// NewClientRateLimiter returns an empty per-client limiter.
func NewClientRateLimiter(burst, refill int, period time.Duration) *ClientRateLimiter {
	return &ClientRateLimiter{
		limiters: make(map[string]*RateLimiter),
		burst:    burst,
		refill:   refill,
		period:   period,
		now:      time.Now,
	}
}

// Allow charges one request to client.
func (c *ClientRateLimiter) Allow(client string) bool {
	c.mu.Lock()
	rl, ok := c.limiters[client]
	if !ok {
		rl = newRateLimiterAt(c.burst, c.refill, c.period, c.now)
		c.limiters[client] = rl
	}
	c.mu.Unlock()
	return rl.Allow()
}

// Prune drops buckets that have been idle for longer than idle and
// returns how many were removed.
func (c *ClientRateLimiter) Prune(idle time.Duration) int {
	cutoff := c.now().Add(-idle)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, rl := range c.limiters {
		if rl.idleSince(cutoff) {
			delete(c.limiters, k)
			n++
		}
	}
	return n
}

// Middleware rejects requests from clients over their budget with 429.
func (c *ClientRateLimiter) Middleware(onReject func(client string)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		client := ctx.ClientIP()
		if !c.Allow(client) {
			if onReject != nil {
				onReject(client)
			}
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":  "RateLimited",
				"error": "too many requests",
			})
			return
		}
		ctx.Next()
	}
}
