// Package ratelimit holds per-destination notification limiters. The check
// is advisory: the dispatcher drops a notification when the limit is reached
// and nothing feeds back into matching.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// PerChat is a registry of token-bucket limiters, one per destination chat,
// created lazily on first check.
type PerChat struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewPerChat allows perMinute notifications per chat with a burst of the
// same size.
func NewPerChat(perMinute int) *PerChat {
	if perMinute <= 0 {
		perMinute = 20
	}
	return &PerChat{
		limiters: make(map[int64]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
	}
}

// ReachedLimit reports whether chatID is over its notification budget,
// consuming one slot when it is not.
func (p *PerChat) ReachedLimit(chatID int64) bool {
	p.mu.Lock()
	limiter, ok := p.limiters[chatID]
	if !ok {
		limiter = rate.NewLimiter(p.limit, p.burst)
		p.limiters[chatID] = limiter
	}
	p.mu.Unlock()
	return !limiter.Allow()
}
