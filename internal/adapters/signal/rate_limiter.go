package signal

import (
	"errors"
	"sync"

	"github.com/dkeye/VoiceRelay/internal/core"
	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("rate limited")

// ConnRateLimiter keeps one token bucket per connection.
type ConnRateLimiter struct {
	mu       sync.Mutex
	limiters map[core.SessionID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewConnRateLimiter allows perSecond events with the given burst. A
// non-positive perSecond disables limiting.
func NewConnRateLimiter(perSecond float64, burst int) *ConnRateLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &ConnRateLimiter{
		limiters: make(map[core.SessionID]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (rl *ConnRateLimiter) Allow(sid core.SessionID) bool {
	rl.mu.Lock()
	l, ok := rl.limiters[sid]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[sid] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

func (rl *ConnRateLimiter) Forget(sid core.SessionID) {
	rl.mu.Lock()
	delete(rl.limiters, sid)
	rl.mu.Unlock()
}

func (rl *ConnRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
