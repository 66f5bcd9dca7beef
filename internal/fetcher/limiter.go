package fetcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter paces requests to one host. It halves its rate when the
// host answers 429, down to a quarter of the starting rate, and creeps back
// up by 20% per success to at most double. A limiter built with
// fixedLimiter never moves.
type AdaptiveLimiter struct {
	mu    sync.Mutex
	lim   *rate.Limiter
	floor rate.Limit
	ceil  rate.Limit
}

// NewAdaptiveLimiter starts at r requests per second with the given burst.
func NewAdaptiveLimiter(r rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{lim: rate.NewLimiter(r, burst), floor: r / 4, ceil: r * 2}
}

func fixedLimiter(lim *rate.Limiter) *AdaptiveLimiter {
	return &AdaptiveLimiter{lim: lim, floor: lim.Limit(), ceil: lim.Limit()}
}

// Wait blocks until a request may be sent or ctx is done.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.lim.Wait(ctx)
}

// Limit is the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	return a.lim.Limit()
}

// OnSuccess nudges the rate up.
func (a *AdaptiveLimiter) OnSuccess() {
	a.adjust(1.2)
}

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	if r := a.adjust(0.5); r < a.ceil {
		zap.L().Warn("fetch: slowing down after 429", zap.Float64("rate", float64(r)))
	}
}

func (a *AdaptiveLimiter) adjust(factor float64) rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := min(max(a.lim.Limit()*rate.Limit(factor), a.floor), a.ceil)
	a.lim.SetLimit(r)
	return r
}

// DefaultAdaptiveLimiters paces the video site at two pages a second.
func DefaultAdaptiveLimiters() map[string]*AdaptiveLimiter {
	return map[string]*AdaptiveLimiter{
		"www.youtube.com": NewAdaptiveLimiter(2, 2),
		"youtube.com":     NewAdaptiveLimiter(2, 2),
	}
}
