// Package ratelimit provides token-bucket gates backed by golang.org/x/time/rate:
// a request limiter for the inspection service and a byte budget that
// throttles background copies between tiers.
package ratelimit

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Limiter admits or rejects single requests.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter permits rps requests per second with the given burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether a single request may proceed.
func (l *Limiter) Allow() bool {
	return l.lim.Allow()
}

// Budget meters bytes. A nil Budget is unlimited.
type Budget struct {
	lim   *rate.Limiter
	burst int
}

// NewBudget allows bytesPerSec sustained with bursts of up to burst bytes.
// A non-positive rate returns nil, meaning no limit.
func NewBudget(bytesPerSec int64, burst int) *Budget {
	if bytesPerSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(min(bytesPerSec, math.MaxInt32))
	}
	return &Budget{lim: rate.NewLimiter(rate.Limit(bytesPerSec), burst), burst: burst}
}

// Wait blocks until n bytes fit in the budget or ctx is done. Requests larger
// than the burst are drawn down in burst-sized slices.
func (b *Budget) Wait(ctx context.Context, n int64) error {
	if b == nil {
		return nil
	}
	for n > 0 {
		chunk := int(min(n, int64(b.burst)))
		if err := b.lim.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= int64(chunk)
	}
	return nil
}

// Allow reports whether n bytes may be spent now without waiting.
func (b *Budget) Allow(n int64) bool {
	if b == nil {
		return true
	}
	if n > int64(b.burst) {
		return false
	}
	return b.lim.AllowN(time.Now(), int(n))
}
