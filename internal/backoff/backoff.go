// Package backoff computes retry delays: exponential growth with jitter,
// capped at a maximum. The zero Policy yields no delay, so callers can leave
// it unset to retry immediately.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy parameterizes the delay curve.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the computed delay.
	Max time.Duration

	// Factor multiplies the delay per attempt; values below 1 are treated
	// as 1 (constant delay).
	Factor float64

	// Jitter is the fraction of the base delay added randomly, in [0, 1].
	Jitter float64
}

// Default is tuned for upstream rate limits: fast first retry, capped well
// below typical request deadlines.
func Default() Policy {
	return Policy{
		Initial: 200 * time.Millisecond,
		Max:     10 * time.Second,
		Factor:  2,
		Jitter:  0.25,
	}
}

// Delay returns the wait before retry number attempt (the first retry is
// attempt 1).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64())
}

func (p Policy) delay(attempt int, random float64) time.Duration {
	if p.Initial <= 0 || attempt < 1 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	base := float64(p.Initial) * math.Pow(factor, float64(attempt-1))
	base += base * p.Jitter * random
	if p.Max > 0 && base > float64(p.Max) {
		base = float64(p.Max)
	}
	return time.Duration(base)
}

// Sleep waits for the attempt's delay or until ctx is done, returning the
// context error in the latter case.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
