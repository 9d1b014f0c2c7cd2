// Package backoff computes jittered exponential delays for retrying
// transient failures, mainly model backend calls.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy parameterizes the delay curve.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Jitter in [0,1] randomizes each delay by up to that fraction.
	Jitter float64
}

// LLMPolicy suits model backend retries: a short first delay, capped low
// so a voice turn never stalls for long.
func LLMPolicy() Policy {
	return Policy{
		Initial: 200 * time.Millisecond,
		Max:     2 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Delay returns the delay before the given attempt. Attempts start at 1.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter needs no crypto randomness
}

func (p Policy) delayWithRand(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	jittered := base + base*p.Jitter*random
	return time.Duration(math.Min(float64(p.Max), jittered))
}

// Sleep waits out the delay for the given attempt, returning early with
// the context error on cancellation.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
