package pool

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultBackoffBase = 50 * time.Millisecond
	defaultBackoffCap  = 5 * time.Second
)

// Backoff computes exponential delays with jitter
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
	// Jitter is the fraction of the delay that may be shaved off at random,
	// between 0 and 1
	Jitter float64
	// rnd returns a float in [0, 1); rand.Float64 when nil
	rnd func() float64
}

// Delay returns the delay before retry number n, counting from 0
func (b Backoff) Delay(n int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = defaultBackoffBase
	}
	maxDelay := b.Cap
	if maxDelay <= 0 {
		maxDelay = defaultBackoffCap
	}
	if n < 0 {
		n = 0
	}

	delay := maxDelay
	if n < 62 && base <= maxDelay>>uint(n) {
		delay = base << uint(n)
	}

	jitter := b.Jitter
	if jitter <= 0 {
		return delay
	}
	if jitter > 1 {
		jitter = 1
	}
	rnd := b.rnd
	if rnd == nil {
		rnd = rand.Float64
	}
	return time.Duration(float64(delay) * (1 - jitter*rnd()))
}

// Wait sleeps for the delay of retry n or until ctx is done
func (b Backoff) Wait(ctx context.Context, n int) error {
	return sleep(ctx, b.Delay(n))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
