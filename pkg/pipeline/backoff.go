package pipeline

import (
	"math/rand/v2"
	"time"
)

// backoff yields exponentially growing delays capped at the configured maximum
type backoff struct {
	next       time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
}

func newBackoff(cfg Config) *backoff {
	return &backoff{
		next:       cfg.InitialBackoff,
		max:        cfg.MaxBackoff,
		multiplier: cfg.BackoffMultiplier,
		jitter:     cfg.JitterFactor,
	}
}

// Next returns the delay before the upcoming retry
func (b *backoff) Next() time.Duration {
	delay := b.next
	b.next = time.Duration(float64(b.next) * b.multiplier)
	if b.next > b.max {
		b.next = b.max
	}
	return applyJitter(delay, b.jitter)
}

func applyJitter(delay time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return delay
	}
	jitter := float64(delay) * factor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}
