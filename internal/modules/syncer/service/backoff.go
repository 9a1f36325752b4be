package service

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"dwell/internal/platform/clock"
)

// backoffClock adapts the engine clock to backoff.Clock.
type backoffClock struct {
	clock clock.Clock
}

func (c backoffClock) Now() time.Time { return c.clock.Now("dispatcher", "backoff") }

// retryGate tracks exponential backoff for one interval group or session.
type retryGate struct {
	policy *backoff.ExponentialBackOff
	until  time.Time
}

func newRetryGate(clk clock.Clock, initial, maxInterval time.Duration) *retryGate {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.MaxInterval = maxInterval
	policy.RandomizationFactor = 0.2
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0
	policy.Clock = backoffClock{clock: clk}
	policy.Reset()
	return &retryGate{policy: policy}
}

// fail schedules the next attempt and returns its delay.
func (g *retryGate) fail(now time.Time) time.Duration {
	delay := g.policy.NextBackOff()
	g.until = now.Add(delay)
	return delay
}

func (g *retryGate) blocked(now time.Time) bool {
	return now.Before(g.until)
}
