package collab

import (
	"time"

	"github.com/cenkalti/backoff"
)

// reconnectPolicy yields deterministic exponential delays and counts the
// attempts made since the last successful connection.
type reconnectPolicy struct {
	b        *backoff.ExponentialBackOff
	max      int
	attempts int
}

func newReconnectPolicy(cfg Config) *reconnectPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectBase
	b.Multiplier = cfg.ReconnectMultiplier
	b.MaxInterval = cfg.ReconnectMax
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &reconnectPolicy{b: b, max: cfg.MaxReconnectAttempts}
}

// next returns the delay before the next attempt, or false once max attempts
// were made without an intervening reset.
func (p *reconnectPolicy) next() (time.Duration, bool) {
	if p.attempts >= p.max {
		return 0, false
	}
	d := p.b.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	p.attempts++
	return d, true
}

func (p *reconnectPolicy) reset() {
	p.attempts = 0
	p.b.Reset()
}
