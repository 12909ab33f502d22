// Package producer contains the long-running sources of reconciliation
// signals: calendar change notifications and the periodic tick.
package producer

import (
	"context"
	"time"
)

// Producer feeds signals into the shared store until ctx ends.
type Producer interface {
	Run(ctx context.Context) error
}

// Backoff configures reconnect delays.
type Backoff struct {
	Min        time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff returns sensible defaults for resubscription.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:        1 * time.Second,
		Max:        2 * time.Minute,
		Multiplier: 2.0,
	}
}

func (b Backoff) next(current time.Duration) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	n := time.Duration(float64(current) * mult)
	if n > b.Max {
		n = b.Max
	}
	if n < b.Min {
		n = b.Min
	}
	return n
}
