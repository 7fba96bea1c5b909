package client

import (
	"math/rand"
	"time"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.2
)

// backoff produces reconnect delays: exponential growth from initialBackoff
// up to maxBackoff, with ±20% jitter so a fleet of clients dropped by the
// same server restart does not reconnect in lockstep. Reset is called after
// every successful connect so a later outage starts from the short delay
// again.
//
// Not safe for concurrent use; the manager's run loop is the only caller.
type backoff struct {
	next time.Duration
}

func newBackoff() *backoff {
	return &backoff{next: initialBackoff}
}

// Next returns the delay to wait before the next attempt and advances the
// sequence.
func (b *backoff) Next() time.Duration {
	d := b.next

	grown := time.Duration(float64(b.next) * backoffFactor)
	if grown > maxBackoff {
		grown = maxBackoff
	}
	b.next = grown

	// Jitter is applied to the returned value only, not the stored base, so
	// the sequence stays strictly growing.
	jitter := time.Duration((rand.Float64()*2 - 1) * jitterFraction * float64(d))
	return d + jitter
}

// Reset restarts the sequence from the initial delay.
func (b *backoff) Reset() {
	b.next = initialBackoff
}
