// ABOUTME: Capped exponential reconnect backoff with jitter
// ABOUTME: Delay doubles per attempt up to Max; half of each delay is randomized

package realtime

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	// rand returns a value in [0,1). Nil uses math/rand/v2.
	rand func() float64
}

// Delay returns the wait before reconnect attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	if d <= 0 {
		d = time.Second
	}
	limit := b.Max
	if limit < d {
		limit = d
	}
	for i := 0; i < attempt && d < limit; i++ {
		d *= 2
	}
	d = min(d, limit)

	r := b.rand
	if r == nil {
		r = rand.Float64
	}
	half := d / 2
	return half + time.Duration(r()*float64(d-half))
}
