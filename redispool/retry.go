package redispool

import (
	"math/rand"
	"time"
)

// RetryPolicy describes how dropped connections are re-established.
// Zero value means: start with 50ms, double every attempt up to 5s, with ±10% jitter.
type RetryPolicy struct {
	// Initial is a pause before first reconnection attempt.
	Initial time.Duration
	// Max bounds the pause.
	Max time.Duration
	// Factor multiplies pause after every failed attempt. Values below 1 are replaced with 2.
	Factor float64
	// Jitter is a fraction of random deviation of pause: 0.1 means ±10%.
	// Negative value disables jitter.
	Jitter float64
	// Disabled turns reconnection off: dropped connection is never replaced.
	Disabled bool
}

const (
	defaultRetryInitial = 50 * time.Millisecond
	defaultRetryMax     = 5 * time.Second
	defaultRetryFactor  = 2
	defaultRetryJitter  = 0.1
)

func (r RetryPolicy) normalize() RetryPolicy {
	if r.Initial <= 0 {
		r.Initial = defaultRetryInitial
	}
	if r.Max <= 0 {
		r.Max = defaultRetryMax
	}
	if r.Max < r.Initial {
		r.Max = r.Initial
	}
	if r.Factor < 1 {
		r.Factor = defaultRetryFactor
	}
	if r.Jitter == 0 {
		r.Jitter = defaultRetryJitter
	} else if r.Jitter < 0 {
		r.Jitter = 0
	} else if r.Jitter > 1 {
		r.Jitter = 1
	}
	return r
}

// Backoff returns fresh iterator of pauses for this policy.
func (r RetryPolicy) Backoff() *Backoff {
	return &Backoff{policy: r.normalize(), rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Backoff yields increasing pauses between reconnection attempts.
// It is not safe for concurrent use: every reconnecting goroutine owns its own Backoff.
type Backoff struct {
	policy  RetryPolicy
	rnd     *rand.Rand
	attempt int
	cur     time.Duration
}

// Next returns pause before next attempt.
func (b *Backoff) Next() time.Duration {
	p := b.policy
	if b.attempt == 0 {
		b.cur = p.Initial
	} else {
		b.cur = time.Duration(float64(b.cur) * p.Factor)
		if b.cur > p.Max || b.cur <= 0 {
			b.cur = p.Max
		}
	}
	b.attempt++
	d := b.cur
	if p.Jitter > 0 {
		d = time.Duration(float64(d) * (1 - p.Jitter + 2*p.Jitter*b.rnd.Float64()))
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// Attempt is a number of pauses returned since creation or last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset starts sequence from Initial again. Called after successful connect.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.cur = 0
}
