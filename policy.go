package tether

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ReconnectPolicy decides whether and when to retry after a lost
// connection. attempts is the number of consecutive failed cycles since
// the last successful open, starting at 0. Returning ok=false declines,
// leaving the socket closed until Open is called again.
type ReconnectPolicy interface {
	NextDelay(ev CloseEvent, attempts int) (delay time.Duration, ok bool)
}

// ReconnectFunc adapts a plain function to a ReconnectPolicy. A
// non-positive result declines; there is no way to request an immediate
// retry with it, use a small positive delay instead.
type ReconnectFunc func(ev CloseEvent, attempts int) time.Duration

func (f ReconnectFunc) NextDelay(ev CloseEvent, attempts int) (time.Duration, bool) {
	d := f(ev, attempts)
	return d, d > 0
}

// FixedDelay retries after the same delay every time, whatever the attempt
// count. A non-positive value declines every reconnect.
type FixedDelay time.Duration

func (d FixedDelay) NextDelay(CloseEvent, int) (time.Duration, bool) {
	return time.Duration(d), d > 0
}

type neverPolicy struct{}

func (neverPolicy) NextDelay(CloseEvent, int) (time.Duration, bool) {
	return 0, false
}

// Never declines every reconnect, turning the socket into a plain
// single-shot connection.
var Never ReconnectPolicy = neverPolicy{}

// Backoff grows the delay exponentially: Base × Factor^min(attempts, MaxAttempt).
// Capping the exponent makes the delay plateau instead of growing without
// bound. The zero value behaves like DefaultBackoff.
type Backoff struct {
	Base       time.Duration
	Factor     float64
	MaxAttempt int
}

func (b Backoff) NextDelay(_ CloseEvent, attempts int) (time.Duration, bool) {
	base := b.Base
	if base <= 0 {
		base = defaultBackoffBase
	}
	factor := b.Factor
	if factor <= 0 {
		factor = defaultBackoffFactor
	}
	limit := b.MaxAttempt
	if limit <= 0 {
		limit = defaultBackoffCap
	}
	if attempts < 0 {
		attempts = 0
	}
	if attempts > limit {
		attempts = limit
	}
	return time.Duration(float64(base) * math.Pow(factor, float64(attempts))), true
}

// DefaultBackoff is the policy used when none is configured: 500ms growing
// by 1.5x per failed attempt, plateauing from the tenth attempt on.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       defaultBackoffBase,
		Factor:     defaultBackoffFactor,
		MaxAttempt: defaultBackoffCap,
	}
}

// BackOffPolicy adapts a backoff.BackOff, so jittered or otherwise tuned
// schedules from that package can drive reconnection. The source is Reset
// whenever a fresh cycle starts and declines when it returns backoff.Stop.
//
// A backoff.BackOff is stateful, so do not share one source between
// sockets.
type BackOffPolicy struct {
	source backoff.BackOff
}

func NewBackOffPolicy(source backoff.BackOff) *BackOffPolicy {
	return &BackOffPolicy{source: source}
}

func (p *BackOffPolicy) NextDelay(_ CloseEvent, attempts int) (time.Duration, bool) {
	if attempts == 0 {
		p.source.Reset()
	}
	d := p.source.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}
