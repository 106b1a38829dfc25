package feed

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second

	// UnlimitedAttempts retries establishment until ctx is done.
	UnlimitedAttempts = -1
)

// Policy controls how many times establishment is attempted and whether a
// subscription that failed on the transport is opened again.
type Policy struct {
	// Attempts is the number of dials per Connect. 1 means a single
	// attempt with no retry; UnlimitedAttempts retries until ctx is done.
	Attempts int
	// Delay is the first backoff delay; it doubles up to MaxDelay.
	Delay    time.Duration
	MaxDelay time.Duration
	// Resubscribe asks the owner to Connect again after a transport
	// failure of an open subscription. Decode failures never resubscribe.
	Resubscribe bool
	Clock       clock.Clock
}

// SingleAttempt makes one connection attempt and never resubscribes.
func SingleAttempt() Policy {
	return Policy{
		Attempts: 1,
		Delay:    reconnectBaseDelay,
		MaxDelay: reconnectMaxDelay,
	}
}

// ShouldResubscribe reports whether a subscription that ended with err
// should be opened again under this policy.
func (p Policy) ShouldResubscribe(err error) bool {
	return p.Resubscribe && err != nil && IsTransportError(err)
}

func (p Policy) withDefaults() Policy {
	if p.Attempts == 0 {
		p.Attempts = 1
	}
	if p.Delay <= 0 {
		p.Delay = reconnectBaseDelay
	}
	if p.MaxDelay < p.Delay {
		p.MaxDelay = max(p.Delay, reconnectMaxDelay)
	}
	if p.Clock == nil {
		p.Clock = clock.WallClock
	}
	return p
}

// Connect subscribes to address, retrying transport failures during
// establishment as the policy allows. The returned error is the last
// establishment failure.
func Connect(ctx context.Context, opts Options, p Policy, address string, handler Handler) (*Subscription, error) {
	p = p.withDefaults()

	var sub *Subscription
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			sub, err = Subscribe(ctx, opts, address, handler)
			return err
		},
		IsFatalError: func(err error) bool {
			return !IsTransportError(err) || ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			glog.Warningf("feed %q: attempt %d failed: %v", address, attempt, err)
		},
		Attempts:    p.Attempts,
		Delay:       p.Delay,
		MaxDelay:    p.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       p.Clock,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		if last := retry.LastError(err); last != nil {
			return nil, last
		}
		return nil, errors.Trace(err)
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}
