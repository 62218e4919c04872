package rig

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DialFunc opens a connection to remote, returning the latency observed.
type DialFunc func(ctx context.Context, remote string) (latencyMs uint64, err error)

// Dialer drives DialFunc against a Tracker's retry budget using exponential
// backoff. The Tracker itself never sleeps (spec.md §5); Dialer is the one
// layer that actually waits between attempts.
type Dialer struct {
	tracker *Tracker
	dial    DialFunc
	now     func() int64
}

// NewDialer wires dial to run against tracker. now supplies the current
// epoch-millisecond timestamp the tracker records against each attempt.
func NewDialer(tracker *Tracker, dial DialFunc, now func() int64) *Dialer {
	return &Dialer{tracker: tracker, dial: dial, now: now}
}

// Connect attempts to establish a connection to remote, retrying with
// exponential backoff up to the tracker's configured budget.
func (d *Dialer) Connect(ctx context.Context, remote string) error {
	d.tracker.Register(remote)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(d.tracker.backoffBaseMs) * time.Millisecond

	return backoff.Retry(func() error {
		d.tracker.StartConnecting(remote, d.now())

		latencyMs, err := d.dial(ctx, remote)
		if err != nil {
			d.tracker.MarkFailed(remote, err.Error(), d.now())
			if !d.tracker.ShouldRetry(remote) {
				return backoff.Permanent(err)
			}
			return err
		}

		d.tracker.MarkConnected(remote, d.now(), latencyMs)
		return nil
	}, backoff.WithContext(bo, ctx))
}
