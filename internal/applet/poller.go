package applet

import (
	"context"
	"errors"
	"time"

	"github.com/netfleet/upgrade-orchestrator/internal/constants"
)

// ErrPollTimeout is returned when a bounded poll exhausts its attempts
// without the check succeeding.
var ErrPollTimeout = errors.New("polling ceiling reached")

// Policy is the retry policy for one bounded device-side wait: sample every
// Interval, give up after MaxAttempts samples.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPolicy samples every 20 seconds for about 5 minutes.
func DefaultPolicy() Policy {
	return Policy{Interval: constants.DefaultPollInterval, MaxAttempts: constants.DefaultPollAttempts}
}

// Poll sleeps one interval, then runs check; it repeats until check reports
// done, check returns an error, the context is cancelled, or the attempt
// ceiling is reached (ErrPollTimeout). Every polling loop in the install
// protocol goes through here so the bound is applied uniformly.
func Poll(ctx context.Context, policy Policy, check func(context.Context) (bool, error)) error {
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		timer := time.NewTimer(policy.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrPollTimeout
}
