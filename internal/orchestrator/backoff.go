package orchestrator

import (
	"context"
	"time"
)

// BackoffPolicy is the attempt-budget schedule applied between actuator
// invocations of one action. Policies are data, not control flow, so they
// stay independently testable.
type BackoffPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// Delay returns the pause before retry number attempt (1-based): Base,
// 2*Base, 4*Base, ... capped at Max.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.Max {
			return p.Max
		}
	}
	if delay > p.Max {
		return p.Max
	}
	return delay
}

// Wait sleeps for the attempt's delay, returning false when ctx is
// cancelled first.
func (p BackoffPolicy) Wait(ctx context.Context, attempt int) bool {
	select {
	case <-time.After(p.Delay(attempt)):
		return true
	case <-ctx.Done():
		return false
	}
}
