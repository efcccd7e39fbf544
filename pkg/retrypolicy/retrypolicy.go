// Package retrypolicy describes the exponential backoff schedule shared by
// the transports: how many attempts to make, how long to wait between them,
// and how long any single attempt is allowed to take.
package retrypolicy

import (
	"fmt"
	"math"
	"time"
)

// Policy is a pure value object; it has no mutable state and no I/O.
type Policy struct {
	// Enabled, when false, means callers perform exactly one attempt
	// regardless of MaxAttempts.
	Enabled bool

	// MaxAttempts is the number of attempts made when Enabled is true. Must
	// be >= 1.
	MaxAttempts uint

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the wait before any attempt. Must be >= InitialDelay.
	MaxDelay time.Duration

	// BackoffMultiplier scales the delay for each attempt beyond the
	// second. Must be >= 1.
	BackoffMultiplier float64

	// PerAttemptTimeout bounds a single attempt, independent of the delay
	// between attempts.
	PerAttemptTimeout time.Duration
}

// Default returns a conservative policy: five attempts, 250ms initial delay
// doubling up to a 10s cap, five second per-attempt timeout.
func Default() Policy {
	return Policy{
		Enabled:           true,
		MaxAttempts:       5,
		InitialDelay:      250 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
		PerAttemptTimeout: 5 * time.Second,
	}
}

// Validate returns a non-nil error when the policy violates the invariant
// MaxDelay >= InitialDelay or has a sub-one multiplier or zero attempts.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retrypolicy: MaxAttempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("retrypolicy: MaxDelay (%s) must be >= InitialDelay (%s)", p.MaxDelay, p.InitialDelay)
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("retrypolicy: BackoffMultiplier must be >= 1, got %f", p.BackoffMultiplier)
	}
	return nil
}

// DelayFor returns the wait before the given 1-based attempt number. Attempt
// 1 never waits; attempt k>1 waits InitialDelay * multiplier^(k-2), capped at
// MaxDelay.
func (p Policy) DelayFor(attempt uint) time.Duration {
	if attempt <= 1 {
		return 0
	}
	scaled := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-2))
	if scaled > float64(p.MaxDelay) || math.IsInf(scaled, 1) {
		return p.MaxDelay
	}
	return time.Duration(scaled)
}

// Attempts returns the number of attempts a caller should make under this
// policy: 1 when disabled, MaxAttempts otherwise.
func (p Policy) Attempts() uint {
	if !p.Enabled {
		return 1
	}
	return p.MaxAttempts
}
