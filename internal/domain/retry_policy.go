package domain

import (
	"fmt"
	"math"
	"time"
)

// Default retry policy values.
const (
	DefaultMaxRetries        = 3
	DefaultInitialDelay      = time.Second
	DefaultMaxDelay          = time.Minute
	DefaultBackoffMultiplier = 2.0
)

// RetryPolicy decides whether a failed task may run again and how long to wait first.
// It is a value type: methods never mutate the receiver.
type RetryPolicy struct {
	MaxRetries         int           `json:"max_retries" yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay       time.Duration `json:"initial_delay" yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay           time.Duration `json:"max_delay" yaml:"max_delay" env:"MAX_DELAY"`
	BackoffMultiplier  float64       `json:"backoff_multiplier" yaml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"`
	ExponentialBackoff bool          `json:"exponential_backoff" yaml:"exponential_backoff" env:"EXPONENTIAL_BACKOFF"`
}

// DefaultRetryPolicy returns the policy applied to tasks without their own.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         DefaultMaxRetries,
		InitialDelay:       DefaultInitialDelay,
		MaxDelay:           DefaultMaxDelay,
		BackoffMultiplier:  DefaultBackoffMultiplier,
		ExponentialBackoff: true,
	}
}

// Validate checks the policy invariants.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries %d is negative", ErrInvalidRetryPolicy, p.MaxRetries)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("%w: initial delay %s is negative", ErrInvalidRetryPolicy, p.InitialDelay)
	}
	if p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("%w: max delay %s is below initial delay %s", ErrInvalidRetryPolicy, p.MaxDelay, p.InitialDelay)
	}
	if p.BackoffMultiplier <= 0 {
		return fmt.Errorf("%w: backoff multiplier %v must be positive", ErrInvalidRetryPolicy, p.BackoffMultiplier)
	}
	return nil
}

// CalculateDelay returns the wait before the attempt following retryCount failures.
// Without exponential backoff the initial delay is returned unchanged; otherwise
// initialDelay * multiplier^retryCount, capped at MaxDelay.
func (p RetryPolicy) CalculateDelay(retryCount int) time.Duration {
	if !p.ExponentialBackoff {
		return p.InitialDelay
	}
	if retryCount < 0 {
		retryCount = 0
	}

	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(retryCount))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// CanRetry reports whether another attempt is allowed after currentRetryCount retries.
func (p RetryPolicy) CanRetry(currentRetryCount int) bool {
	return currentRetryCount < p.MaxRetries
}
