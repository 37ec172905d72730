// Copyright 2025 Certen Protocol
//
// Package backoff implements exponential-backoff-with-cap retry, used by
// the chain client for transient RPC failures.
package backoff

import (
	"context"
	"time"
)

// Policy bounds retry attempts and backoff duration.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy is 5 attempts, doubling from 250ms, capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the backoff duration before attempt n (1-indexed), doubling
// each attempt and capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Retry calls fn until it succeeds, attempts are exhausted, or ctx is
// cancelled. isTransient classifies whether an error should be retried;
// a non-transient error returns immediately.
func Retry(ctx context.Context, p Policy, isTransient func(error) bool, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return lastErr
}
