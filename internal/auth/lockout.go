// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

package auth

import (
	"time"
)

// Default brute-force lockout settings.
const (
	// DefaultLockoutThreshold is the number of consecutive failures that
	// triggers a lockout.
	DefaultLockoutThreshold = 5

	// DefaultLockoutDuration is the time an account stays locked after the
	// threshold is crossed.
	DefaultLockoutDuration = 30 * time.Minute
)

// LockoutPolicy describes when repeated authentication failures lock an
// account and for how long. The zero value falls back to the defaults.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy returns the stock policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold: DefaultLockoutThreshold,
		Duration:  DefaultLockoutDuration,
	}
}

// normalized substitutes defaults for unset fields.
func (p LockoutPolicy) normalized() LockoutPolicy {
	if p.Threshold <= 0 {
		p.Threshold = DefaultLockoutThreshold
	}
	if p.Duration <= 0 {
		p.Duration = DefaultLockoutDuration
	}
	return p
}

// ComputeLockoutTime returns the lockout expiry for the given failure count,
// or nil if the count is below the policy threshold.
func (p LockoutPolicy) ComputeLockoutTime(failures int, now time.Time) *time.Time {
	p = p.normalized()
	if failures < p.Threshold {
		return nil
	}
	until := now.Add(p.Duration)
	return &until
}

// IsLockedOut returns true if the lockout expiry is set and still in the
// future at the given instant. All lockout and expiry decisions in this
// package go through instant checks like this one; nothing is swept in the
// background.
func IsLockedOut(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// LockoutRemaining returns how long the lockout has left at the given
// instant, or zero when not locked.
func LockoutRemaining(lockedUntil *time.Time, now time.Time) time.Duration {
	if !IsLockedOut(lockedUntil, now) {
		return 0
	}
	return lockedUntil.Sub(now)
}
