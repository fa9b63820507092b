// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// Version-conflict retry tuning. Conflicts come from concurrent writers on
// the same user row, so contention is brief and a short constant backoff is
// enough.
const (
	conflictMaxRetries = 5
	conflictRetryDelay = 10 * time.Millisecond
)

// withConflictRetry runs fn, retrying from scratch whenever it reports
// ErrVersionConflict. fn must re-read its inputs on each attempt; any other
// error aborts immediately.
func withConflictRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(conflictMaxRetries, retry.NewConstant(conflictRetryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, ErrVersionConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
}
