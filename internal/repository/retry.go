package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"

	"github.com/devbazaar/escrow-engine/internal/domain"
)

// WithRetry runs fn, retrying transient store faults (connection loss,
// serialization failures, deadlocks) with exponential backoff up to maxRetries
// attempts. Non-transient errors are surfaced immediately; a fault that
// survives every attempt comes back as ErrStoreUnavailable.
func WithRetry(ctx context.Context, maxRetries uint64, fn func() error) error {
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if IsTransient(err) {
			return fmt.Errorf("WithRetry: %w: %v", domain.ErrStoreUnavailable, err)
		}
		return err
	}
	return nil
}

func IsTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected, class 08
		// connection exceptions.
		if pqErr.Code == "40001" || pqErr.Code == "40P01" {
			return true
		}
		if pqErr.Code.Class() == "08" {
			return true
		}
	}
	return false
}

func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
