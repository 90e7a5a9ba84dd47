package service

import (
	"context"
	"errors"

	"github.com/lib/pq"
)

// serializationFailure reports whether the error is a transient transaction
// conflict (serialization failure or deadlock detected).
func serializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// withConflictRetry runs fn and retries it exactly once when the first
// attempt fails with a transient transaction conflict.
func withConflictRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !serializationFailure(err) {
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	return fn()
}
