package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrTemporary = errors.New("temporary failure")

	// ErrRejected marks an attachment that was classified and turned away
	// (not a receipt, blurry, unreadable). A definitive business outcome,
	// not a retryable fault.
	ErrRejected = errors.New("attachment rejected")

	// ErrSkipped marks work that was silently dropped because it was
	// already processed.
	ErrSkipped = errors.New("already processed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
