package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrTemporary    = errors.New("temporary failure")

	// ErrDimensionMismatch is always reported together with ErrInvalidInput.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
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

// DimensionError reports an embedding whose length differs from the deployment dimension.
func DimensionError(operation string, expected, got int) error {
	return WrapError(
		ErrInvalidInput,
		operation,
		fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, expected, got),
	)
}
