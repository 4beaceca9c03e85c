package service

import (
	"context"
	"errors"
	"fmt"

	"polls-backend/database"
)

var (
	// ErrNotFound is wrapped by every "referenced record does not exist" error.
	ErrNotFound       = errors.New("not found")
	ErrPollNotFound   = fmt.Errorf("poll %w", ErrNotFound)
	ErrChoiceNotFound = fmt.Errorf("choice %w", ErrNotFound)
	ErrVoteNotFound   = fmt.Errorf("vote %w", ErrNotFound)

	// ErrConflict means a concurrent transaction won the race for the same
	// (user, poll) pair. Nothing was written; the caller may retry.
	ErrConflict = errors.New("concurrent vote conflict")

	// ErrConstraintViolation means a counter would have gone negative or a
	// foreign key target is missing. It indicates a data-integrity bug.
	ErrConstraintViolation = errors.New("constraint violation")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
)

// storageError wraps a failed transaction with the sentinel matching its
// driver error, keeping the driver error in the chain.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrConstraintViolation) || errors.Is(err, ErrForbidden) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch database.Classify(err) {
	case database.KindUniqueViolation, database.KindSerialization:
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	case database.KindForeignKeyViolation, database.KindCheckViolation:
		return fmt.Errorf("%s: %w: %w", op, ErrConstraintViolation, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
