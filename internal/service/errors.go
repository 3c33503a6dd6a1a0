package service

import (
	"errors"
	"fmt"
)

// Domain errors surfaced by the attempt engine. Handlers map these to
// response codes; the services themselves never panic or retry.
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrExamNotAvailable = errors.New("exam is not available for taking")
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrAttemptCompleted = errors.New("attempt is already completed")
	ErrNotAttemptOwner  = errors.New("attempt belongs to another user")
)

// AttemptLimitError is returned by Start once a user has exhausted an exam's
// allowed completed attempts.
type AttemptLimitError struct {
	Limit int
}

func (e *AttemptLimitError) Error() string {
	return fmt.Sprintf("allowed attempts exceeded (%d)", e.Limit)
}
