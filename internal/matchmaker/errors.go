package matchmaker

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParticipant = errors.New("participant id is required")
	ErrSelfPair           = errors.New("participant cannot be paired with itself")
	ErrContention         = errors.New("pairing lost to a concurrent attempt")
	ErrRoomNotFound       = errors.New("room not found")
	ErrNotMember          = errors.New("participant is not a member of the room")
	ErrRetryable          = errors.New("temporary matchmaking failure")
	ErrSearchExhausted    = errors.New("no partner found within the attempt limit")
)

// RetryableError marks a persistence failure the caller may retry after a
// backoff. errors.Is(err, ErrRetryable) matches it.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Is(target error) bool {
	return target == ErrRetryable
}

// Retryable wraps err as a RetryableError unless it already is one or is a
// known domain error.
func Retryable(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RetryableError
	if errors.As(err, &re) || isDomainError(err) {
		return err
	}
	return &RetryableError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	for _, target := range []error{ErrInvalidParticipant, ErrSelfPair, ErrContention, ErrRoomNotFound, ErrNotMember} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
