package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrCaptureFailed     = errors.New("failed to capture local media")
	ErrNegotiationFailed = errors.New("session negotiation failed")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrTransport         = errors.New("signaling transport failed")
	ErrTimeout           = errors.New("negotiation timed out")
	ErrPeerLeft          = errors.New("peer left the call")
	ErrRoomClosed        = errors.New("room closed")
	ErrControlNotOpen    = errors.New("control channel not open")
	ErrAlreadyRunning    = errors.New("engine already running")
)

// CallError describes a failed call step.
type CallError struct {
	Op      string
	Err     error
	Details string
}

func (e *CallError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *CallError {
	return &CallError{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *CallError {
	return &CallError{Op: op, Err: err, Details: details}
}
