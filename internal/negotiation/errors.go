package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrCallInProgress     = errors.New("call already in progress")
	ErrMediaAcquisition   = errors.New("media acquisition failed")
	ErrStaleMessage       = errors.New("stale negotiation message")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrPeerLeft           = errors.New("remote peer left")
	ErrPeerFailed         = errors.New("peer connection failed")
	ErrConnectionLost     = errors.New("relay connection lost")
)

// StepError is a rejected negotiation step, such as a failed
// SetRemoteDescription. It is local and non-fatal.
type StepError struct {
	Op  string
	Err error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepError(op string, err error) *StepError {
	return &StepError{Op: op, Err: err}
}
