package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPayload = errors.New("invalid payload size")
	ErrNotConnected   = errors.New("no peer connected")
	ErrTimeout        = errors.New("operation timed out")
	ErrBadHeader      = errors.New("invalid PDU header")
	ErrBadFooter      = errors.New("invalid PDU footer")
)

// StatusError wraps a failure status code returned by the remote end.
type StatusError struct {
	// Op is the operation that failed.
	Op string
	// Status is the status code from the response header.
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %s (%d)", e.Op, e.Status, int32(e.Status))
}

// IsStatusError returns true if the error is a StatusError.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
