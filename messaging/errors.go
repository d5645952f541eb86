package messaging

import (
	"errors"
	"fmt"

	"github.com/glimte/mmate-relay/contracts"
)

var (
	// ErrTagNotFound is returned when a tag has no in-flight entry
	ErrTagNotFound = errors.New("tag not found")

	// ErrDuplicateTag is returned when a tag is already in flight
	ErrDuplicateTag = errors.New("tag already in flight")

	// ErrTagSpaceExhausted is returned when no unused tag was produced
	// within the configured number of attempts
	ErrTagSpaceExhausted = errors.New("no unused tag after max attempts")

	// ErrInvalidClient is returned for client indexes outside [0, N)
	ErrInvalidClient = errors.New("invalid client index")
)

// RoutingError describes a failure while relaying a single message
type RoutingError struct {
	Op     string        // Operation that failed
	Client int           // Client index, -1 if unknown
	Tag    contracts.Tag // Correlation tag, 0 if none was assigned
	Err    error         // Underlying error
}

func (e *RoutingError) Error() string {
	if e.Client < 0 {
		return fmt.Sprintf("routing error: %s (tag %d): %v", e.Op, e.Tag, e.Err)
	}
	return fmt.Sprintf("routing error: %s for client %d (tag %d): %v", e.Op, e.Client, e.Tag, e.Err)
}

func (e *RoutingError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panic during routing
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
