package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTag is returned when a message has no tag field
	ErrMissingTag = errors.New("message has no tag")

	// ErrMalformedTag is returned when the tag field is not an integer
	ErrMalformedTag = errors.New("message tag is malformed")

	// ErrQueueClosed is returned by queues that no longer accept or hold messages
	ErrQueueClosed = errors.New("queue closed")
)

// TagError describes a tag value that could not be decoded
type TagError struct {
	Value any
	Err   error
}

func (e *TagError) Error() string {
	return fmt.Sprintf("malformed tag %v (%T): %v", e.Value, e.Value, e.Err)
}

func (e *TagError) Unwrap() error {
	return e.Err
}

// Is reports ErrMalformedTag so callers can match on the sentinel
func (e *TagError) Is(target error) bool {
	return target == ErrMalformedTag
}
