package agent

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFormat is returned when a frame is not a JSON object with a string messageType.
	ErrFormat = errors.New("agent: invalid message format")

	// ErrUnknownType is returned for a messageType outside the known set.
	ErrUnknownType = errors.New("agent: unknown message type")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("agent: invalid message")

	// ErrOwnerRequired is returned when registering an unseen device without a userId.
	ErrOwnerRequired = errors.New("agent: userId required for new device registration")
)

// UnknownTypeError carries the rejected messageType.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("agent: unknown message type %q", e.Type)
}

// Is reports ErrUnknownType.
func (e *UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownType
}

// ValidationError lists the field problems found in a message of a known type.
type ValidationError struct {
	Type     Kind
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("agent: invalid %s message: %s", e.Type, strings.Join(e.Problems, ", "))
}

// Is reports ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
