package types

import "errors"

// Error kinds shared by all call-session components. Use [errors.Is] to test
// for them; concrete errors wrap one of these.
var (
	// ErrValidation marks malformed caller input. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrConfiguration marks missing credential signing material.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransport marks a failure to connect to or stay connected with the
	// voice transport.
	ErrTransport = errors.New("transport error")

	// ErrAlreadyConnecting is returned by a start while another start is in
	// flight or the call is live.
	ErrAlreadyConnecting = errors.New("call is already connecting")

	// ErrCallEnded is returned by a start whose result was discarded because
	// the call was ended before it completed.
	ErrCallEnded = errors.New("call was ended before start completed")

	// ErrNotFound is returned when a customer session lookup has no match.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports malformed caller input. Its message is meant to be
// shown to the user verbatim.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError returns a [*ValidationError] for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string { return e.Message }

// Is makes every ValidationError match [ErrValidation].
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
