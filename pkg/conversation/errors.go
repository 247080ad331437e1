package conversation

import (
	std_errors "errors"
	"fmt"
)

// ValidationError signals malformed or out-of-bounds input: bad id shape,
// empty or too-long content or title, unknown sender, message not found in the
// addressed branch. It is always raised before any mutation, so a failed call
// never leaves the registry partially updated.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return std_errors.As(err, &ve)
}
