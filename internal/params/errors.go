package params

import (
	"errors"
	"fmt"
)

// ParameterError reports a missing or invalid run parameter. Parameter
// problems are fatal and abort the run before any stochastic state exists.
type ParameterError struct {
	// Key is the parameter involved.
	Key string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ParameterError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("parameters: %s: %s", e.Key, e.Message)
	}
	return fmt.Sprintf("parameters: %s", e.Message)
}

// IsParameterError reports whether err is a ParameterError.
// Uses errors.As to handle wrapped errors.
func IsParameterError(err error) bool {
	var pe *ParameterError
	return errors.As(err, &pe)
}
