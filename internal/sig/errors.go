package sig

import (
	"errors"
	"fmt"
)

// SchemaError reports a malformed or inconsistent signature declaration.
// Schema problems are fatal: they abort a run before any stochastic state
// is created.
type SchemaError struct {
	// Agent is the agent type involved, if known.
	Agent string

	// Site is the site name involved, if known.
	Site string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	switch {
	case e.Agent != "" && e.Site != "":
		return fmt.Sprintf("signature: %s.%s: %s", e.Agent, e.Site, e.Message)
	case e.Agent != "":
		return fmt.Sprintf("signature: agent %s: %s", e.Agent, e.Message)
	default:
		return fmt.Sprintf("signature: %s", e.Message)
	}
}

// IsSchemaError reports whether err is a SchemaError.
// Uses errors.As to handle wrapped errors.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
