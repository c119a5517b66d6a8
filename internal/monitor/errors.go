package monitor

import (
	"errors"
	"fmt"
)

// DeclError reports a malformed observable declaration.
type DeclError struct {
	Expr    string
	Message string
}

func (e *DeclError) Error() string {
	return fmt.Sprintf("observable %q: %s", e.Expr, e.Message)
}

// IsDeclError reports whether err is a *DeclError.
func IsDeclError(err error) bool {
	var de *DeclError
	return errors.As(err, &de)
}
