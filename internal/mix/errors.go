package mix

import (
	"errors"
	"fmt"
)

// OccupiedSiteError reports a binding attempt on a site that already
// carries a bond. Candidate enumeration only ever offers free sites, so
// seeing this error means the selection logic is broken.
type OccupiedSiteError struct {
	Agent string
	Site  string
}

func (e *OccupiedSiteError) Error() string {
	return fmt.Sprintf("site %s.%s is already bound", e.Agent, e.Site)
}

// IsOccupiedSiteError reports whether err is an *OccupiedSiteError.
func IsOccupiedSiteError(err error) bool {
	var e *OccupiedSiteError
	return errors.As(err, &e)
}

// IncompatibleBindingError reports a binding attempt between sites the
// signature does not declare as partners.
type IncompatibleBindingError struct {
	First  string
	Second string
}

func (e *IncompatibleBindingError) Error() string {
	return fmt.Sprintf("sites %s and %s are not binding partners", e.First, e.Second)
}

// IsIncompatibleBindingError reports whether err is an *IncompatibleBindingError.
func IsIncompatibleBindingError(err error) bool {
	var e *IncompatibleBindingError
	return errors.As(err, &e)
}

// ExprError reports a malformed site-graph expression.
type ExprError struct {
	Pos     int
	Message string
}

func (e *ExprError) Error() string {
	return fmt.Sprintf("expression: %s at offset %d", e.Message, e.Pos)
}

// IsExprError reports whether err is an *ExprError.
func IsExprError(err error) bool {
	var e *ExprError
	return errors.As(err, &e)
}
