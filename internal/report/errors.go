package report

import (
	"errors"
	"fmt"
)

// SnapshotError reports a malformed snapshot file.
type SnapshotError struct {
	Line    int
	Message string
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot line %d: %s", e.Line, e.Message)
}

// IsSnapshotError reports whether err is a *SnapshotError.
func IsSnapshotError(err error) bool {
	var se *SnapshotError
	return errors.As(err, &se)
}
