package scheduler

import (
	"errors"
	"fmt"
)

// SchedulingError reports a time expression or entry that cannot be
// scheduled.
type SchedulingError struct {
	Expr   string
	Reason string
}

func (e *SchedulingError) Error() string {
	if e.Expr == "" {
		return "scheduling: " + e.Reason
	}
	return fmt.Sprintf("scheduling %q: %s", e.Expr, e.Reason)
}

// IsSchedulingError reports whether err wraps a *SchedulingError.
func IsSchedulingError(err error) bool {
	var se *SchedulingError
	return errors.As(err, &se)
}
