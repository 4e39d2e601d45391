package copilot

import (
	"errors"
	"fmt"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/scheduler"
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/store"
)

// NotFoundError reports a reference to a task, workout or grocery item the
// chat does not have.
type NotFoundError struct {
	Kind string // "task", "workout", "grocery item"
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Ref)
}

// ValidationError reports a malformed tool argument. It is always returned
// before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid arguments: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// UserMessage turns an operation error into text fit for the chat.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		nf  *NotFoundError
		ve  *ValidationError
		se  *scheduler.SchedulingError
		ste *store.StorageError
	)
	switch {
	case errors.As(err, &nf):
		return fmt.Sprintf("I couldn't find %s %q. Could you check the name or id?", nf.Kind, nf.Ref)
	case errors.As(err, &ve):
		return "That doesn't look right: " + ve.Error() + "."
	case errors.As(err, &se):
		return fmt.Sprintf("I didn't understand the time %q. Try something like \"in 10 minutes\", \"tomorrow at 9am\" or \"2025-03-01T09:00\".", se.Expr)
	case errors.As(err, &ste):
		return "I couldn't save that, please try again."
	default:
		return "Something went wrong, please try again."
	}
}
