package templates

import (
	"errors"
	"fmt"

	"github.com/Financial-Management-System/FMS-sub000/internal/schedule"
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError or an invalid schedule.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || schedule.IsInvalidSchedule(err)
}
