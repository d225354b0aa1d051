package schedule

import (
	"errors"
	"fmt"
)

// InvalidScheduleError reports malformed schedule parameters.
type InvalidScheduleError struct {
	Field  string
	Value  int
	Reason string
}

func (e *InvalidScheduleError) Error() string {
	if e.Field == "frequency" {
		return fmt.Sprintf("invalid schedule: %s", e.Reason)
	}
	return fmt.Sprintf("invalid schedule: %s=%d %s", e.Field, e.Value, e.Reason)
}

// IsInvalidSchedule reports whether err (or anything it wraps) is an InvalidScheduleError.
func IsInvalidSchedule(err error) bool {
	var target *InvalidScheduleError
	return errors.As(err, &target)
}
