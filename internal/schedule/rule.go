package schedule

import (
	"fmt"
	"strings"
)

// Frequency is the cadence unit of a recurrence.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// ParseFrequency normalizes a frequency name ("Monthly", " weekly ") into a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", &InvalidScheduleError{Field: "frequency", Reason: fmt.Sprintf("unknown frequency %q", s)}
	}
	return f, nil
}

// Valid reports whether f is one of the supported cadences.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// AnchorKind selects which calendar position (if any) a rule is pinned to.
type AnchorKind int

const (
	// AnchorNone keeps the weekday or day-of-month of the base date.
	AnchorNone AnchorKind = iota
	// AnchorWeekday pins weekly rules to a weekday (0 = Sunday).
	AnchorWeekday
	// AnchorDayOfMonth pins monthly rules to a day of the month, clamped to the month length.
	AnchorDayOfMonth
)

func (k AnchorKind) String() string {
	switch k {
	case AnchorWeekday:
		return "weekday"
	case AnchorDayOfMonth:
		return "day_of_month"
	default:
		return "none"
	}
}

// Anchor is a fixed calendar position a recurrence is pinned to.
type Anchor struct {
	Kind  AnchorKind
	Value int
}

// NoAnchor returns the unanchored variant.
func NoAnchor() Anchor { return Anchor{Kind: AnchorNone} }

// OnWeekday pins a weekly rule to weekday d (0 = Sunday ... 6 = Saturday).
func OnWeekday(d int) Anchor { return Anchor{Kind: AnchorWeekday, Value: d} }

// OnDayOfMonth pins a monthly rule to day d (1..31).
func OnDayOfMonth(d int) Anchor { return Anchor{Kind: AnchorDayOfMonth, Value: d} }

func (a Anchor) validate() error {
	switch a.Kind {
	case AnchorNone:
		return nil
	case AnchorWeekday:
		if a.Value < 0 || a.Value > 6 {
			return &InvalidScheduleError{Field: "dayOfWeek", Value: a.Value, Reason: "must be between 0 and 6"}
		}
	case AnchorDayOfMonth:
		if a.Value < 1 || a.Value > 31 {
			return &InvalidScheduleError{Field: "dayOfMonth", Value: a.Value, Reason: "must be between 1 and 31"}
		}
	default:
		return &InvalidScheduleError{Field: "anchor", Value: int(a.Kind), Reason: "unknown anchor kind"}
	}
	return nil
}

// Rule describes a recurrence cadence.
//
// An anchor that does not apply to the frequency (a weekday on a monthly rule,
// for example) is range-checked but otherwise ignored.
type Rule struct {
	Frequency Frequency
	Interval  int
	Anchor    Anchor
}

// Validate checks the rule's parameters.
func (r Rule) Validate() error {
	if !r.Frequency.Valid() {
		return &InvalidScheduleError{Field: "frequency", Reason: fmt.Sprintf("unknown frequency %q", r.Frequency)}
	}
	if r.Interval < 1 {
		return &InvalidScheduleError{Field: "interval", Value: r.Interval, Reason: "must be at least 1"}
	}
	return r.Anchor.validate()
}

// RuleFromFields builds a Rule from the nullable persisted schedule fields.
// Both anchors are range-checked when present; the one matching the frequency wins.
func RuleFromFields(freq Frequency, interval int, dayOfWeek, dayOfMonth *int) (Rule, error) {
	if dayOfWeek != nil {
		if err := OnWeekday(*dayOfWeek).validate(); err != nil {
			return Rule{}, err
		}
	}
	if dayOfMonth != nil {
		if err := OnDayOfMonth(*dayOfMonth).validate(); err != nil {
			return Rule{}, err
		}
	}

	r := Rule{Frequency: freq, Interval: interval, Anchor: NoAnchor()}
	switch {
	case freq == Weekly && dayOfWeek != nil:
		r.Anchor = OnWeekday(*dayOfWeek)
	case freq == Monthly && dayOfMonth != nil:
		r.Anchor = OnDayOfMonth(*dayOfMonth)
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}
