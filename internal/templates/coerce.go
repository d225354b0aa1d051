package templates

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Date accepts either an RFC 3339 timestamp or a YYYY-MM-DD calendar date
// (midnight UTC) when decoded from JSON. The result is always in UTC.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := ParseDate(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Time)
}

// ParseDate parses an RFC 3339 timestamp or a YYYY-MM-DD date. An offset is
// dropped and the wall clock kept, so "2026-02-01T00:00:00+09:00" schedules on
// February 1 like "2026-02-01" does.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return wallClockUTC(t), nil
	}
	return time.Parse(dateLayout, s)
}

// wallClockUTC keeps the calendar date and clock reading of t in UTC.
// Day-of-month and weekday anchors are evaluated on stored values, and every
// driver stores UTC.
func wallClockUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeString(field string, raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalid(field, "must be a string")
	}
	return strings.TrimSpace(s), nil
}

// decodeInt accepts a JSON integer or a numeric string.
func decodeInt(field string, raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, nil
		}
	}
	return 0, invalid(field, "must be an integer")
}

func decodeOptionalInt(field string, raw json.RawMessage) (*int, error) {
	if isNull(raw) {
		return nil, nil
	}
	n, err := decodeInt(field, raw)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// decodeBool accepts a JSON boolean or "true"/"false".
func decodeBool(field string, raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, nil
		}
	}
	return false, invalid(field, "must be a boolean")
}

// decodeAmount accepts a JSON number or a numeric string.
func decodeAmount(field string, raw json.RawMessage) (decimal.Decimal, error) {
	var d decimal.Decimal
	if isNull(raw) || json.Unmarshal(raw, &d) != nil {
		return decimal.Decimal{}, invalid(field, "must be a number")
	}
	return d, nil
}

func decodeDate(field string, raw json.RawMessage) (time.Time, error) {
	s, err := decodeString(field, raw)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseDate(s)
	if err != nil {
		return time.Time{}, invalid(field, "must be an RFC 3339 timestamp or YYYY-MM-DD date")
	}
	return t, nil
}

func decodeOptionalDate(field string, raw json.RawMessage) (*time.Time, error) {
	if isNull(raw) {
		return nil, nil
	}
	t, err := decodeDate(field, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
