// Package daterange splits a monthly period into bounded sub-ranges so a
// single upstream call never exceeds the per-call record quota.
package daterange

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidRange = errors.New("daterange: invalid range")

// Range is one [Start, End] slice of the requested period, both bounds in
// YYYY-MM form and inclusive.
type Range struct {
	Start string
	End   string
}

// Split covers [start, end] with chronological, gap-free, non-overlapping
// sub-ranges of at most maxMonths months each. A range that already fits in
// one window yields exactly one sub-range equal to the input.
func Split(start, end string, maxMonths int) ([]Range, error) {
	if maxMonths <= 0 {
		return nil, fmt.Errorf("%w: months per call must be positive, got %d", ErrInvalidRange, maxMonths)
	}
	from, err := ParseMonth(start)
	if err != nil {
		return nil, err
	}
	to, err := ParseMonth(end)
	if err != nil {
		return nil, err
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange, start, end)
	}

	ranges := make([]Range, 0)
	current := from
	for !current.After(to) {
		last := current.AddDate(0, maxMonths-1, 0)
		if last.After(to) {
			last = to
		}
		ranges = append(ranges, Range{Start: FormatMonth(current), End: FormatMonth(last)})
		current = last.AddDate(0, 1, 0)
	}
	return ranges, nil
}

// ParseMonth parses a YYYY-MM string into the first instant of that month.
func ParseMonth(value string) (time.Time, error) {
	parsed, err := time.Parse("2006-01", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a YYYY-MM date", ErrInvalidRange, value)
	}
	return parsed, nil
}

// FormatMonth renders a time as YYYY-MM.
func FormatMonth(t time.Time) string {
	return t.Format("2006-01")
}

// Compact strips the dash from a YYYY-MM string, producing the YYYYMM form
// the upstream period parameter expects.
func Compact(value string) string {
	if len(value) == 7 && value[4] == '-' {
		return value[:4] + value[5:]
	}
	return value
}
