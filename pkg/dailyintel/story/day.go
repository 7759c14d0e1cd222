package story

import (
	"fmt"
	"time"
)

// DayLayout is the time layout of dataset day names (DD_MM_YY).
const DayLayout = "02_01_06"

// FormatDay returns the day name for t.
func FormatDay(t time.Time) string {
	return t.Format(DayLayout)
}

// ParseDay parses a DD_MM_YY day name.
func ParseDay(day string) (time.Time, error) {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q (want DD_MM_YY): %w", day, err)
	}
	return t, nil
}

// DayBefore reports whether day a is strictly earlier than day b. Unparsable
// names compare as not earlier.
func DayBefore(a, b string) bool {
	ta, err := ParseDay(a)
	if err != nil {
		return false
	}
	tb, err := ParseDay(b)
	if err != nil {
		return false
	}
	return ta.Before(tb)
}
