package domain

import "time"

// TimeLayout is fixed width so stored timestamps sort lexically in both SQL dialects.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

const DateLayout = "2006-01-02"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// ValidDate reports whether s is a YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
