package utils

import (
	"fmt"
	"os"
	"strings"
	"time"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// ParseDateOnly parses a calendar date (YYYY-MM-DD) into a UTC midnight time.
// Sync windows and sale dates have date-only granularity.
func ParseDateOnly(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", value, err)
	}
	return t.UTC(), nil
}

func FormatDateOnly(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
