// Package shared provides shared utilities for application services.
package shared

import (
	"fmt"
	"time"
)

// FormatAge renders a duration as whole hours, minutes and seconds, omitting
// zero parts: "45s", "3m", "3m 20s", "4h 5s", "4h 1m 5s". Negative durations
// render as "0s".
func FormatAge(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds < 0 {
		seconds = 0
	}

	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	hours := seconds / 3600
	mins := (seconds % 3600) / 60
	secs := seconds % 60

	var out string
	if hours > 0 {
		out = fmt.Sprintf("%dh", hours)
	}
	if mins > 0 {
		out = join(out, fmt.Sprintf("%dm", mins))
	}
	if secs > 0 {
		out = join(out, fmt.Sprintf("%ds", secs))
	}
	return out
}

func join(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}

// PercentString formats a fraction as a percentage with four decimals.
func PercentString(fraction float64) string {
	return fmt.Sprintf("%.4f%%", fraction*100)
}
