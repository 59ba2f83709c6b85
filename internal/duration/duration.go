// Package duration converts between whole seconds and the human-readable
// "1 hr 2 min 3 sec" strings stored in history entries.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	hoursRe   = regexp.MustCompile(`(\d+) hr`)
	minutesRe = regexp.MustCompile(`(\d+) min`)
	secondsRe = regexp.MustCompile(`(\d+) sec`)
)

// Format renders seconds using only the units needed: "42 sec",
// "3 min 5 sec", or "1 hr 0 min 7 sec". Negative input is treated as zero.
func Format(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d sec", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%d min %d sec", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%d hr %d min %d sec", seconds/3600, (seconds%3600)/60, seconds%60)
	}
}

// Parse is the inverse of Format. Any subset of the hr/min/sec components
// may be present; missing or malformed components count as zero.
func Parse(s string) int64 {
	return component(hoursRe, s)*3600 + component(minutesRe, s)*60 + component(secondsRe, s)
}

func component(re *regexp.Regexp, s string) int64 {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
