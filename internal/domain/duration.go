package domain

import (
	"strconv"
	"strings"
	"time"
)

// ShareDurations is the closed set of lifetimes a sharing session may request.
var ShareDurations = []time.Duration{
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
	2 * time.Hour,
	4 * time.Hour,
	8 * time.Hour,
}

func IsAllowedShareDuration(d time.Duration) bool {
	for _, allowed := range ShareDurations {
		if d == allowed {
			return true
		}
	}
	return false
}

// ParseShareDuration accepts Go duration strings ("30m", "2h") and the app's
// labels ("30 minutes", "1 hour"). The result is not checked against
// ShareDurations.
func ParseShareDuration(raw string) (time.Duration, bool) {
	v := strings.TrimSpace(strings.ToLower(raw))
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch strings.TrimSuffix(fields[1], "s") {
	case "minute", "min":
		return time.Duration(n) * time.Minute, true
	case "hour", "hr":
		return time.Duration(n) * time.Hour, true
	default:
		return 0, false
	}
}

// ShareDurationLabel renders d the way the app lists it, e.g. "1 hour".
func ShareDurationLabel(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		n := int(d / time.Hour)
		if n == 1 {
			return "1 hour"
		}
		return strconv.Itoa(n) + " hours"
	}
	n := int(d / time.Minute)
	if n == 1 {
		return "1 minute"
	}
	return strconv.Itoa(n) + " minutes"
}
