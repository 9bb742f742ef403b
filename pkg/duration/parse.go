// Package duration provides human-friendly duration parsing for topology fields.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Common duration constants for human-friendly units.
const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// unitMultipliers maps human-friendly unit suffixes to their duration values.
var unitMultipliers = map[string]time.Duration{
	"d": Day,
	"w": Week,
}

// durationPattern matches duration components like "2w", "3d".
var durationPattern = regexp.MustCompile(`(\d+)([wd])`)

// Parse extends time.ParseDuration to support human-friendly units:
//   - d (days) = 24h
//   - w (weeks) = 7d
//
// Standard Go duration units (ns, us, ms, s, m, h) are also supported, and
// compound durations like "1d12h" or "2w3d" work as expected.
//
// Special case: "0" returns 0 duration (no grace period, immediate kill).
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	if s == "0" {
		return 0, nil
	}

	if !containsHumanUnits(s) {
		// Fall back to standard Go parsing
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w (supported units: ns, us, ms, s, m, h, d, w)", s, err)
		}
		return d, nil
	}

	return parseHumanDuration(s)
}

// containsHumanUnits checks if the string contains any human-friendly unit suffixes.
func containsHumanUnits(s string) bool {
	return durationPattern.MatchString(s)
}

// parseHumanDuration parses a duration string containing human-friendly units.
func parseHumanDuration(s string) (time.Duration, error) {
	var total time.Duration
	remaining := s

	matches := durationPattern.FindAllStringSubmatch(remaining, -1)
	for _, match := range matches {
		value, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration value %q in %q", match[1], s)
		}

		multiplier, ok := unitMultipliers[match[2]]
		if !ok {
			return 0, fmt.Errorf("unknown duration unit %q in %q", match[2], s)
		}

		total += time.Duration(value) * multiplier
	}
	remaining = durationPattern.ReplaceAllString(remaining, "")

	// Whatever is left should be a standard Go duration
	remaining = strings.TrimSpace(remaining)
	if remaining != "" {
		d, err := time.ParseDuration(remaining)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w (supported units: ns, us, ms, s, m, h, d, w)", s, err)
		}
		total += d
	}

	return total, nil
}
