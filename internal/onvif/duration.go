package onvif

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	secondsPerMinute = 60
	secondsPerHour   = 60 * secondsPerMinute
	secondsPerDay    = 24 * secondsPerHour
)

// errBadDuration is returned when a duration string cannot be decoded.
var errBadDuration = errors.New("malformed ISO-8601 duration")

// FormatLeaseDuration encodes a non-negative second count as the ISO-8601
// style duration string cameras expect in termination times:
// P[<days>D]T[<hours>H][<minutes>M][<seconds>S]. Each component is emitted
// only when non-zero, so zero total seconds yields "PT".
func FormatLeaseDuration(totalSeconds int) string {
	seconds := totalSeconds % secondsPerMinute
	minutes := totalSeconds / secondsPerMinute
	hours := minutes / 60
	minutes %= 60
	days := hours / 24
	hours %= 24

	var b strings.Builder

	b.WriteByte('P')

	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}

	b.WriteByte('T')

	if hours > 0 {
		fmt.Fprintf(&b, "%dH", hours)
	}

	if minutes > 0 {
		fmt.Fprintf(&b, "%dM", minutes)
	}

	if seconds > 0 {
		fmt.Fprintf(&b, "%dS", seconds)
	}

	return b.String()
}

// ParseLeaseDuration decodes a duration produced by FormatLeaseDuration back
// into total seconds. Only the D/H/M/S components used on the wire are
// understood.
func ParseLeaseDuration(s string) (int, error) {
	rest, ok := strings.CutPrefix(s, "P")
	if !ok {
		return 0, fmt.Errorf("%w: %q", errBadDuration, s)
	}

	datePart, timePart, ok := strings.Cut(rest, "T")
	if !ok {
		return 0, fmt.Errorf("%w: %q", errBadDuration, s)
	}

	total, err := parseComponents(datePart, map[byte]int{'D': secondsPerDay})
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errBadDuration, s)
	}

	timeSeconds, err := parseComponents(timePart, map[byte]int{
		'H': secondsPerHour,
		'M': secondsPerMinute,
		'S': 1,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errBadDuration, s)
	}

	return total + timeSeconds, nil
}

// parseComponents sums `<number><designator>` pairs using the given
// designator-to-seconds multipliers.
func parseComponents(s string, multipliers map[byte]int) (int, error) {
	total := 0
	start := 0

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			continue
		}

		mult, ok := multipliers[c]
		if !ok || start == i {
			return 0, errBadDuration
		}

		n, err := strconv.Atoi(s[start:i])
		if err != nil {
			return 0, errBadDuration
		}

		total += n * mult
		start = i + 1
	}

	if start != len(s) {
		return 0, errBadDuration
	}

	return total, nil
}
