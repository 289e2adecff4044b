// Package xtime extends time.Duration parsing and formatting with day, week,
// month and year units.
package xtime

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Extended units and their length. Months are 30 days and years 365 days.
var units = []struct {
	symbols string
	length  time.Duration
}{
	{"Yy", 365 * day},
	{"M", 30 * day},
	{"Ww", 7 * day},
	{"Dd", day},
}

var componentRx = regexp.MustCompile(`(\d*\.\d+|\d+)([^\d.]*)`)

// ParseDuration parses a duration string. In addition to the units supported
// by time.ParseDuration, it accepts "d" (days), "w" (weeks), "M" (months) and
// "y" (years), e.g. "10d", "-1.5w" or "3Y4M5d".
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return 0, fmt.Errorf("invalid duration '%s'", orig)
	}

	var sum time.Duration
	matched := 0
	for _, m := range componentRx.FindAllStringSubmatch(s, -1) {
		matched += len(m[0])
		num, unit := m[1], m[2]
		mult := time.Duration(0)
		for _, u := range units {
			if unit != "" && strings.Contains(u.symbols, unit) {
				mult = u.length
				break
			}
		}
		if mult == 0 {
			d, err := time.ParseDuration(num + unit)
			if err != nil {
				return 0, fmt.Errorf("invalid duration '%s': %w", orig, err)
			}
			sum += d
			continue
		}
		d, err := time.ParseDuration(num + "h")
		if err != nil {
			return 0, fmt.Errorf("invalid duration '%s': %w", orig, err)
		}
		sum += time.Duration(float64(d) / float64(time.Hour) * float64(mult))
	}
	if matched != len(s) {
		return 0, fmt.Errorf("invalid duration '%s'", orig)
	}

	if neg {
		sum = -sum
	}

	return sum, nil
}

// FormatDuration formats a duration using the largest units first, e.g.
// "1w2d" or "1m30s". The duration is rounded to round, and smaller units are
// omitted.
func FormatDuration(d, round time.Duration) string {
	if round > 0 {
		d = d.Round(round)
	}
	if d == 0 {
		return "0s"
	}

	var sb strings.Builder
	if d < 0 {
		sb.WriteByte('-')
		d = -d
	}

	parts := []struct {
		symbol string
		length time.Duration
	}{
		{"Y", 365 * day}, {"M", 30 * day}, {"w", 7 * day}, {"d", day},
		{"h", time.Hour}, {"m", time.Minute}, {"s", time.Second},
		{"ms", time.Millisecond}, {"µs", time.Microsecond}, {"ns", time.Nanosecond},
	}
	for _, p := range parts {
		if d < p.length {
			continue
		}
		fmt.Fprintf(&sb, "%d%s", d/p.length, p.symbol)
		d %= p.length
	}

	return sb.String()
}
