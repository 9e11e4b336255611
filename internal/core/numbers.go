package core

import (
	"math"
	"strconv"
	"strings"
)

// Numeric inputs reach the editor as raw text. The policy everywhere is
// parse-with-fallback: empty or unparseable input counts as zero, and
// totals accumulate unrounded floats. Rounding happens only at display
// and export boundaries.

// ParseAmount parses a decimal amount, falling back to zero.
func ParseAmount(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ParseCount parses an integer count, falling back to zero. Decimal input
// truncates toward zero, matching how the original editor coerced the
// quantity field.
func ParseCount(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int(f)
	}
	return 0
}

// ParseUserID coerces a contributor identifier to an int64, reporting
// whether the input was a valid integer.
func ParseUserID(s string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// RoundDisplay rounds to two decimals for display and export boundaries.
func RoundDisplay(v float64) float64 {
	return math.Round(v*100) / 100
}

// FormatAmount renders an amount the way the editor footer shows it.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(RoundDisplay(v), 'f', 2, 64)
}
