package core

import (
	"math"
	"strings"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// Percent returns part/total*100 rounded to 2 decimals, capped at 100.
func Percent(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(part) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*100) / 100
}
