// Package version compares dotted version strings and evaluates the
// constraint expressions that portfiles attach to their requirements.
package version

import (
	"strings"
)

// Compare returns -1, 0 or 1 as a is older than, equal to or newer
// than b.  Versions are split on dots; purely numeric segments
// compare numerically, anything else lexically.  Missing trailing
// segments count as zero so 1.0 and 1.0.0 are equal.
func Compare(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		x, y := "0", "0"
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		if c := compareSegment(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func compareSegment(x, y string) int {
	if isNumeric(x) && isNumeric(y) {
		// Compare by magnitude without parsing so arbitrarily
		// long segments (dates, commit counts) cannot overflow.
		x = strings.TrimLeft(x, "0")
		y = strings.TrimLeft(y, "0")
		if len(x) != len(y) {
			if len(x) < len(y) {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(x, y)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SplitRequirement separates a requirement string such as
// "zlib>=1.2" into its package name and constraint.
func SplitRequirement(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, "<>=!")
	if i < 0 {
		return s, ""
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i:])
}
