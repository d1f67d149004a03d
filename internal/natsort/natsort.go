// Package natsort orders file names the way a reader expects: runs of digits
// compare by numeric value and everything else compares case-insensitively.
package natsort

import (
	"slices"
	"strings"
)

// Part is one run of a sort key. Keys always alternate text and number
// parts, starting with a (possibly empty) text part.
type Part struct {
	Text   string
	Number string // digits with leading zeros removed, "0" for all-zero runs
	IsNum  bool
}

// Key splits name into its comparable runs.
func Key(name string) []Part {
	parts := make([]Part, 0, 4)
	start := 0
	inDigits := false
	flush := func(end int) {
		run := name[start:end]
		if inDigits {
			parts = append(parts, Part{Number: trimZeros(run), IsNum: true})
		} else {
			parts = append(parts, Part{Text: strings.ToLower(run)})
		}
		start = end
	}
	for i := 0; i < len(name); i++ {
		d := isDigit(name[i])
		if d != inDigits {
			flush(i)
			inDigits = d
		}
	}
	flush(len(name))
	return parts
}

// Compare returns -1, 0 or +1 depending on the natural order of a and b.
func Compare(a, b string) int {
	return compareKeys(Key(a), Key(b))
}

// Less reports whether a sorts before b.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}

// Sort orders names in place. Names with equal keys keep their input order.
func Sort(names []string) {
	SortFunc(names, func(s string) string { return s })
}

// SortFunc stably orders items by the natural order of name(item).
func SortFunc[T any](items []T, name func(T) string) {
	keys := make(map[string][]Part, len(items))
	key := func(item T) []Part {
		n := name(item)
		k, ok := keys[n]
		if !ok {
			k = Key(n)
			keys[n] = k
		}
		return k
	}
	slices.SortStableFunc(items, func(a, b T) int {
		return compareKeys(key(a), key(b))
	})
}

func compareKeys(a, b []Part) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := comparePart(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func comparePart(a, b Part) int {
	if a.IsNum && b.IsNum {
		// Arbitrary-length digit runs: longer means larger once zeros are trimmed.
		if len(a.Number) != len(b.Number) {
			if len(a.Number) < len(b.Number) {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Number, b.Number)
	}
	if a.IsNum != b.IsNum {
		// Cannot happen for keys built by Key; keep numbers first for safety.
		if a.IsNum {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Text, b.Text)
}

func trimZeros(digits string) string {
	trimmed := strings.TrimLeft(digits, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
