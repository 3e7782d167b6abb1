// Package plate canonicalizes free-text vehicle identifiers into comparable keys.
package plate

import "strings"

// Key is a normalized vehicle identifier: uppercase ASCII letters and digits only.
// Equality on Key is the only comparison basis between stores.
type Key string

// Normalize trims, uppercases and drops every character outside [A-Z0-9].
func Normalize(raw string) Key {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	var b strings.Builder
	b.Grow(len(upper))
	for i := 0; i < len(upper); i++ {
		c := upper[i]
		if isLetter(c) || isDigit(c) {
			b.WriteByte(c)
		}
	}
	return Key(b.String())
}

// IsPlateShaped reports whether k looks like a Brazilian plate: AAA9999
// (classic) or AAA9X99 where X is a letter or digit (Mercosul).
// It is a discovery heuristic, not a submission-time validity check.
func IsPlateShaped(k Key) bool {
	s := string(k)
	if len(s) != 7 {
		return false
	}
	for i := 0; i < 3; i++ {
		if !isLetter(s[i]) {
			return false
		}
	}
	if !isDigit(s[3]) {
		return false
	}
	if !isLetter(s[4]) && !isDigit(s[4]) {
		return false
	}
	return isDigit(s[5]) && isDigit(s[6])
}

// String implements fmt.Stringer.
func (k Key) String() string { return string(k) }

func isLetter(c byte) bool { return c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
