package cache

import "errors"

// ErrBadPattern is returned for globs with an unterminated character class
// or a trailing backslash.
var ErrBadPattern = errors.New("syntax error in pattern")

// MatchPattern reports whether key matches a Redis style glob: '*' matches
// any run of bytes including '/', '?' matches one byte, '[...]' is a class
// with '^' negation and 'a-z' ranges, and '\' escapes the next byte. The
// same patterns are handed to Redis unchanged, so both tiers select the
// same keys.
func MatchPattern(pattern, key string) (bool, error) {
	if err := ValidatePattern(pattern); err != nil {
		return false, err
	}
	return globMatch(pattern, key), nil
}

// ValidatePattern checks pattern syntax without matching.
func ValidatePattern(pattern string) error {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			if i+1 == len(pattern) {
				return ErrBadPattern
			}
			i++
		case '[':
			end := classEnd(pattern, i+1)
			if end < 0 {
				return ErrBadPattern
			}
			i = end
		}
	}
	return nil
}

// classEnd returns the index of the ']' closing a class whose body starts
// at i, or -1.
func classEnd(p string, i int) int {
	if i < len(p) && p[i] == '^' {
		i++
	}
	for ; i < len(p); i++ {
		switch p[i] {
		case '\\':
			i++
		case ']':
			return i
		}
	}
	return -1
}

// globMatch expects a validated pattern. A '*' records a restart point; on
// mismatch the star absorbs one more byte.
func globMatch(p, s string) bool {
	var px, sx int
	nextPx, nextSx := 0, 0
	for px < len(p) || sx < len(s) {
		if px < len(p) {
			switch c := p[px]; c {
			case '*':
				nextPx, nextSx = px, sx+1
				px++
				continue
			case '?':
				if sx < len(s) {
					px++
					sx++
					continue
				}
			case '[':
				end := classEnd(p, px+1)
				if sx < len(s) && matchClass(p[px+1:end], s[sx]) {
					px = end + 1
					sx++
					continue
				}
			case '\\':
				if sx < len(s) && p[px+1] == s[sx] {
					px += 2
					sx++
					continue
				}
			default:
				if sx < len(s) && s[sx] == c {
					px++
					sx++
					continue
				}
			}
		}
		if 0 < nextSx && nextSx <= len(s) {
			px, sx = nextPx, nextSx
			continue
		}
		return false
	}
	return true
}

func matchClass(class string, b byte) bool {
	negate := false
	if len(class) > 0 && class[0] == '^' {
		negate = true
		class = class[1:]
	}

	match := false
	for i := 0; i < len(class); i++ {
		c := class[i]
		switch {
		case c == '\\' && i+1 < len(class):
			i++
			if class[i] == b {
				match = true
			}
		case i+2 < len(class) && class[i+1] == '-':
			lo, hi := c, class[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if lo <= b && b <= hi {
				match = true
			}
			i += 2
		case c == b:
			match = true
		}
	}
	return match != negate
}
