package oscdispatch

// matchPattern reports whether candidate (a plain decimal string, e.g.
// "511") matches pattern, where pattern may contain OSC's `*` (any run
// of characters, including none) and `?` (exactly one character)
// wildcards. Bracket classes and alternation are not part of the OSC
// subset this bridge accepts (spec.md §4.4), so they aren't handled
// here; a literal `[` or `{` is matched as itself and will simply fail
// to match any channel/priority digit string.
func matchPattern(pattern, candidate string) bool {
	return matchHere(pattern, candidate)
}

func matchHere(pattern, candidate string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Try consuming zero characters first, then progressively
			// more, backtracking on failure.
			for i := 0; i <= len(candidate); i++ {
				if matchHere(pattern[1:], candidate[i:]) {
					return true
				}
			}

			return false
		case '?':
			if len(candidate) == 0 {
				return false
			}

			pattern = pattern[1:]
			candidate = candidate[1:]
		default:
			if len(candidate) == 0 || pattern[0] != candidate[0] {
				return false
			}

			pattern = pattern[1:]
			candidate = candidate[1:]
		}
	}

	return len(candidate) == 0
}
