package validator

import "duck-gateway/internal/policy"

// screen runs the forbidden patterns over the raw statement text. With
// screenLiterals off, the contents of single-quoted literals are blanked
// first so that a comment marker inside a string is not a match.
func screen(sql string, patterns []policy.Pattern, screenLiterals bool) (policy.Pattern, bool) {
	text := sql
	if !screenLiterals {
		text = blankStringLiterals(sql)
	}
	for _, p := range patterns {
		if p.MatchString(text) {
			return p, true
		}
	}
	return policy.Pattern{}, false
}

// blankStringLiterals replaces every byte between single quotes with a
// space, keeping the quotes and the text length. '' inside a literal is an
// escaped quote. An unterminated literal is blanked to the end.
func blankStringLiterals(sql string) string {
	out := []byte(sql)
	inString := false
	for i := 0; i < len(out); i++ {
		if out[i] != '\'' {
			if inString {
				out[i] = ' '
			}
			continue
		}
		if !inString {
			inString = true
			continue
		}
		if i+1 < len(out) && out[i+1] == '\'' {
			out[i], out[i+1] = ' ', ' '
			i++
			continue
		}
		inString = false
	}
	return string(out)
}
