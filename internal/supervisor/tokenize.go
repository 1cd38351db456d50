package supervisor

import (
	"fmt"
	"strings"
)

// tokenize splits extraArgs the way a shell would, preserving quoted
// strings, without ever invoking a shell (command substitution is
// therefore structurally impossible — the parser doesn't know what a
// "$(...)" or backtick means, it only matches quote pairs).
func tokenize(s string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inToken := false

	runes := []rune(s)
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch {
		case c == ' ' || c == '\t':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
			i++
		case c == '\'' || c == '"':
			quote := c
			i++
			inToken = true
			for i < len(runes) && runes[i] != quote {
				cur.WriteRune(runes[i])
				i++
			}
			if i >= len(runes) {
				return nil, fmt.Errorf("unterminated quote in extra_args")
			}
			i++ // skip closing quote
		default:
			inToken = true
			cur.WriteRune(c)
			i++
		}
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
