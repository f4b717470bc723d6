package adapter

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/carverauto/dynconfig/internal/transport"
)

// JSONAdapter parses a setting's value as JSON, tolerating `//` line and
// `/* */` block comments. Settings whose content-type is not
// JSON-eligible, or whose value fails to parse even after comments are
// stripped, fall back to the raw string — the adapter never errors.
//
// No comment-tolerant JSON library is in scope here, so this strips
// comments by hand before handing the result to encoding/json (see
// DESIGN.md).
type JSONAdapter struct{}

func (JSONAdapter) CanProcess(s transport.Setting) bool {
	return isEligibleJSON(s.ContentType)
}

func (JSONAdapter) Process(_ context.Context, s transport.Setting) (string, any, error) {
	if s.Value == nil {
		return s.Key, nil, nil
	}

	stripped := stripJSONComments(*s.Value)

	var v any
	if err := json.Unmarshal([]byte(stripped), &v); err != nil {
		return s.Key, *s.Value, nil
	}
	return s.Key, v, nil
}

// stripJSONComments removes // line comments and /* */ block comments that
// are not inside a string literal.
func stripJSONComments(raw string) string {
	var out strings.Builder
	out.Grow(len(raw))

	inString := false
	escaped := false

	runes := []rune(raw)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if inString {
			out.WriteRune(r)
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			continue
		}

		switch {
		case r == '"':
			inString = true
			out.WriteRune(r)
		case r == '/' && i+1 < len(runes) && runes[i+1] == '/':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			i--
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
		default:
			out.WriteRune(r)
		}
	}

	return out.String()
}
