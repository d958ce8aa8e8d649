package extraction

import (
	"encoding/json"
	"strings"
)

// ExtractJSON returns the first well-formed JSON object embedded in s, found
// by bracket matching. Braces inside JSON strings are ignored. It returns
// false when no candidate parses; it never fails otherwise.
func ExtractJSON(s string) (json.RawMessage, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end, ok := matchBrace(s, start); ok {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return json.RawMessage(candidate), true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// matchBrace returns the index of the brace closing the one at start
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// stripJSON removes the embedded object and any markdown fence around it
func stripJSON(s string, obj json.RawMessage) string {
	if len(obj) > 0 {
		s = strings.Replace(s, string(obj), "", 1)
	}
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
