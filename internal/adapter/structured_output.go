package adapter

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ExtractJSON implements the fallback chain for structured output when a
// provider's native JSON-schema tool doesn't fire: try the whole response,
// then fenced code blocks, then the largest brace/bracket-delimited
// substring. Returns the original content unchanged if nothing parses.
func ExtractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if json.Valid([]byte(trimmed)) {
		return trimmed
	}

	for _, match := range fencedBlockPattern.FindAllStringSubmatch(trimmed, -1) {
		candidate := strings.TrimSpace(match[1])
		if json.Valid([]byte(candidate)) {
			return candidate
		}
	}

	if candidate, ok := bracketSubstring(trimmed, '{', '}'); ok {
		return candidate
	}
	if candidate, ok := bracketSubstring(trimmed, '[', ']'); ok {
		return candidate
	}

	return content
}

func bracketSubstring(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return "", false
	}
	candidate := s[start : end+1]
	if json.Valid([]byte(candidate)) {
		return candidate, true
	}
	return "", false
}
