package jsonutils

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	errNoObject     = errors.New("no JSON object in model output")
)

// ExtractJSON pulls the first JSON object out of model output.
//
// Priority:
// 1. Triple-backtick fenced block, with or without a json tag
// 2. The first balanced {...} object in the text
//
// Invisible characters and trailing commas are removed. Returns "" when no
// object is found.
func ExtractJSON(input string) string {
	input = strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\uFEFF' || r == '\u200B' || r == '\u200C' || r == '\u200D' {
			return -1
		}
		return r
	}, input))

	if match := fenceRe.FindStringSubmatch(input); len(match) > 1 {
		input = strings.TrimSpace(match[1])
	}
	obj := firstObject(input)
	if obj == "" {
		return ""
	}
	return trailingCommaRe.ReplaceAllString(obj, "$1")
}

// firstObject returns the first brace-balanced object, ignoring braces inside
// string literals.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth, inString, escaped := 0, false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// Decode extracts the JSON object from model output into v.
func Decode(input string, v interface{}) error {
	obj := ExtractJSON(input)
	if obj == "" {
		return errNoObject
	}
	return json.Unmarshal([]byte(obj), v)
}

// ToJSON serializes a Go value to a JSON string with indentation.
// Returns an empty string if serialization fails.
func ToJSON(v interface{}) string {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(bytes))
}
