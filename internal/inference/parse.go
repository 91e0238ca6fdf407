package inference

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when model output contains no JSON object
var ErrNoJSON = errors.New("no JSON object found in response")

// ExtractJSON decodes the outermost {...} span of raw model output into v.
// Markdown fences and chatter around the object are ignored.
func ExtractJSON(raw string, v interface{}) error {
	text := unfence(strings.TrimSpace(raw))

	open := strings.IndexByte(text, '{')
	closing := strings.LastIndexByte(text, '}')
	if open < 0 || closing < open {
		return ErrNoJSON
	}

	if err := json.Unmarshal([]byte(text[open:closing+1]), v); err != nil {
		return fmt.Errorf("decode model json: %w", err)
	}
	return nil
}

// unfence strips a ``` block wrapper and its language tag
func unfence(s string) string {
	body, ok := strings.CutPrefix(s, "```")
	if !ok {
		return s
	}
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.Contains(body[:nl], "{") {
		body = body[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(body), "```"))
}
