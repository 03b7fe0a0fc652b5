package runner

import (
	"encoding/json"
	"strings"
)

// ParseModelOutput turns raw model text into a structured output map.
//
// The text is first stripped of a surrounding markdown code fence (``` or
// ```json), then parsed as JSON. A JSON object becomes the output directly;
// any other JSON value is wrapped as {"result": value}; text that is not
// JSON at all is wrapped as {"text": text}. Parsing never fails — malformed
// model output degrades to the text form.
func ParseModelOutput(text string) map[string]any {
	trimmed := StripCodeFence(text)

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		return obj
	}

	var val any
	if err := json.Unmarshal([]byte(trimmed), &val); err == nil {
		return map[string]any{"result": val}
	}

	return map[string]any{"text": strings.TrimSpace(text)}
}

// StripCodeFence removes a single surrounding markdown code fence, with or
// without a language tag. Text without a fence is returned trimmed.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the language tag up to the first newline.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if !strings.ContainsAny(first, "{}[]\"") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
