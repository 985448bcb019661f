package prompt

import (
	"encoding/json"
	"errors"
	"strings"
)

// parsePayload decodes the model's structured output. Models occasionally
// wrap the JSON in a code fence, pad it with prose, or double-encode the
// whole object as a JSON string; all three are tolerated.
func parsePayload[T any](raw string) (T, error) {
	var zero T
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return zero, errors.New("prompt: empty payload")
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err == nil {
		return decoded, nil
	}
	// Double-encoded: the payload is a JSON string holding the object.
	var inner string
	if err := json.Unmarshal([]byte(cleaned), &inner); err != nil {
		return zero, err
	}
	inner = extractJSONFragment(inner)
	if inner == "" {
		return zero, errors.New("prompt: empty inner payload")
	}
	if err := json.Unmarshal([]byte(inner), &decoded); err != nil {
		return zero, err
	}
	return decoded, nil
}

// serviceError interprets the sentinel error field some deployments echo.
// The literal string "None" means no error.
func serviceError(field string) bool {
	field = strings.TrimSpace(field)
	if field == "" {
		return false
	}
	switch strings.ToLower(field) {
	case "none", "null", "nil":
		return false
	}
	return true
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, `{["`)
	end := strings.LastIndexAny(text, `]}"`)
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
