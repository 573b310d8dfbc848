package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ParseError is returned when a model response cannot be turned into the
// structure a stage needs. It is a stage failure and is retried like any other.
type ParseError struct {
	Schema string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s response: %v", e.Schema, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StripFences removes the ``` / ```json wrapper models like to put around output.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if !strings.Contains(s, "\n") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimPrefix(s, "json")
		return strings.TrimSpace(s)
	}
	lines := strings.Split(s, "\n")
	lines = lines[1:] // ``` or ```lang
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ExtractJSONObject returns the outermost {...} span of s, or "" if there is none.
func ExtractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// ParseJSON strips wrappers, validates against schema (sanitizing once if the
// strict pass fails) and decodes into T. It also returns the JSON that was accepted.
func ParseJSON[T any](text string, schema *Schema, logger *slog.Logger) (T, []byte, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}

	body := StripFences(text)
	if !json.Valid([]byte(body)) {
		body = ExtractJSONObject(body)
	}
	if body == "" {
		return zero, nil, &ParseError{Schema: schema.Name, Raw: text, Err: errors.New("no JSON object in response")}
	}
	raw := []byte(body)

	// Validate strictly first.
	if err := schema.Validate(raw); err != nil {
		cleaned, changed, sErr := Sanitize(raw, schema.Numeric)
		if sErr != nil {
			return zero, raw, &ParseError{Schema: schema.Name, Raw: body, Err: sErr}
		}
		if vErr := schema.Validate(cleaned); vErr != nil {
			logger.Error("llm.parse.schema_validation_failed", "schema", schema.Name, "error", vErr)
			return zero, cleaned, &ParseError{Schema: schema.Name, Raw: body, Err: vErr}
		}
		logger.Warn("llm.parse.lenient_sanitize_applied", "schema", schema.Name, "changed", changed)
		raw = cleaned
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, raw, &ParseError{Schema: schema.Name, Raw: body, Err: err}
	}
	return out, raw, nil
}
