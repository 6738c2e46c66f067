package extractor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSONBlock unmarshals the JSON object embedded in a model response.
// Model output routinely wraps JSON in code fences or surrounding prose, so
// the decoder first strips fences and then falls back to the outermost brace
// pair.
func DecodeJSONBlock(raw string, v interface{}) error {
	candidate := strings.TrimSpace(raw)

	if fenced := extractFencedBlock(candidate); fenced != "" {
		candidate = fenced
	}

	if err := json.Unmarshal([]byte(candidate), v); err == nil {
		return nil
	}

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object found in model output")
	}
	if err := json.Unmarshal([]byte(candidate[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to unmarshal model output: %w", err)
	}
	return nil
}

// extractFencedBlock returns the contents of the first ``` fenced block, or
// an empty string when there is none.
func extractFencedBlock(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	rest := s[start+3:]
	// Skip an optional language tag on the fence line.
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "json" || firstLine == "" {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
