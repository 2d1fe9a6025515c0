package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// DecodeJSON parses an LLM response into v. Model output frequently arrives
// wrapped in markdown fences or with minor syntax damage, so decoding first
// strips fences and then falls back to jsonrepair before giving up.
func DecodeJSON(raw string, v any) error {
	cleaned := StripFences(raw)
	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return nil
	}

	fixed, repairErr := jsonrepair.JSONRepair(cleaned)
	if repairErr != nil {
		return fmt.Errorf("response is not valid JSON and repair failed: %w", repairErr)
	}
	if err := json.Unmarshal([]byte(fixed), v); err != nil {
		return fmt.Errorf("repaired response still not valid JSON: %w", err)
	}
	return nil
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		// Drop the language tag line (```json).
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
