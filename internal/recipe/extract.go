package recipe

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrMalformedOutput is returned when no JSON object can be recovered from a
// model response. It is recoverable: stages translate it into a pipeline
// warning instead of surfacing it to the caller.
var ErrMalformedOutput = errors.New("no JSON object in model output")

// ErrSchemaMismatch is returned when recovered JSON lacks required fields.
var ErrSchemaMismatch = errors.New("model output does not match expected schema")

// ExtractJSON pulls the first well-formed JSON object out of raw model text.
// Models routinely wrap their JSON in markdown fences or surround it with
// prose, so the text is cleaned first and then scanned brace by brace.
func ExtractJSON(raw string) (json.RawMessage, error) {
	cleaned := stripFences(raw)

	// Try a decode from each opening brace in turn. json.Decoder stops at
	// the end of the first complete value, so trailing prose is harmless.
	for i := 0; i < len(cleaned); i++ {
		if cleaned[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(cleaned[i:]))
		var obj json.RawMessage
		if err := dec.Decode(&obj); err == nil {
			return obj, nil
		}
	}

	return nil, ErrMalformedOutput
}

// stripFences removes markdown code fence markers (``` and ```json) that
// models add despite being told not to.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
