package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSON slices text from the first '{' or '[' to the last '}' or ']'.
// Prose and markdown fences around the payload are dropped.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	start := -1
	for _, open := range []string{"{", "["} {
		if i := strings.Index(text, open); i >= 0 && (start < 0 || i < start) {
			start = i
		}
	}

	end := strings.LastIndex(text, "}")
	if i := strings.LastIndex(text, "]"); i > end {
		end = i
	}

	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

// RecoverArray decodes a JSON array element by element and returns the
// elements that parsed before the first error. It is meant for truncated
// or partly malformed bare-array output.
func RecoverArray(text string) []json.RawMessage {
	start := strings.Index(text, "[")
	if start < 0 {
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('[') {
		return nil
	}

	var items []json.RawMessage
	for dec.More() {
		var item json.RawMessage
		if err := dec.Decode(&item); err != nil {
			break
		}
		items = append(items, item)
	}

	return items
}

// decodePayload returns the validated JSON slice of content
func decodePayload(content string, arrayRecovery bool) (json.RawMessage, bool, error) {
	candidate := ExtractJSON(content)
	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), false, nil
	}

	if arrayRecovery {
		if items := RecoverArray(content); len(items) > 0 {
			recovered, err := json.Marshal(items)
			if err == nil {
				return recovered, true, nil
			}
		}
	}

	return nil, false, ErrInvalidJSON
}
