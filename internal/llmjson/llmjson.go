// Package llmjson decodes JSON objects out of model replies that may wrap
// them in code fences, prose or a one-element array.
package llmjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoObject is returned when no JSON object can be recovered.
var ErrNoObject = errors.New("reply has no parseable JSON object")

// Decode extracts the first JSON object from text into v.
func Decode(text string, v any) error {
	raw, err := Extract(text)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Extract returns the raw bytes of the JSON object found in text.
func Extract(text string) ([]byte, error) {
	t := stripFence(strings.TrimSpace(text))

	if obj, ok := asObject([]byte(t)); ok {
		return obj, nil
	}

	start := strings.IndexByte(t, '{')
	end := strings.LastIndexByte(t, '}')
	if start >= 0 && end > start {
		if obj, ok := asObject([]byte(t[start : end+1])); ok {
			return obj, nil
		}
	}
	return nil, ErrNoObject
}

// stripFence unwraps ```json ... ``` and ``` ... ``` blocks.
func stripFence(t string) string {
	if !strings.HasPrefix(t, "```") {
		return t
	}
	parts := strings.Split(t, "```")
	if len(parts) < 2 {
		return t
	}
	body := strings.TrimSpace(parts[1])
	body = strings.TrimPrefix(body, "json")
	body = strings.TrimPrefix(body, "JSON")
	return strings.TrimSpace(body)
}

// asObject accepts an object or a non-empty array whose first element is one.
func asObject(b []byte) ([]byte, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || !json.Valid(b) {
		return nil, false
	}
	switch b[0] {
	case '{':
		return b, true
	case '[':
		var arr []json.RawMessage
		if json.Unmarshal(b, &arr) != nil || len(arr) == 0 {
			return nil, false
		}
		first := bytes.TrimSpace(arr[0])
		if len(first) > 0 && first[0] == '{' {
			return first, true
		}
	}
	return nil, false
}
