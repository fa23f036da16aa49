package forms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Decode parses a stored payload. Empty input decodes to an empty map.
func Decode(raw []byte) (map[string]any, error) {
	data := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode form data: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// Encode serialises a payload for storage.
func Encode(data map[string]any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode form data: %w", err)
	}
	return raw, nil
}

// String returns the trimmed string value of key, or "".
func String(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return strings.TrimSpace(s)
}

// Number returns the lenient numeric value of key, or 0.
func Number(data map[string]any, key string) float64 {
	f, _ := ParseNumber(data[key])
	return f
}
