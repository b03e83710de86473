package shadow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ValueByKey extracts a value from a JSON document.
//
// path lists object keys separated by '"'; empty segments are skipped, so
// `state"desired"temp` and `"state""desired""temp"` are equivalent. String
// values are returned without quotes; any other value is returned as
// compact JSON. Invalid JSON, a missing key, a null value or a path through
// a non-object return ErrNotFound.
func ValueByKey(document, path string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(document))
	dec.UseNumber()

	var current any
	if err := dec.Decode(&current); err != nil {
		return "", fmt.Errorf("%w: invalid JSON: %w", ErrNotFound, err)
	}

	for _, segment := range strings.Split(path, `"`) {
		if segment == "" {
			continue
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return "", fmt.Errorf("%w: %q is not inside an object", ErrNotFound, segment)
		}
		current = obj[segment]
		if current == nil {
			return "", fmt.Errorf("%w: key %q", ErrNotFound, segment)
		}
	}

	switch v := current.(type) {
	case nil:
		return "", fmt.Errorf("%w: null document", ErrNotFound)
	case string:
		return v, nil
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return "", fmt.Errorf("encoding value: %w", err)
		}
		return strings.TrimSuffix(buf.String(), "\n"), nil
	}
}
