package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// ValidateCollection checks a collection name. Names are case-sensitive,
// non-empty, and must be usable as a directory name on the file backend,
// so path separators and NUL are rejected everywhere for uniform behaviour.
func ValidateCollection(collection string) error {
	if err := validateName(collection); err != nil {
		return fmt.Errorf("%w: invalid collection name %q", ErrData, collection)
	}
	return nil
}

// ValidateKey checks a document key. The same rules apply on every backend
// so BulkStore per-item failures do not depend on the configured adapter.
func ValidateKey(key string) error {
	if err := validateName(key); err != nil {
		return fmt.Errorf("%w: invalid key %q", ErrData, key)
	}
	return nil
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("empty or reserved name")
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("leading dot")
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("illegal character")
	}
	return nil
}

// CopyValue deep-copies a JSON-like value via a serialization round-trip.
// The copy is normalised: numbers become float64, nested maps become
// map[string]any. Callers cannot mutate adapter state through either the
// input or the returned copy.
func CopyValue(value map[string]any) (map[string]any, error) {
	if value == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: value is not serializable: %v", ErrData, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: value round-trip failed: %v", ErrData, err)
	}
	return out, nil
}

// Matches reports whether a stored value satisfies every filter: the field
// must be present and exactly equal after JSON normalisation. No partial or
// substring semantics, no nested-path filters.
func Matches(value map[string]any, filters map[string]any) bool {
	for field, want := range filters {
		got, ok := value[field]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(normalize(got), normalize(want)) {
			return false
		}
	}
	return true
}

// normalize maps a scalar or composite through JSON so that e.g. int 25 and
// float64 25 compare equal regardless of which adapter produced the value.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
