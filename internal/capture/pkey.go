package capture

import (
	"fmt"
)

// PrimaryKeySpec is the minimal view of a table's configured primary
// key the extractor needs.
type PrimaryKeySpec interface {
	// Keys returns the ordered primary-key column names, or nil if
	// the table has none configured.
	Keys() []string
}

// MissingPrimaryKeyError and MissingFieldError distinguish the two
// ConfigurationError/CaptureError failure sites this extractor can
// hit, so callers (and the interceptor's strict/lenient policy) do
// not have to pattern-match error strings.
type MissingPrimaryKeyError struct{ Table string }

func (e *MissingPrimaryKeyError) Error() string {
	return fmt.Sprintf("primaryKey required for table %s", e.Table)
}

type MissingFieldError struct {
	Table string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("record missing configured primaryKey field(s) for table %s", e.Table)
}

// ExtractPrimaryKey deterministically stringifies the configured
// PK(s) from row. A single key stringifies its raw value; a composite
// key serializes an ordered {key: value, ...} object via SafeMarshal,
// falling back to FallbackCompositeKey on any encoding failure.
func ExtractPrimaryKey(row map[string]any, table string, spec PrimaryKeySpec) (string, error) {
	keys := spec.Keys()
	if len(keys) == 0 {
		return "", &MissingPrimaryKeyError{Table: table}
	}
	for _, k := range keys {
		v, ok := row[k]
		if !ok || v == nil {
			return "", &MissingFieldError{Table: table, Field: k}
		}
	}
	if len(keys) == 1 {
		return stringify(row[keys[0]]), nil
	}
	if encoded, err := OrderedKeySet(keys, row); err == nil {
		return encoded, nil
	}
	return FallbackCompositeKey(keys), nil
}

// stringify renders a single scalar primary-key value as a string the
// same way String(row[key]) would in the source system: fmt's default
// formatting, which already does the right thing for integers,
// strings, and the formatted types safeValue normalizes.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(safeValue(v, map[any]bool{}))
	}
}
