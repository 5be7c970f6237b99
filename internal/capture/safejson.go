// Package capture implements the primary-key extraction, field
// filtering/diffing, and INSERT/UPDATE/DELETE transforms of the audit
// capture pipeline.
package capture

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"
	"time"
)

// SafeMarshal encodes v the way Postgres-facing audit values need to
// be encoded: big.Int as a decimal string, time.Time as RFC 3339, and
// any already-visited pointer/map/slice as the literal "[Circular]"
// instead of recursing forever. It never returns an error for cyclic
// input; json.Marshal errors (e.g. an unsupported type such as a
// channel) still propagate so the caller can fall back.
func SafeMarshal(v any) ([]byte, error) {
	return json.Marshal(safeValue(v, map[any]bool{}))
}

// safeValue rewrites v into a structure json.Marshal can always
// render, tracking seen containers by identity to break cycles.
func safeValue(v any, seen map[any]bool) any {
	switch t := v.(type) {
	case nil:
		return nil
	case *big.Int:
		if t == nil {
			return nil
		}
		return t.String()
	case big.Int:
		return t.String()
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		if t != nil {
			id := mapIdentity(t)
			if seen[id] {
				return "[Circular]"
			}
			seen[id] = true
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = safeValue(val, seen)
		}
		return out
	case []any:
		if len(t) > 0 {
			id := sliceIdentity(t)
			if seen[id] {
				return "[Circular]"
			}
			seen[id] = true
		}
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = safeValue(val, seen)
		}
		return out
	default:
		return v
	}
}

// mapIdentity/sliceIdentity resolve the container's backing-data
// pointer via reflection, since map[string]any/[]any are themselves
// unhashable and cannot be used as map[any]bool keys directly; the
// pointer is comparable and uniquely identifies "this exact
// container" for cycle detection.
func mapIdentity(m map[string]any) any {
	return reflect.ValueOf(m).Pointer()
}

func sliceIdentity(s []any) any {
	return reflect.ValueOf(s).Pointer()
}

// OrderedKeySet serializes an ordered key->value mapping the way the
// composite primary-key encoder needs: a JSON object whose key order
// matches keys, using SafeMarshal's scalar handling for each value.
func OrderedKeySet(keys []string, row map[string]any) (string, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		vb, err := SafeMarshal(row[k])
		if err != nil {
			return "", err
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String(), nil
}

// FallbackCompositeKey builds the stable-but-lossy fallback identifier
// used when OrderedKeySet fails: composite_key_<sorted keys>_<count>.
func FallbackCompositeKey(keys []string) string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return fmt.Sprintf("composite_key_%s_%d", strings.Join(sorted, "_"), len(keys))
}
