package capture

import (
	"math/big"
	"reflect"
	"time"
)

// ChangedValues returns the mapping of keys present in after whose
// value differs from before by structural equality (scalars by
// value, dates by timestamp, nested structures by deep equality, big
// integers by numeric equality). A key present only in after counts
// as changed. Returns an empty, non-nil mapping if nothing changed.
func ChangedValues(before, after map[string]any) map[string]any {
	changed := make(map[string]any)
	for k, av := range after {
		bv, existed := before[k]
		if !existed || !structurallyEqual(bv, av) {
			changed[k] = av
		}
	}
	return changed
}

func structurallyEqual(a, b any) bool {
	if ai, aok := asBigInt(a); aok {
		if bi, bok := asBigInt(b); bok {
			return ai.Cmp(bi) == 0
		}
	}
	if at, aok := asTime(a); aok {
		if bt, bok := asTime(b); bok {
			return at.Equal(bt)
		}
	}
	return reflect.DeepEqual(a, b)
}

func asBigInt(v any) (*big.Int, bool) {
	switch t := v.(type) {
	case *big.Int:
		if t == nil {
			return nil, false
		}
		return t, true
	case big.Int:
		return &t, true
	default:
		return nil, false
	}
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	default:
		return time.Time{}, false
	}
}
