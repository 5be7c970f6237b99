package capture_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/pgaudit/internal/capture"
)

func TestSafeMarshalScalars(t *testing.T) {
	t.Parallel()

	b, err := capture.SafeMarshal(big.NewInt(9001))
	require.NoError(t, err)
	assert.JSONEq(t, `"9001"`, string(b))

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b, err = capture.SafeMarshal(ts)
	require.NoError(t, err)
	assert.JSONEq(t, `"2026-01-02T03:04:05Z"`, string(b))

	b, err = capture.SafeMarshal(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

func TestSafeMarshalNilPointers(t *testing.T) {
	t.Parallel()

	var bi *big.Int
	b, err := capture.SafeMarshal(bi)
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	var tm *time.Time
	b, err = capture.SafeMarshal(tm)
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

func TestSafeMarshalBreaksMapCycle(t *testing.T) {
	t.Parallel()

	m := map[string]any{"name": "self"}
	m["self"] = m

	b, err := capture.SafeMarshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"[Circular]"`)
	assert.Contains(t, string(b), `"name":"self"`)
}

func TestSafeMarshalBreaksSliceCycle(t *testing.T) {
	t.Parallel()

	s := make([]any, 2)
	s[0] = "leaf"
	s[1] = s

	b, err := capture.SafeMarshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"[Circular]"`)
	assert.Contains(t, string(b), `"leaf"`)
}

func TestSafeMarshalNestedStructurePreserved(t *testing.T) {
	t.Parallel()

	v := map[string]any{
		"amount":  big.NewInt(500),
		"nested":  map[string]any{"ts": time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
		"history": []any{"a", "b"},
	}
	b, err := capture.SafeMarshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"500","nested":{"ts":"2026-06-01T00:00:00Z"},"history":["a","b"]}`, string(b))
}

func TestOrderedKeySet(t *testing.T) {
	t.Parallel()

	row := map[string]any{"tenant_id": "t1", "order_id": "o1"}
	out, err := capture.OrderedKeySet([]string{"tenant_id", "order_id"}, row)
	require.NoError(t, err)
	assert.Equal(t, `{"tenant_id":"t1","order_id":"o1"}`, out)
}

func TestOrderedKeySetOrderFollowsKeysNotMapIteration(t *testing.T) {
	t.Parallel()

	row := map[string]any{"order_id": "o1", "tenant_id": "t1"}
	out, err := capture.OrderedKeySet([]string{"order_id", "tenant_id"}, row)
	require.NoError(t, err)
	assert.Equal(t, `{"order_id":"o1","tenant_id":"t1"}`, out)
}

func TestFallbackCompositeKey(t *testing.T) {
	t.Parallel()

	got := capture.FallbackCompositeKey([]string{"order_id", "tenant_id"})
	assert.Equal(t, "composite_key_order_id_tenant_id_2", got)

	gotReordered := capture.FallbackCompositeKey([]string{"tenant_id", "order_id"})
	assert.Equal(t, got, gotReordered, "fallback key is order-independent")
}
