package capture_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/pgaudit/internal/capture"
)

type pkSpec []string

func (s pkSpec) Keys() []string { return s }

func TestExtractPrimaryKey(t *testing.T) {
	t.Parallel()

	t.Run("single column", func(t *testing.T) {
		t.Parallel()
		id, err := capture.ExtractPrimaryKey(map[string]any{"id": "abc-123"}, "orders", pkSpec{"id"})
		require.NoError(t, err)
		assert.Equal(t, "abc-123", id)
	})

	t.Run("composite columns encode an ordered object", func(t *testing.T) {
		t.Parallel()
		row := map[string]any{"tenant_id": "t1", "order_id": "o1"}
		id, err := capture.ExtractPrimaryKey(row, "order_lines", pkSpec{"tenant_id", "order_id"})
		require.NoError(t, err)
		assert.Equal(t, `{"tenant_id":"t1","order_id":"o1"}`, id)
	})

	t.Run("missing primary key spec is a ConfigurationError-shaped failure", func(t *testing.T) {
		t.Parallel()
		_, err := capture.ExtractPrimaryKey(map[string]any{"id": "x"}, "orders", pkSpec(nil))
		require.Error(t, err)
		var missingPK *capture.MissingPrimaryKeyError
		require.ErrorAs(t, err, &missingPK)
		assert.Equal(t, "orders", missingPK.Table)
	})

	t.Run("row missing a configured column is a CaptureError-shaped failure", func(t *testing.T) {
		t.Parallel()
		_, err := capture.ExtractPrimaryKey(map[string]any{"other": 1}, "orders", pkSpec{"id"})
		require.Error(t, err)
		var missingField *capture.MissingFieldError
		require.ErrorAs(t, err, &missingField)
		assert.Equal(t, "id", missingField.Field)
	})

	t.Run("nil value for the key column is treated as missing", func(t *testing.T) {
		t.Parallel()
		_, err := capture.ExtractPrimaryKey(map[string]any{"id": nil}, "orders", pkSpec{"id"})
		require.Error(t, err)
	})
}
