package capture_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mickamy/pgaudit/internal/capture"
)

func TestChangedValues(t *testing.T) {
	t.Parallel()

	t.Run("scalar change is reported", func(t *testing.T) {
		t.Parallel()
		changed := capture.ChangedValues(map[string]any{"status": "new"}, map[string]any{"status": "paid"})
		assert.Equal(t, map[string]any{"status": "paid"}, changed)
	})

	t.Run("unchanged scalar is omitted", func(t *testing.T) {
		t.Parallel()
		changed := capture.ChangedValues(map[string]any{"status": "paid"}, map[string]any{"status": "paid"})
		assert.Empty(t, changed)
	})

	t.Run("key only present in after counts as changed", func(t *testing.T) {
		t.Parallel()
		changed := capture.ChangedValues(map[string]any{}, map[string]any{"note": "added"})
		assert.Equal(t, map[string]any{"note": "added"}, changed)
	})

	t.Run("equal big.Int values by numeric equality, not representation", func(t *testing.T) {
		t.Parallel()
		before := map[string]any{"amount": big.NewInt(1500)}
		after := map[string]any{"amount": *big.NewInt(1500)}
		changed := capture.ChangedValues(before, after)
		assert.Empty(t, changed)
	})

	t.Run("different big.Int values are changed", func(t *testing.T) {
		t.Parallel()
		before := map[string]any{"amount": big.NewInt(1500)}
		after := map[string]any{"amount": big.NewInt(1600)}
		changed := capture.ChangedValues(before, after)
		assert.Equal(t, map[string]any{"amount": big.NewInt(1600)}, changed)
	})

	t.Run("equal time.Time values by instant, not representation", func(t *testing.T) {
		t.Parallel()
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			t.Skip("tzdata unavailable")
		}
		instant := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
		before := map[string]any{"created_at": instant}
		after := map[string]any{"created_at": instant.In(loc)}
		changed := capture.ChangedValues(before, after)
		assert.Empty(t, changed)
	})

	t.Run("nested structures compare by deep equality", func(t *testing.T) {
		t.Parallel()
		before := map[string]any{"meta": map[string]any{"a": 1}}
		after := map[string]any{"meta": map[string]any{"a": 1}}
		changed := capture.ChangedValues(before, after)
		assert.Empty(t, changed)

		after2 := map[string]any{"meta": map[string]any{"a": 2}}
		changed2 := capture.ChangedValues(before, after2)
		assert.Equal(t, map[string]any{"meta": map[string]any{"a": 2}}, changed2)
	})
}
