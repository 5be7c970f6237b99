package pgaudit

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerRejectsNilDB(t *testing.T) {
	t.Parallel()

	_, err := NewLogger(nil, Config{})
	require.Error(t, err)
	assert.Equal(t, CodeConfiguration, SanitizeError(err).Code)
}

func TestNewLoggerRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = NewLogger(db, Config{Tables: []string{"orders["}})
	require.Error(t, err)
}

func TestLogInsertSkipsUnauditedTable(t *testing.T) {
	l, mock := newTestLogger(t, Config{Tables: []string{"orders"}})

	err := l.LogInsert(context.Background(), "users", []map[string]any{{"id": "1"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogInsertPersistsManualRow(t *testing.T) {
	l, mock := newTestLogger(t, Config{
		Tables:         []string{"orders"},
		WaitForWrite:   true,
		TableConfigMap: map[string]TableConfig{"orders": {PrimaryKey: "id"}},
	})

	mock.ExpectExec(`INSERT INTO "audit_logs"`).WillReturnResult(sqlmock.NewResult(1, 1))

	err := l.LogInsert(context.Background(), "orders", []map[string]any{{"id": "1", "status": "new"}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogInsertAttachesPerCallMetadataToRecord(t *testing.T) {
	l, mock := newTestLogger(t, Config{
		Tables:         []string{"orders"},
		WaitForWrite:   true,
		TableConfigMap: map[string]TableConfig{"orders": {PrimaryKey: "id"}},
	})

	mock.ExpectExec(`INSERT INTO "audit_logs"`).
		WithArgs(nil, nil, nil, "INSERT", "orders", "1", []byte(`{"id":"1"}`), []byte(`{"requestID":"r1"}`), nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := l.LogInsert(context.Background(), "orders", []map[string]any{{"id": "1"}}, map[string]any{"requestID": "r1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogUpdateDiffsChangedFields(t *testing.T) {
	l, mock := newTestLogger(t, Config{
		Tables:         []string{"orders"},
		WaitForWrite:   true,
		TableConfigMap: map[string]TableConfig{"orders": {PrimaryKey: "id"}},
	})

	mock.ExpectExec(`INSERT INTO "audit_logs"`).WillReturnResult(sqlmock.NewResult(1, 1))

	before := []map[string]any{{"id": "1", "status": "new"}}
	after := []map[string]any{{"id": "1", "status": "paid"}}
	err := l.LogUpdate(context.Background(), "orders", before, after)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogDeleteSkipsUnauditedTable(t *testing.T) {
	l, mock := newTestLogger(t, Config{Tables: []string{"orders"}})

	err := l.LogDelete(context.Background(), "sessions", []map[string]any{{"id": "1"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmitStrictModeWithWaitForWriteSurfacesCaptureError(t *testing.T) {
	l, mock := newTestLogger(t, Config{
		Tables:       []string{"orders"},
		StrictMode:   true,
		WaitForWrite: true,
		// no TableConfigMap entry for "orders" => capture error
	})

	err := l.LogInsert(context.Background(), "orders", []map[string]any{{"id": "1"}})
	require.Error(t, err)
	assert.Equal(t, CodeCapture, SanitizeError(err).Code)
	assert.NoError(t, mock.ExpectationsWereMet(), "a capture failure must never reach the writer")
}

func TestEmitLenientModeSwallowsCaptureError(t *testing.T) {
	var loggedErr error
	l, mock := newTestLogger(t, Config{
		Tables:       []string{"orders"},
		StrictMode:   false,
		WaitForWrite: true,
		LogError:     func(msg string, err error) { loggedErr = err },
	})

	err := l.LogInsert(context.Background(), "orders", []map[string]any{{"id": "1"}})
	require.NoError(t, err, "lenient mode never returns a capture failure to the caller")
	require.Error(t, loggedErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmitStrictModeWithoutWaitForWriteDoesNotSurfaceError(t *testing.T) {
	l, mock := newTestLogger(t, Config{
		Tables:       []string{"orders"},
		StrictMode:   true,
		WaitForWrite: false,
	})

	err := l.LogInsert(context.Background(), "orders", []map[string]any{{"id": "1"}})
	require.NoError(t, err, "without waitForWrite a strict-mode capture error is only logged")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShouldAuditDelegatesToConfig(t *testing.T) {
	l, _ := newTestLogger(t, Config{Tables: []string{"orders"}})
	assert.True(t, l.ShouldAudit("orders"))
	assert.False(t, l.ShouldAudit("users"))
}

func TestSetContextAndGetContextRoundTrip(t *testing.T) {
	l, _ := newTestLogger(t, Config{FlushInterval: time.Hour})

	ctx := l.SetContext(context.Background(), Context{UserID: "u1"})
	got, ok := l.GetContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", got.UserID)
}
