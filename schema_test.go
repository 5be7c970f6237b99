package pgaudit

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Order struct{ ID string }

type namedModel struct{}

func (namedModel) TableName() string { return "custom_name" }

func TestResolveTableNameString(t *testing.T) {
	t.Parallel()

	name, err := ResolveTableName("  orders  ")
	require.NoError(t, err)
	assert.Equal(t, "orders", name)

	_, err = ResolveTableName("   ")
	assert.Error(t, err)
}

func TestResolveTableNameStructFallsBackToPluralSnakeCase(t *testing.T) {
	t.Parallel()

	name, err := ResolveTableName(Order{})
	require.NoError(t, err)
	assert.Equal(t, "orders", name)

	name, err = ResolveTableName(&Order{})
	require.NoError(t, err)
	assert.Equal(t, "orders", name)
}

func TestResolveTableNameTableNamer(t *testing.T) {
	t.Parallel()

	name, err := ResolveTableName(namedModel{})
	require.NoError(t, err)
	assert.Equal(t, "custom_name", name)
}

func TestResolveTableNameNilPointer(t *testing.T) {
	t.Parallel()

	var o *Order
	_, err := ResolveTableName(o)
	assert.Error(t, err)
}

func TestResolveTableNameNil(t *testing.T) {
	t.Parallel()

	_, err := ResolveTableName(nil)
	assert.Error(t, err)
}

func TestToSnakeCase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "order", toSnakeCase("Order"))
	assert.Equal(t, "order_item", toSnakeCase("OrderItem"))
	assert.Equal(t, "http_client", toSnakeCase("HTTPClient"))
}

func TestEnsureAuditTableIssuesCreateTableDDL(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`(?s)CREATE TABLE IF NOT EXISTS "audit_logs".*"id" UUID PRIMARY KEY`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, EnsureAuditTable(context.Background(), db, Config{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureAuditTableHonorsColumnMap(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`(?s)"actor_id" TEXT`).WillReturnResult(sqlmock.NewResult(0, 0))

	cfg := Config{ColumnMap: map[string]string{"user_id": "actor_id"}}
	require.NoError(t, EnsureAuditTable(context.Background(), db, cfg))
	require.NoError(t, mock.ExpectationsWereMet())
}
