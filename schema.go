package pgaudit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"github.com/mickamy/pgaudit/internal/ident"
)

// TableNamer lets a caller's model type supply its own table name to
// ResolveTableName, the same convention most Go ORMs use.
type TableNamer interface {
	TableName() string
}

var tableNamerType = reflect.TypeOf((*TableNamer)(nil)).Elem()

// ResolveTableName derives the table name LogInsert/LogUpdate/LogDelete
// expect from target: a string passes through trimmed, a TableNamer is
// asked directly, and any other struct (or pointer to one) falls back
// to the snake_cased, pluralized form of its type name — convenient
// when the caller already has a model type for the row being audited
// and would rather not hand-write the table string.
func ResolveTableName(target any) (string, error) {
	switch v := target.(type) {
	case nil:
		return "", errors.New("pgaudit: nil table target")
	case string:
		name := strings.TrimSpace(v)
		if name == "" {
			return "", errors.New("pgaudit: empty table name")
		}
		return name, nil
	}

	val := reflect.ValueOf(target)
	typ := val.Type()

	if typ.Kind() == reflect.Pointer {
		if val.IsNil() {
			return "", fmt.Errorf("pgaudit: nil pointer target %T", target)
		}
		if namer, ok := val.Interface().(TableNamer); ok {
			return namedTable(namer, target)
		}
		typ = typ.Elem()
		val = val.Elem()
	}

	if namer, ok := val.Interface().(TableNamer); ok {
		return namedTable(namer, target)
	}

	if typ.Kind() == reflect.Struct {
		if reflect.PointerTo(typ).Implements(tableNamerType) {
			inst := reflect.New(typ)
			if namer, ok := inst.Interface().(TableNamer); ok {
				return namedTable(namer, target)
			}
		}
		if typ.Name() == "" {
			return "", fmt.Errorf("pgaudit: cannot derive table name for anonymous struct of type %v", typ)
		}
		return inflection.Plural(toSnakeCase(typ.Name())), nil
	}

	return "", fmt.Errorf("pgaudit: unsupported table target %T", target)
}

func namedTable(namer TableNamer, target any) (string, error) {
	name := strings.TrimSpace(namer.TableName())
	if name == "" {
		return "", fmt.Errorf("pgaudit: TableName returned empty string. %T", target)
	}
	return name, nil
}

func toSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// auditColumns is the fixed audit-row column set, in DDL order; f
// resolves each field's stored name through cfg.ColumnMap.
func auditColumns(cfg Config) []string {
	fields := []string{
		"id", "user_id", "ip_address", "user_agent", "action", "table_name",
		"record_id", "values", "metadata", "transaction_id", "created_at", "deleted_at",
	}
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = cfg.columnName(f, f)
	}
	return cols
}

// EnsureAuditTable creates cfg.AuditTable (default "audit_logs") with
// its fixed column set if it does not already exist. It is an explicit
// opt-in helper, not part of NewLogger's hot path.
func EnsureAuditTable(ctx context.Context, db *sql.DB, cfg Config) error {
	if cfg.AuditTable == "" {
		cfg.AuditTable = "audit_logs"
	}
	cols := auditColumns(cfg)
	tableIdent := ident.Quote(cfg.AuditTable)

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    %s UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    %s TEXT,
    %s TEXT,
    %s TEXT,
    %s TEXT NOT NULL,
    %s TEXT NOT NULL,
    %s TEXT NOT NULL,
    %s JSONB,
    %s JSONB,
    %s TEXT,
    %s TIMESTAMPTZ NOT NULL DEFAULT now(),
    %s TIMESTAMPTZ
);`, tableIdent,
		ident.Quote(cols[0]), ident.Quote(cols[1]), ident.Quote(cols[2]), ident.Quote(cols[3]),
		ident.Quote(cols[4]), ident.Quote(cols[5]), ident.Quote(cols[6]), ident.Quote(cols[7]),
		ident.Quote(cols[8]), ident.Quote(cols[9]), ident.Quote(cols[10]), ident.Quote(cols[11]))

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("pgaudit: create audit table %s: %w", cfg.AuditTable, err)
	}
	return nil
}
