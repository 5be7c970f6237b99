package pgaudit

import (
	"database/sql"
	"encoding/json"
	"errors"
)

// affectedResult implements sql.Result for the synthesized result the
// interceptor returns when it had to run QueryContext in place of the
// caller's ExecContext to capture RETURNING rows.
type affectedResult struct{ n int64 }

func newAffectedRows(n int) sql.Result {
	return affectedResult{n: int64(n)}
}

func (r affectedResult) LastInsertId() (int64, error) {
	return 0, errors.New("pgaudit: LastInsertId not supported")
}

func (r affectedResult) RowsAffected() (int64, error) {
	return r.n, nil
}

// scanAll consumes every remaining row of rows into ordered maps,
// closing rows before returning. The column order is shared across
// every row and returned alongside so callers that need deterministic
// ordering (composite-key encoding, generated column lists) don't
// have to rediscover it per row.
func scanAll(rows *sql.Rows) ([]map[string]any, []string, error) {
	defer func() {
		_ = rows.Close()
	}()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		out = append(out, rowToMap(cols, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return out, cols, nil
}

// rowToMap converts a single row (columns + scanned values) to a map,
// decoding []byte columns as JSON where possible (jsonb columns come
// back as raw bytes from the driver) and falling back to a string.
func rowToMap(cols []string, vals []any) map[string]any {
	m := make(map[string]any, len(cols))
	for i, c := range cols {
		v := vals[i]
		if b, ok := v.([]byte); ok {
			var js any
			if json.Unmarshal(b, &js) == nil {
				m[c] = js
				continue
			}
			m[c] = string(b)
			continue
		}
		m[c] = v
	}
	return m
}
