package pgaudit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mickamy/pgaudit/internal/buffer"
	"github.com/mickamy/pgaudit/internal/capture"
	"github.com/mickamy/pgaudit/internal/ident"
	"github.com/mickamy/pgaudit/internal/query"
)

// execQueryer is the surface both *sql.DB and *sql.Tx already satisfy;
// the interception logic below is written against it once and reused
// for both DB and Tx.
type execQueryer interface {
	ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error)
}

// DB wraps *sql.DB so every INSERT/UPDATE/DELETE executed through it
// is captured and queued to the Logger's batch writer. A statement run
// outside a transaction is enqueued as soon as it completes.
type DB struct {
	raw *sql.DB
	l   *Logger
}

func newDB(raw *sql.DB, l *Logger) *DB {
	return &DB{raw: raw, l: l}
}

// Raw returns the underlying *sql.DB for calls pgaudit does not need
// to intercept (SELECTs, driver configuration, and so on).
func (d *DB) Raw() *sql.DB { return d.raw }

// ExecContext is the interception point: it classifies q, captures the
// affected row(s), and enqueues their audit logs before returning.
func (d *DB) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	res, e, err := interceptExec(ctx, d.raw, d.l, q, args)
	if err != nil {
		return nil, err
	}
	if e != nil {
		if cerr := d.l.emit(ctx, []entry{*e}); cerr != nil {
			return res, cerr
		}
	}
	return res, nil
}

func (d *DB) QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return d.raw.QueryContext(ctx, q, args...)
}

func (d *DB) QueryRowContext(ctx context.Context, q string, args ...any) *sql.Row {
	return d.raw.QueryRowContext(ctx, q, args...)
}

// BeginTx starts a wrapped transaction. Captured mutations are staged
// until Commit, so a rolled-back transaction is never audited.
func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	raw, err := d.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{raw: raw, l: d.l, buf: buffer.NewBuffer[entry](), ctx: ctx}, nil
}

// Tx wraps *sql.Tx. Entries captured during the transaction are staged
// in buf and only turned into audit log writes once Commit succeeds;
// Rollback discards them.
type Tx struct {
	raw *sql.Tx
	l   *Logger
	buf *buffer.Buffer[entry]
	ctx context.Context
}

func (t *Tx) Raw() *sql.Tx { return t.raw }

func (t *Tx) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	res, e, err := interceptExec(ctx, t.raw, t.l, q, args)
	if err != nil {
		return nil, err
	}
	if e != nil {
		t.buf.Add(*e)
	}
	return res, nil
}

func (t *Tx) QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return t.raw.QueryContext(ctx, q, args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, q string, args ...any) *sql.Row {
	return t.raw.QueryRowContext(ctx, q, args...)
}

// Commit flushes the buffered entries into the Logger's writer only
// after the underlying transaction has actually committed, then
// returns to the caller — so a rolled-back mutation is never audited.
func (t *Tx) Commit() error {
	entries := t.buf.Drain()
	if err := t.raw.Commit(); err != nil {
		return err
	}
	if len(entries) == 0 || t.l == nil {
		return nil
	}
	return t.l.emit(t.ctx, entries)
}

// Rollback discards any buffered entries before rolling back.
func (t *Tx) Rollback() error {
	t.buf.Reset()
	return t.raw.Rollback()
}

// interceptExec implements automatic row capture over any execQueryer
// (a bare *sql.DB or an open *sql.Tx). It returns the
// entry to stage/enqueue, or a nil entry for statements that are not a
// recognized, audited DML.
func interceptExec(ctx context.Context, raw execQueryer, l *Logger, q string, args []any) (sql.Result, *entry, error) {
	if l == nil || isSkipped(ctx) {
		return passthroughExec(ctx, raw, q, args)
	}

	dml, ok := query.ParseDML(q)
	if !ok || !l.cfg.shouldAudit(dml.Table) {
		return passthroughExec(ctx, raw, q, args)
	}

	var beforeRows []map[string]any
	var beforeOrder []string
	if dml.Op == "UPDATE" && l.cfg.UpdateValuesMode == UpdateValuesChanged {
		if where, ok := query.WhereClause(q); ok {
			sel := fmt.Sprintf("SELECT * FROM %s WHERE %s", dml.Table, where)
			if rows, err := raw.QueryContext(ctx, sel, args...); err != nil {
				l.cfg.LogError("pgaudit: before-state select failed", err)
			} else if maps, cols, err := scanAll(rows); err != nil {
				l.cfg.LogError("pgaudit: before-state scan failed", err)
			} else {
				beforeRows, beforeOrder = maps, cols
			}
		}
	}

	execQuery := q
	if !dml.HasReturning {
		if appended, ok := query.AppendReturningAll(q); ok {
			execQuery = appended
		}
	}

	rows, err := raw.QueryContext(ctx, execQuery, args...)
	if err != nil {
		return nil, nil, err
	}
	afterRows, afterOrder, err := scanAll(rows)
	if err != nil {
		return nil, nil, fmt.Errorf("pgaudit: scan returning rows: %w", err)
	}

	// When the caller's own RETURNING clause does not cover every
	// audited/PK column, a second,
	// best-effort SELECT by primary key fills in the gaps. This is not
	// atomic with the statement that just ran; documented as a known
	// limitation rather than solved in general (a caller whose own
	// RETURNING omits the primary key itself cannot be backfilled this
	// way, and simply surfaces as a capture error downstream).
	if dml.HasReturning {
		if cols, ok := query.ReturningColumns(q); ok {
			if missing := missingColumns(cols, l.requiredColumns(dml.Table)); len(missing) > 0 {
				l.fillMissingColumns(ctx, raw, dml.Table, afterRows, missing)
			}
		}
	}

	res := newAffectedRows(len(afterRows))

	e := &entry{table: dml.Table, op: dml.Op}
	switch dml.Op {
	case "DELETE":
		e.before = toCaptureRows(afterRows, afterOrder)
	case "INSERT":
		e.after = toCaptureRows(afterRows, afterOrder)
	case "UPDATE":
		if len(beforeRows) > 0 {
			e.before = toCaptureRows(beforeRows, beforeOrder)
		}
		e.after = toCaptureRows(afterRows, afterOrder)
	default:
		return res, nil, nil
	}
	return res, e, nil
}

func passthroughExec(ctx context.Context, raw execQueryer, q string, args []any) (sql.Result, *entry, error) {
	res, err := raw.ExecContext(ctx, q, args...)
	return res, nil, err
}

func toCaptureRows(maps []map[string]any, order []string) []capture.Row {
	out := make([]capture.Row, len(maps))
	for i, m := range maps {
		out[i] = capture.Row{Values: m, Order: order}
	}
	return out
}

// requiredColumns reports the columns a RETURNING projection must
// cover for table to be auditable without a backfill pass: its
// configured primary key plus its configured Fields, minus any
// excluded column.
func (l *Logger) requiredColumns(table string) []string {
	tc, ok := l.cfg.tableConfigFor(table)
	if !ok {
		return nil
	}
	required := append([]string(nil), tc.Keys()...)
	exclude := l.cfg.excludeSet()
	for _, f := range l.cfg.Fields[table] {
		if _, skip := exclude[f]; !skip {
			required = append(required, f)
		}
	}
	return required
}

// missingColumns reports which of required are absent from have,
// comparing by unqualified column name (have may contain table- or
// alias-qualified references like "o.id").
func missingColumns(have, required []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[baseColumn(c)] = struct{}{}
	}
	var missing []string
	for _, c := range required {
		if _, ok := set[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

func baseColumn(c string) string {
	if i := strings.LastIndex(c, "."); i >= 0 {
		return c[i+1:]
	}
	return c
}

// fillMissingColumns runs a best-effort SELECT keyed by table's
// configured primary key to backfill columns the caller's own
// RETURNING clause omitted, mutating rows in place. A row whose
// captured values don't already include every PK column is left
// alone — its gaps surface as an ordinary capture error instead.
func (l *Logger) fillMissingColumns(ctx context.Context, raw execQueryer, table string, rows []map[string]any, missing []string) {
	tc, ok := l.cfg.tableConfigFor(table)
	if !ok {
		return
	}
	keys := tc.Keys()
	if len(keys) == 0 {
		return
	}

	for _, row := range rows {
		args := make([]any, 0, len(keys))
		where := make([]string, 0, len(keys))
		complete := true
		for i, k := range keys {
			v, ok := row[k]
			if !ok {
				complete = false
				break
			}
			where = append(where, fmt.Sprintf("%s = $%d", ident.Quote(k), i+1))
			args = append(args, v)
		}
		if !complete {
			continue
		}

		cols := append(append([]string(nil), keys...), missing...)
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = ident.Quote(c)
		}
		sel := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(quoted, ", "), table, strings.Join(where, " AND "))

		fetched, err := raw.QueryContext(ctx, sel, args...)
		if err != nil {
			l.cfg.LogError("pgaudit: backfill returning columns failed", err)
			continue
		}
		filled, fcols, err := scanAll(fetched)
		if err != nil {
			l.cfg.LogError("pgaudit: backfill returning columns failed", err)
			continue
		}
		if len(filled) == 0 {
			continue
		}
		for _, c := range fcols {
			row[c] = filled[0][c]
		}
	}
}
