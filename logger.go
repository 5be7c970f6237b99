// Package pgaudit wraps a *sql.DB/*sql.Tx pair so that every
// INSERT/UPDATE/DELETE executed through the wrapped handle is
// captured and persisted to a Postgres audit table.
package pgaudit

import (
	"context"
	"database/sql"

	"github.com/mickamy/pgaudit/internal/capture"
)

// Logger is the facade callers construct once: it owns the batch
// writer and hands out the wrapped DB handle every mutation is meant
// to go through.
type Logger struct {
	cfg    Config
	writer *Writer
	db     *DB
}

// NewLogger normalizes cfg (returning a ConfigurationError
// synchronously on an invalid table pattern) and wires up a Logger
// around db.
func NewLogger(db *sql.DB, cfg Config) (*Logger, error) {
	if db == nil {
		return nil, configurationError("", "db must not be nil")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	l := &Logger{cfg: cfg}
	l.writer = newWriter(db, &l.cfg)
	l.db = newDB(db, l)
	return l, nil
}

// DB returns the wrapped handle every audited mutation must go
// through.
func (l *Logger) DB() *DB { return l.db }

// SetContext binds the ambient audit Context for the call tree rooted
// at the returned context.Context.
func (l *Logger) SetContext(ctx context.Context, partial Context) context.Context {
	return WithContext(ctx, partial)
}

// WithContext binds c for the synchronous and asynchronous
// continuation of fn.
func (l *Logger) WithContext(ctx context.Context, c Context, fn func(context.Context) error) error {
	return RunWithContext(ctx, c, fn)
}

// GetContext returns the effective audit Context bound to ctx, if any.
func (l *Logger) GetContext(ctx context.Context) (Context, bool) {
	return GetContext(ctx)
}

// ShouldAudit reports whether table is in scope under the Logger's
// configured Tables.
func (l *Logger) ShouldAudit(table string) bool {
	return l.cfg.shouldAudit(table)
}

// Shutdown stops the batch writer, flushing whatever remains queued.
func (l *Logger) Shutdown(ctx context.Context) error {
	return l.writer.Shutdown(ctx)
}

// LogInsert manually records an INSERT for rows that were not
// captured automatically (e.g. a bulk COPY the interceptor never
// sees). An optional metadata map is attached to every resulting
// record, the way a caller-supplied request context (auth method,
// response status) is attached to a manually-built audit entry.
func (l *Logger) LogInsert(ctx context.Context, table string, rows []map[string]any, metadata ...map[string]any) error {
	return l.logManual(ctx, "INSERT", table, nil, rows, firstMetadata(metadata))
}

// LogUpdate manually records an UPDATE given the before/after row
// sets, diffed or snapshotted per cfg.UpdateValuesMode exactly as the
// interceptor's own UPDATE capture does.
func (l *Logger) LogUpdate(ctx context.Context, table string, before, after []map[string]any, metadata ...map[string]any) error {
	return l.logManual(ctx, "UPDATE", table, before, after, firstMetadata(metadata))
}

// LogDelete manually records a DELETE for rows that were not captured
// automatically.
func (l *Logger) LogDelete(ctx context.Context, table string, rows []map[string]any, metadata ...map[string]any) error {
	return l.logManual(ctx, "DELETE", table, rows, nil, firstMetadata(metadata))
}

func firstMetadata(metadata []map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	return metadata[0]
}

func (l *Logger) logManual(ctx context.Context, op, table string, before, after []map[string]any, metadata map[string]any) error {
	if !l.cfg.shouldAudit(table) {
		return nil
	}
	e := entry{table: table, op: op, before: rowsToCaptureRows(before), after: rowsToCaptureRows(after), metadata: metadata}
	return l.emit(ctx, []entry{e})
}

func rowsToCaptureRows(rows []map[string]any) []capture.Row {
	if rows == nil {
		return nil
	}
	out := make([]capture.Row, len(rows))
	for i, r := range rows {
		order := make([]string, 0, len(r))
		for k := range r {
			order = append(order, k)
		}
		out[i] = capture.Row{Values: r, Order: order}
	}
	return out
}

// emit turns entries into Records via the capture pipeline (primary-key
// extraction, field filtering, the INSERT/UPDATE/DELETE transform) and
// enqueues them on the writer. A lenient-mode capture failure is always
// just logged; a strict-mode one is additionally returned to the caller,
// but only when waitForWrite is set. Without waitForWrite a strict-mode
// failure is logged and nil is returned, so the caller's mutation
// succeeds regardless of what happens to its audit record.
func (l *Logger) emit(ctx context.Context, entries []entry) error {
	scope, _ := GetContext(ctx)

	var firstErr error
	for _, e := range entries {
		logs, err := transformEntry(&l.cfg, e)
		if err != nil {
			l.cfg.LogError("pgaudit: capture failed", err)
			if l.cfg.StrictMode && l.cfg.WaitForWrite && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(logs) == 0 {
			continue
		}
		if err := l.writer.QueueAuditLogs(toRecords(logs, e.metadata), &scope); err != nil {
			if l.cfg.StrictMode && l.cfg.WaitForWrite && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// transformEntry runs the capture pipeline (primary-key extraction,
// field filtering, INSERT/UPDATE/DELETE transform) over a single
// staged entry.
func transformEntry(cfg *Config, e entry) ([]capture.Log, error) {
	tc, ok := cfg.tableConfigFor(e.table)
	if !ok {
		return nil, captureError(e.table, (&capture.MissingPrimaryKeyError{Table: e.table}).Error())
	}
	filterSpec := capture.FilterSpec{Fields: cfg.Fields[e.table], Exclude: cfg.excludeSet()}
	tcfg := capture.TransformConfig{
		Table:      e.table,
		PrimaryKey: tc,
		Filter:     filterSpec,
		Full:       cfg.UpdateValuesMode == UpdateValuesFull,
	}

	var logs []capture.Log
	var err error
	switch e.op {
	case "INSERT":
		logs, err = capture.InsertLogs(tcfg, e.after)
	case "DELETE":
		logs, err = capture.DeleteLogs(tcfg, e.before)
	case "UPDATE":
		logs, err = capture.UpdateLogs(tcfg, e.before, e.after)
	default:
		return nil, captureError(e.table, "unsupported operation "+e.op)
	}
	if err != nil {
		return nil, captureError(e.table, err.Error())
	}
	return logs, nil
}

// toRecords converts the capture pipeline's output into Records,
// attaching metadata (the staged entry's own, if any) to every one of
// them; the writer merges it with the ambient/scope layers at persist
// time via mergeMetadata.
func toRecords(logs []capture.Log, metadata map[string]any) []Record {
	records := make([]Record, len(logs))
	for i, lg := range logs {
		records[i] = Record{Action: Action(lg.Action), Table: lg.Table, RecordID: lg.RecordID, Values: lg.Values, Metadata: metadata}
	}
	return records
}
