package pgaudit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mickamy/pgaudit/internal/capture"
	"github.com/mickamy/pgaudit/internal/ident"
)

// queuedRecord pairs a captured Record with the ambient Context in
// effect when it was captured, since a single flushed batch may span
// records queued from different scopes.
type queuedRecord struct {
	record Record
	scope  Context
}

// Writer batches Records and persists them to cfg.AuditTable on a
// size- or time-triggered flush.
type Writer struct {
	db  *sql.DB
	cfg *Config

	mu           sync.Mutex
	queue        []queuedRecord
	flushing     bool
	pendingAgain bool
	closed       bool

	timer  *time.Timer
	stopCh chan struct{}
	stats  *writerStats

	closeOnce sync.Once
}

func newWriter(db *sql.DB, cfg *Config) *Writer {
	w := &Writer{
		db:     db,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		stats:  newWriterStats(cfg.Metrics),
	}
	w.timer = time.AfterFunc(cfg.FlushInterval, w.onTimer)
	return w
}

func (w *Writer) onTimer() {
	select {
	case <-w.stopCh:
		return
	default:
	}
	w.backgroundFlush()
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		w.timer.Reset(w.cfg.FlushInterval)
	}
}

// QueueAuditLogs enqueues records captured under scope. When
// cfg.WaitForWrite is set, it runs one flush (up to cfg.BatchSize
// records from the head of the queue) synchronously before returning,
// surfacing that flush's error to the caller; any remainder stays
// queued. Otherwise it returns as soon as the records are queued,
// relying on the size/time triggers to flush them in the background.
func (w *Writer) QueueAuditLogs(records []Record, scope *Context) error {
	if len(records) == 0 {
		return nil
	}
	sc := Context{}
	if scope != nil {
		sc = *scope
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		err := shutdownClosedError()
		w.cfg.LogError("pgaudit: enqueue after shutdown", err)
		return err
	}
	if len(w.queue)+len(records) > w.cfg.MaxQueueSize {
		w.mu.Unlock()
		err := queueOverflowError(records[0].Table, len(w.queue), w.cfg.MaxQueueSize)
		w.cfg.LogError("pgaudit: queue overflow", err)
		w.stats.dropped.Add(float64(len(records)))
		return err
	}
	for _, r := range records {
		w.queue = append(w.queue, queuedRecord{record: r, scope: sc})
	}
	size := len(w.queue)
	w.mu.Unlock()
	w.stats.queueSize.Set(float64(size))

	if w.cfg.WaitForWrite {
		return w.runFlush()
	}
	if size >= w.cfg.BatchSize {
		go w.backgroundFlush()
	}
	return nil
}

// runFlush detaches up to cfg.BatchSize records from the head of the
// queue and persists that batch, leaving any remainder queued for the
// next trigger — one multi-row INSERT never carries more than
// BatchSize rows' worth of positional parameters, however large the
// queue has grown. Safe to call concurrently: the mutex-protected
// detach means concurrent callers never see overlapping batches, so
// two flushes racing each other simply split the queue between them
// instead of corrupting it.
func (w *Writer) runFlush() error {
	w.mu.Lock()
	n := len(w.queue)
	if n > w.cfg.BatchSize {
		n = w.cfg.BatchSize
	}
	batch := make([]queuedRecord, n)
	copy(batch, w.queue[:n])
	w.queue = w.queue[n:]
	w.mu.Unlock()
	w.stats.queueSize.Set(float64(len(w.queue)))
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	err := w.persist(context.Background(), batch)
	w.stats.flushDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}

	w.stats.flushErrors.Inc()
	if w.cfg.StrictMode {
		// Re-prepend so a transient failure never loses rows; the
		// caller (or the next size/time trigger) retries them.
		w.mu.Lock()
		w.queue = append(batch, w.queue...)
		w.mu.Unlock()
		w.stats.queueSize.Set(float64(len(w.queue)))
		w.cfg.LogError("pgaudit: flush failed, retrying", writeFailureError(err))
		return err
	}

	w.stats.dropped.Add(float64(len(batch)))
	w.cfg.LogError("pgaudit: flush failed", writeFailureError(err))
	return err
}

// backgroundFlush is the size/time trigger path. It coalesces
// concurrent triggers via flushing/pendingAgain — a single
// "flushing bool" + "pendingAgain bool" pair under w.mu — rather than
// golang.org/x/sync/singleflight, since singleflight.Do would block
// every caller on the shared result, which is wrong for a trigger that
// doesn't need its own result back. A trigger that lands mid-flush
// just asks the in-flight flush to loop once more instead of spawning
// a second persist goroutine.
func (w *Writer) backgroundFlush() {
	w.mu.Lock()
	if w.flushing {
		w.pendingAgain = true
		w.mu.Unlock()
		return
	}
	w.flushing = true
	w.mu.Unlock()
	w.stats.inFlight.Set(1)
	defer w.stats.inFlight.Set(0)

	for {
		_ = w.runFlush()
		w.mu.Lock()
		again := w.pendingAgain
		w.pendingAgain = false
		if !again {
			w.flushing = false
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()
	}
}

// Shutdown stops the flush timer and drains the queue batch by batch
// until it is empty (or a strict-mode flush fails, leaving that batch
// queued), running the drain concurrently with waiting out any
// in-flight background flush via errgroup, and is idempotent.
func (w *Writer) Shutdown(ctx context.Context) error {
	var shutdownErr error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		w.timer.Stop()
		close(w.stopCh)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var firstErr error
			for {
				w.mu.Lock()
				remaining := len(w.queue)
				w.mu.Unlock()
				if remaining == 0 {
					return firstErr
				}
				if err := w.runFlush(); err != nil {
					if w.cfg.StrictMode {
						return err
					}
					if firstErr == nil {
						firstErr = err
					}
				}
			}
		})
		g.Go(func() error {
			for {
				w.mu.Lock()
				flushing := w.flushing
				w.mu.Unlock()
				if !flushing {
					return nil
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(10 * time.Millisecond):
				}
			}
		})
		shutdownErr = g.Wait()
	})
	return shutdownErr
}

// persist renders batch as a single multi-row INSERT into
// cfg.AuditTable and executes it, with the audit values/metadata
// encoded as JSON parameters.
func (w *Writer) persist(ctx context.Context, batch []queuedRecord) error {
	cols := auditInsertColumns(*w.cfg)
	quotedCols := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i] = ident.Quote(c)
	}

	placeholders := make([]string, 0, len(batch))
	args := make([]any, 0, len(batch)*len(cols))
	n := 1
	for _, qr := range batch {
		userID := qr.scope.UserID
		if userID == "" && w.cfg.GetUserID != nil {
			userID = w.cfg.GetUserID()
		}
		var defaultMetadata map[string]any
		if w.cfg.GetMetadata != nil {
			defaultMetadata = w.cfg.GetMetadata()
		}
		metadata := mergeMetadata(defaultMetadata, qr.scope.Metadata, qr.record.Metadata)

		valuesJSON, err := marshalNullableJSON(qr.record.Values)
		if err != nil {
			return fmt.Errorf("pgaudit: marshal audit values: %w", err)
		}
		metaJSON, err := marshalNullableJSON(metadata)
		if err != nil {
			return fmt.Errorf("pgaudit: marshal audit metadata: %w", err)
		}

		row := []any{
			nullableString(userID),
			nullableString(qr.scope.IPAddress),
			nullableString(qr.scope.UserAgent),
			string(qr.record.Action),
			qr.record.Table,
			qr.record.RecordID,
			nullableBytes(valuesJSON),
			nullableBytes(metaJSON),
			nullableString(qr.scope.TransactionID),
		}
		ph := make([]string, len(row))
		for i := range row {
			ph[i] = fmt.Sprintf("$%d", n)
			n++
		}
		args = append(args, row...)
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		ident.Quote(w.cfg.AuditTable), strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))
	_, err := w.db.ExecContext(ctx, stmt, args...)
	return err
}

// auditInsertColumns is the subset of auditColumns the writer
// populates explicitly; id/created_at/deleted_at use their DDL
// defaults/NULL.
func auditInsertColumns(cfg Config) []string {
	fields := []string{
		"user_id", "ip_address", "user_agent", "action", "table_name",
		"record_id", "values", "metadata", "transaction_id",
	}
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = cfg.columnName(f, f)
	}
	return cols
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// marshalNullableJSON encodes m the way the values/metadata columns
// need it: a nil or empty map persists as SQL null, never as the
// empty JSON object "{}".
func marshalNullableJSON(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return capture.SafeMarshal(m)
}

// nullableBytes surfaces a nil []byte as an untyped nil interface, the
// way database/sql needs it to bind a SQL NULL rather than a typed nil
// slice (which some drivers would otherwise bind as a zero-length
// bytea/jsonb value instead of NULL).
func nullableBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}
