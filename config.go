package pgaudit

import (
	"log/slog"
	"time"

	"github.com/gobwas/glob"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mickamy/pgaudit/internal/ident"
)

// UpdateValuesMode selects whether an UPDATE audit record stores the
// full post-update row or only the columns that actually changed.
type UpdateValuesMode string

const (
	UpdateValuesFull    UpdateValuesMode = "full"
	UpdateValuesChanged UpdateValuesMode = "changed"
)

// defaultExcludeFields are redacted globally unless the caller
// overrides ExcludeFields.
var defaultExcludeFields = []string{"password", "token", "secret", "apiKey"}

// TableConfig carries the per-table primary-key specification used by
// primary-key extraction.
type TableConfig struct {
	// PrimaryKey is either a single column name or, for composite
	// keys, an ordered list. Use PrimaryKeys for the composite form;
	// PrimaryKey is a convenience for the common single-column case.
	PrimaryKey  string
	PrimaryKeys []string
}

// Keys returns the configured primary key as an ordered list, lifting
// a single PrimaryKey into a one-element list.
func (tc TableConfig) Keys() []string {
	if len(tc.PrimaryKeys) > 0 {
		return tc.PrimaryKeys
	}
	if tc.PrimaryKey != "" {
		return []string{tc.PrimaryKey}
	}
	return nil
}

// Config is the normalized configuration for a Logger.
type Config struct {
	// Tables is either {"*"} (audit everything) or the set of audited
	// table names; entries may be glob patterns (github.com/gobwas/glob
	// syntax) as well as exact names.
	Tables []string

	// Fields maps table -> ordered set of columns to capture. A table
	// absent from Fields has every (non-excluded) column captured.
	Fields map[string][]string

	// ExcludeFields is redacted globally regardless of Fields.
	// Defaults to {password, token, secret, apiKey}.
	ExcludeFields []string

	// AuditTable is the destination table for audit rows. Defaults to
	// "audit_logs".
	AuditTable string

	// StrictMode selects the error-handling policy: failures propagate
	// to callers (true) vs. are logged and swallowed (false).
	StrictMode bool

	// WaitForWrite, when true, makes the caller's mutation await
	// persistence of its audit record.
	WaitForWrite bool

	// BatchSize is the size-triggered flush threshold.
	BatchSize int

	// FlushInterval is the time-triggered flush period.
	FlushInterval time.Duration

	// MaxQueueSize bounds the writer's queue.
	MaxQueueSize int

	// UpdateValuesMode selects full-row vs. diff-only UPDATE capture.
	// Defaults to UpdateValuesChanged.
	UpdateValuesMode UpdateValuesMode

	// TableConfigMap supplies the per-table primary-key spec.
	TableConfigMap map[string]TableConfig

	// GetUserID and GetMetadata are ambient context extractors invoked
	// at persist time: GetUserID when the active scope leaves UserID
	// unset, GetMetadata always, as the lowest-priority metadata layer
	// beneath the scope's and the record's own metadata.
	GetUserID   func() string
	GetMetadata func() map[string]any

	// LogError receives non-fatal errors (overflow, write-failure,
	// background-flush and capture failures) as the original error
	// value; SanitizeError can reduce one to name/message/code. Defaults to
	// logging via log/slog at Error level.
	LogError func(msg string, err error)

	// ColumnMap remaps the stored audit row's column names; entries
	// absent here use the default name (matching the field name).
	ColumnMap map[string]string

	// IDGenerator is stored on the Config, but no code path in this
	// package calls it: every record id, manual or intercepted, comes
	// from the row's configured primary key.
	IDGenerator func() string

	// Metrics is the registry the batch writer's gauges/counters/
	// histogram (§4.5) register to. A nil value gets a fresh, private
	// *prometheus.Registry per Logger so constructing several Loggers
	// (as tests do) never collides on duplicate collector names.
	Metrics *prometheus.Registry

	compiled compiledConfig
}

// compiledConfig holds the derived, immutable state built once at
// NewLogger time.
type compiledConfig struct {
	auditAll      bool
	tableGlobs    []glob.Glob
	tableLiterals map[string]struct{}
}

// normalize fills in defaults and compiles derived state. It is
// idempotent and safe to call multiple times; NewLogger calls it once
// and returns any resulting ConfigurationError synchronously, before
// any statement is ever intercepted.
func (c *Config) normalize() error {
	if c.AuditTable == "" {
		c.AuditTable = "audit_logs"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 10_000
	}
	if c.UpdateValuesMode == "" {
		c.UpdateValuesMode = UpdateValuesChanged
	}
	if c.ExcludeFields == nil {
		c.ExcludeFields = append([]string(nil), defaultExcludeFields...)
	}
	if c.GetUserID == nil {
		c.GetUserID = func() string { return "" }
	}
	if c.GetMetadata == nil {
		c.GetMetadata = func() map[string]any { return nil }
	}
	if c.LogError == nil {
		c.LogError = func(msg string, err error) {
			slog.Error(msg, "error", err)
		}
	}
	if c.TableConfigMap == nil {
		c.TableConfigMap = map[string]TableConfig{}
	}
	if c.Metrics == nil {
		c.Metrics = prometheus.NewRegistry()
	}

	compiled := compiledConfig{tableLiterals: map[string]struct{}{}}
	for _, t := range c.Tables {
		if t == "*" {
			compiled.auditAll = true
			continue
		}
		if isLiteralPattern(t) {
			compiled.tableLiterals[t] = struct{}{}
			continue
		}
		g, err := glob.Compile(t)
		if err != nil {
			return configurationError(t, "invalid table pattern: "+err.Error())
		}
		compiled.tableGlobs = append(compiled.tableGlobs, g)
	}
	c.compiled = compiled
	return nil
}

// isLiteralPattern reports whether s contains no glob metacharacters,
// letting the common case of an exact table name skip glob.Compile.
func isLiteralPattern(s string) bool {
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '!':
			return false
		}
	}
	return true
}

// shouldAudit reports whether table is audited under cfg: never the
// audit table itself, otherwise wildcard/glob/literal membership in
// Tables.
func (c *Config) shouldAudit(table string) bool {
	if table == c.AuditTable {
		return false
	}
	if c.compiled.auditAll {
		return true
	}
	if _, ok := c.compiled.tableLiterals[table]; ok {
		return true
	}
	for _, g := range c.compiled.tableGlobs {
		if g.Match(table) {
			return true
		}
	}
	return false
}

// tableConfigFor resolves the TableConfig for table, falling back to
// the base (unqualified) table name when the qualified name has no
// direct entry.
func (c *Config) tableConfigFor(table string) (TableConfig, bool) {
	if tc, ok := c.TableConfigMap[table]; ok {
		return tc, true
	}
	base := ident.BaseTableName(table)
	if base == table {
		return TableConfig{}, false
	}
	tc, ok := c.TableConfigMap[base]
	return tc, ok
}

func (c *Config) excludeSet() map[string]struct{} {
	out := make(map[string]struct{}, len(c.ExcludeFields))
	for _, f := range c.ExcludeFields {
		out[f] = struct{}{}
	}
	return out
}

func (c *Config) columnName(field, fallback string) string {
	if c.ColumnMap != nil {
		if mapped, ok := c.ColumnMap[field]; ok {
			return mapped
		}
	}
	return fallback
}
