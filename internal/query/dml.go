package query

import (
	"regexp"
	"strings"

	"github.com/mickamy/pgaudit/internal/ident"
)

// DML describes a recognized data-changing statement.
type DML struct {
	Op           string // INSERT, UPDATE, DELETE
	Table        string // possibly schema-qualified
	HasReturning bool
}

var (
	reInsert    = regexp.MustCompile(`(?is)^\s*(?:with\b.*?\)\s*)?insert\s+into\s+([^\s(]+)`)
	reUpdate    = regexp.MustCompile(`(?is)^\s*(?:with\b.*?\)\s*)?update\s+([^\s]+(?:\s+(?:as\s+)?[^\s]+)?)\s+set\b`)
	reDelete    = regexp.MustCompile(`(?is)^\s*(?:with\b.*?\)\s*)?delete\s+from\s+([^\s]+(?:\s+(?:as\s+)?[^\s]+)?)`)
	reReturning = regexp.MustCompile(`(?is)\breturning\b`)
	// reReturningClause captures everything after RETURNING up to the
	// next top-level clause terminator (end of string or semicolon).
	reReturningClause = regexp.MustCompile(`(?is)\breturning\s+(.*?)\s*;?\s*$`)
	// reWhereClause captures a top-level WHERE predicate, stopping at
	// RETURNING if present.
	reWhereClause = regexp.MustCompile(`(?is)\bwhere\s+(.*?)\s*(?:\breturning\b.*)?;?\s*$`)
)

// ParseDML attempts to recognize a single top-level DML and return its metadata.
func ParseDML(q string) (DML, bool) {
	qs := strings.TrimSpace(q)
	if m := reInsert.FindStringSubmatch(qs); len(m) == 2 {
		return DML{Op: "INSERT", Table: ident.StripAlias(m[1]), HasReturning: reReturning.MatchString(qs)}, true
	}
	if m := reUpdate.FindStringSubmatch(qs); len(m) == 2 {
		return DML{Op: "UPDATE", Table: ident.StripAlias(m[1]), HasReturning: reReturning.MatchString(qs)}, true
	}
	if m := reDelete.FindStringSubmatch(qs); len(m) == 2 {
		return DML{Op: "DELETE", Table: ident.StripAlias(m[1]), HasReturning: reReturning.MatchString(qs)}, true
	}
	return DML{}, false
}

// ReturningColumns parses an explicit RETURNING projection into its
// comma-separated column expressions. ok is false when the statement
// has no RETURNING clause or the clause is the bare wildcard "*",
// since neither case carries a concrete column list to compare
// against the audit-required columns.
func ReturningColumns(q string) (cols []string, ok bool) {
	m := reReturningClause.FindStringSubmatch(strings.TrimSpace(q))
	if len(m) != 2 {
		return nil, false
	}
	clause := strings.TrimSpace(m[1])
	if clause == "*" || clause == "" {
		return nil, false
	}
	for _, part := range strings.Split(clause, ",") {
		col := ident.StripAlias(strings.TrimSpace(part))
		if col == "" {
			continue
		}
		cols = append(cols, col)
	}
	return cols, len(cols) > 0
}

// WhereClause extracts the top-level WHERE predicate of an
// UPDATE/DELETE statement, if any, for building the before-state
// SELECT that changed-mode UPDATE capture needs.
func WhereClause(q string) (string, bool) {
	m := reWhereClause.FindStringSubmatch(strings.TrimSpace(q))
	if len(m) != 2 {
		return "", false
	}
	clause := strings.TrimSpace(m[1])
	if clause == "" {
		return "", false
	}
	return clause, true
}

// AppendReturningAll appends "RETURNING *" to the provided statement if non-empty.
// It preserves trailing semicolons by re-attaching them after the RETURNING clause.
func AppendReturningAll(q string) (string, bool) {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return q, false
	}

	hasSemicolon := false
	for strings.HasSuffix(trimmed, ";") {
		hasSemicolon = true
		trimmed = strings.TrimSpace(trimmed[:len(trimmed)-1])
	}
	if trimmed == "" {
		return q, false
	}

	var b strings.Builder
	b.WriteString(trimmed)
	b.WriteString("\nRETURNING *")
	if hasSemicolon {
		b.WriteString(";")
	}
	return b.String(), true
}
