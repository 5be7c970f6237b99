package pgaudit

import "github.com/mickamy/pgaudit/internal/capture"

// entry stages one intercepted INSERT/UPDATE/DELETE until the
// interceptor turns it into audit logs: immediately for a statement
// run directly against DB, at commit time for one run inside a Tx.
type entry struct {
	table    string
	op       string // INSERT, UPDATE, DELETE
	before   []capture.Row
	after    []capture.Row
	metadata map[string]any
}
