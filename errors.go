package pgaudit

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// oops codes for the distinct error kinds this package can return.
// Callers can branch on these via oops.AsOops(err).Code() instead of
// matching messages.
const (
	CodeConfiguration = "PGAUDIT_CONFIG"
	CodeCapture       = "PGAUDIT_CAPTURE"
	CodeQueueOverflow = "PGAUDIT_QUEUE_OVERFLOW"
	CodeWriteFailure  = "PGAUDIT_WRITE_FAILURE"
	CodeClosed        = "PGAUDIT_CLOSED"
)

func configurationError(table, msg string) error {
	return oops.Code(CodeConfiguration).With("table", table).Errorf("%s", msg)
}

func captureError(table, msg string) error {
	return oops.Code(CodeCapture).With("table", table).Errorf("%s", msg)
}

func queueOverflowError(table string, queued, max int) error {
	return oops.Code(CodeQueueOverflow).
		With("table", table).
		With("queue_size", queued).
		With("max_queue_size", max).
		Errorf("queue full")
}

func writeFailureError(err error) error {
	return oops.Code(CodeWriteFailure).Wrap(err)
}

func shutdownClosedError() error {
	return oops.Code(CodeClosed).Errorf("writer is closed")
}

// SanitizedError reduces a failure to name, message, and an optional
// stable code, with no internal state attached. LogError itself is
// handed the original error value, not this struct; SanitizeError
// produces it from such a value on request.
type SanitizedError struct {
	Name    string
	Message string
	Code    string
}

// SanitizeError reduces any error value to {name, message, code?}. A
// *pgconn.PgError's Postgres SQLSTATE is surfaced as Code verbatim
// (e.g. "23505", the value of pgerrcode.UniqueViolation); non-error values are not
// accepted by this signature and must be pre-converted by the caller.
func SanitizeError(err error) SanitizedError {
	if err == nil {
		return SanitizedError{}
	}
	out := SanitizedError{Name: "Error", Message: err.Error()}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		out.Code = pgErr.Code
		return out
	}

	var oopsErr oops.OopsError
	if errors.As(err, &oopsErr) {
		out.Name = "OopsError"
		out.Code = oopsErr.Code()
	}
	return out
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation. The writer's flush path does not consult it: every failed
// flush is treated as a write failure.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
