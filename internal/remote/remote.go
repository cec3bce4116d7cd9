// Package remote defines the interface to the system of record: a
// row-oriented store reachable over a network call that can fail, time out,
// or return a structured error. The engine only ever talks to the Store
// interface; the HTTP client and the in-memory test backend both satisfy it.
package remote

import (
	"context"
	"errors"
	"fmt"
)

// Row is one record as the backend sees it: column name to JSON value.
type Row = map[string]any

// Filter selects rows by equality on the given columns.
type Filter = map[string]any

// Table names in the remote schema.
const (
	TableTransactions = "transactions"
	TableItems        = "items"
	TableProjects     = "projects"
	TableCategories   = "categories"
	TableLineage      = "lineage_edges"
)

// Store is the remote system of record. Every call is context-bound; the
// engine wraps each call in the configured network timeout.
type Store interface {
	// Insert stores a new row and returns it as accepted (the backend keeps
	// the client-chosen ID and stamps version/updated_at).
	Insert(ctx context.Context, table string, row Row) (Row, error)

	// Update patches rows matching filter and returns the first updated row.
	Update(ctx context.Context, table string, filter Filter, patch Row) (Row, error)

	// Delete removes rows matching filter.
	Delete(ctx context.Context, table string, filter Filter) error

	// Select returns rows matching filter, all rows for an empty filter.
	Select(ctx context.Context, table string, filter Filter) ([]Row, error)
}

// Code classifies a structured backend error.
type Code string

const (
	// CodeNotFound: no row matched the filter.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict: optimistic-concurrency conflict (stale version).
	CodeConflict Code = "CONFLICT"

	// CodeForeignKey: referential-integrity violation, e.g. a patch pointing
	// at a deleted budget category. The executor repairs and retries these
	// instead of surfacing them.
	CodeForeignKey Code = "FOREIGN_KEY"

	// CodeUnavailable: transient backend failure, retried with backoff.
	CodeUnavailable Code = "UNAVAILABLE"

	// CodeInvalid: the backend rejected the row as malformed.
	CodeInvalid Code = "INVALID"
)

// Error is a structured backend error. The original system matched
// referential-integrity failures with a message regex; the backend contract
// here carries an explicit code and the offending field instead.
type Error struct {
	Code    Code
	Message string

	// Field names the offending column for CodeForeignKey errors.
	Field string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("remote: %s (%s): %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("remote: %s: %s", e.Code, e.Message)
}

// CodeOf extracts the structured code from err, or "" when err is not a
// backend error.
func CodeOf(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// FieldOf returns the offending field of a CodeForeignKey error.
func FieldOf(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Field
	}
	return ""
}

// IsRetryable reports whether the executor should keep the operation queued
// and retry with backoff.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable:
		return true
	case "":
		// Non-structured errors are transport failures; retry.
		return true
	default:
		return false
	}
}
