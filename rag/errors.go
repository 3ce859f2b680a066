package rag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSchemaUnavailable = errors.New("graph schema unavailable")
	ErrNoProviders       = errors.New("no chat providers configured")

	ErrIngestLeaseConflict = errors.New("ingest lease conflict")
	ErrRunNotFound         = errors.New("ingestion run not found")
	ErrDocumentNotFound    = errors.New("document not found")
)

// MalformedQueryError reports a generated query whose structure could not be
// parsed well enough to safety-guard it. Callers discard the query.
type MalformedQueryError struct {
	Query  string
	Reason string
}

func (e *MalformedQueryError) Error() string {
	return fmt.Sprintf("malformed query (%s): %s", e.Reason, truncateForError(e.Query))
}

// StoreQueryError wraps a graph store execution fault. It is terminal for the
// invocation that produced it; the query itself, not connectivity, is the
// typical cause, so it is never retried.
type StoreQueryError struct {
	Query string
	Err   error
}

func (e *StoreQueryError) Error() string {
	return fmt.Sprintf("store query failed: %v (query: %s)", e.Err, truncateForError(e.Query))
}

func (e *StoreQueryError) Unwrap() error { return e.Err }

// ProviderFailure records one failed provider attempt inside a chain.
type ProviderFailure struct {
	Provider string
	Err      error
}

// ProviderExhaustedError means every configured chat provider failed for a
// single call. Terminal for that call.
type ProviderExhaustedError struct {
	Failures []ProviderFailure
}

func (e *ProviderExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return "all chat providers failed"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Provider, f.Err)
	}
	return "all chat providers failed: " + strings.Join(parts, "; ")
}

// StatementApplyError reports a single failed mutation statement within an
// ingestion batch. It is recovered at batch granularity and never aborts the
// remaining statements.
type StatementApplyError struct {
	Index     int
	Statement string
	Err       error
}

func (e *StatementApplyError) Error() string {
	return fmt.Sprintf("apply statement %d failed: %v (statement: %s)", e.Index, e.Err, truncateForError(e.Statement))
}

func (e *StatementApplyError) Unwrap() error { return e.Err }

func truncateForError(s string) string {
	const max = 200
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// errorKind maps a pipeline fault to the metadata kind surfaced to callers.
func errorKind(err error) string {
	var malformed *MalformedQueryError
	var store *StoreQueryError
	var exhausted *ProviderExhaustedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &malformed):
		return "malformed_query"
	case errors.As(err, &store):
		return "store_query"
	case errors.As(err, &exhausted):
		return "provider_exhausted"
	default:
		return "internal"
	}
}
