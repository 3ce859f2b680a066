package rag

import (
	"context"
	"log/slog"
)

// RetrievalExecutor runs an already-guarded read query against the graph
// store and materializes every record before returning. Execution faults are
// wrapped in *StoreQueryError and never retried: the generated query, not
// transient connectivity, is the typical cause.
type RetrievalExecutor struct {
	Store  GraphStore
	Logger *slog.Logger
}

func (e *RetrievalExecutor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Execute runs query and returns its records in store order.
func (e *RetrievalExecutor) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	records, err := e.Store.Query(ctx, query)
	if err != nil {
		e.logger().WarnContext(ctx, "retrieval query failed",
			"query", truncateForError(query),
			"error", err,
		)
		return nil, &StoreQueryError{Query: query, Err: err}
	}
	return records, nil
}
