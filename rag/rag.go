// Package rag implements the question-answering and ingestion core for the
// university knowledge graph.
//
// Request path:
//
//	question → RelevanceGate → QueryGenerator → RetrievalExecutor → answer
//
// The Pipeline threads a per-invocation State through those steps and converts
// every node fault into the fixed "no information" sentinel plus structured
// metadata, so callers never see a raw provider or driver error.
//
// Ingestion path (independent, one-way):
//
//	DocumentStore → text extraction → QueryGenerator (batch mode) → graph store
//
// Both paths share the query safety guard: no model output reaches the graph
// store without passing through EnforceBound or SplitBatch first.
package rag

import (
	"context"
	"time"
)

// NoInformationAnswer is the fixed sentinel returned when the question is out
// of scope, retrieval is empty, or a pipeline node failed.
const NoInformationAnswer = "W bazie danych nie ma informacji"

// GraphStore executes statements in the graph database's query language.
// Implementations open a scoped session per call and never hold it across
// calls.
type GraphStore interface {
	Query(ctx context.Context, cypher string) ([]map[string]any, error)
	Close(ctx context.Context) error
}

// SchemaSource records where a Schema came from.
type SchemaSource string

const (
	SchemaSourceLive   SchemaSource = "live"
	SchemaSourceStatic SchemaSource = "static"
)

// Schema is the set of known entity-type and relationship-type names. A
// schema is always wholly live or wholly static, never a merge of the two.
type Schema struct {
	Entities      []string
	Relationships []string
	Source        SchemaSource
}

// Empty reports whether the schema has zero entity types. Relationship types
// are deliberately ignored: a live read with labels but no relationships is
// still usable.
func (s Schema) Empty() bool { return len(s.Entities) == 0 }

// DocumentInfo describes one source document in a DocumentStore.
type DocumentInfo struct {
	Key       string
	Size      int64
	UpdatedAt time.Time
}

// DocumentStore is the read-only acquisition surface for source documents.
type DocumentStore interface {
	List(ctx context.Context, prefix string) ([]DocumentInfo, error)
	Download(ctx context.Context, key string, dest string) error
}
