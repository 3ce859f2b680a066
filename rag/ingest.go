// ingest.go defines the document-to-graph ingestion pipeline.
//
// Pipeline stages, per document:
//
//  1. acquire  — DocumentStore downloads the source blob to a temp file.
//  2. extract  — ExtractText pulls the text layer (PDF, TXT, MD).
//  3. generate — QueryGenerator batch mode emits pipe-delimited MERGE
//     statements under the safety contract.
//  4. apply    — each statement executes against the graph store in batch
//     order; one statement's failure is recorded and the rest continue.
//
// Concurrency is across documents only (bounded worker pool). Statements
// within one document's batch apply strictly in order because later
// statements may reference entities created by earlier ones.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultIngestWorkers = 4

// Ingestor runs the one-way ETL that populates the graph store.
type Ingestor struct {
	Docs      DocumentStore
	Generator *QueryGenerator
	Store     GraphStore
	Schemas   *SchemaProvider
	Leases    IngestLeaseManager
	Runs      RunStore

	// Workers bounds document-level parallelism. Within a document the batch
	// is always sequential.
	Workers  int
	LeaseTTL time.Duration

	Metrics PipelineMetrics
	Logger  *slog.Logger
}

func (in *Ingestor) logger() *slog.Logger {
	if in.Logger != nil {
		return in.Logger
	}
	return slog.Default()
}

func (in *Ingestor) metrics() PipelineMetrics {
	if in.Metrics != nil {
		return in.Metrics
	}
	return NoopPipelineMetrics{}
}

func (in *Ingestor) leases() IngestLeaseManager {
	if in.Leases != nil {
		return in.Leases
	}
	return NewInMemoryIngestLeaseManager()
}

// Run processes every document under prefix and returns the run summary.
// Individual document failures are recorded in the summary, not raised; Run
// errors only when the document listing itself fails or the context ends.
func (in *Ingestor) Run(ctx context.Context, prefix string) (*RunSummary, error) {
	runID := uuid.New().String()
	startedAt := time.Now().UTC()

	docs, err := in.Docs.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	in.logger().InfoContext(ctx, "ingestion run started",
		"run_id", runID,
		"prefix", prefix,
		"documents", len(docs),
	)

	schema := in.Schemas.Resolve(ctx)
	leaseManager := in.leases()

	workers := in.Workers
	if workers <= 0 {
		workers = defaultIngestWorkers
	}

	reports := make([]DocumentReport, len(docs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i, doc := range docs {
		group.Go(func() error {
			reports[i] = in.processDocument(groupCtx, leaseManager, doc.Key, schema)
			return nil
		})
	}
	// Workers only report, they never fail the group; Wait is for completion.
	_ = group.Wait()

	summary := &RunSummary{
		RunID:      runID,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Documents:  reports,
	}
	for _, report := range reports {
		switch {
		case report.Skipped:
			summary.DocsSkipped++
		case report.Error != "":
			summary.DocsFailed++
		default:
			summary.DocsProcessed++
		}
		summary.StatementsApplied += report.StatementsApplied
		summary.StatementsFailed += report.StatementsFailed
	}

	if in.Runs != nil {
		if err := in.Runs.Save(ctx, summary); err != nil {
			in.logger().ErrorContext(ctx, "persist run summary", "run_id", runID, "error", err)
		}
	}

	in.logger().InfoContext(ctx, "ingestion run finished",
		"run_id", runID,
		"docs_processed", summary.DocsProcessed,
		"docs_skipped", summary.DocsSkipped,
		"docs_failed", summary.DocsFailed,
		"statements_applied", summary.StatementsApplied,
		"statements_failed", summary.StatementsFailed,
	)
	return summary, nil
}

func (in *Ingestor) processDocument(ctx context.Context, leaseManager IngestLeaseManager, key string, schema Schema) DocumentReport {
	start := time.Now()
	report := DocumentReport{Key: key}

	lease, err := leaseManager.Acquire(ctx, key, in.LeaseTTL)
	if err != nil {
		report.Skipped = true
		report.SkipReason = err.Error()
		in.logger().InfoContext(ctx, "document skipped", "key", key, "reason", err)
		return report
	}
	defer func() {
		_ = leaseManager.Release(ctx, lease)
	}()

	text, err := in.acquireAndExtract(ctx, key)
	if err != nil {
		report.Error = err.Error()
		in.metrics().RecordIngestDocument(key, 0, 0, time.Since(start).Milliseconds(), err)
		in.logger().ErrorContext(ctx, "document extraction failed", "key", key, "error", err)
		return report
	}

	genStart := time.Now()
	statements, err := in.Generator.GenerateBatch(ctx, text, schema)
	in.metrics().RecordGeneration("batch", time.Since(genStart).Milliseconds(), err)
	if err != nil {
		report.Error = err.Error()
		in.metrics().RecordIngestDocument(key, 0, 0, time.Since(start).Milliseconds(), err)
		in.logger().ErrorContext(ctx, "batch generation failed", "key", key, "error", err)
		return report
	}

	// Apply strictly in batch order. A failed statement is logged with its
	// index and text, and the rest of the batch continues: partial-batch
	// application is the accepted policy, surfaced through the run summary.
	for i, stmt := range statements {
		if _, err := in.Store.Query(ctx, stmt); err != nil {
			applyErr := &StatementApplyError{Index: i, Statement: stmt, Err: err}
			report.StatementsFailed++
			report.Failures = append(report.Failures, StatementFailure{
				Index:     i,
				Statement: stmt,
				Error:     err.Error(),
			})
			in.logger().WarnContext(ctx, "statement apply failed",
				"key", key,
				"index", i,
				"statement", truncateForError(stmt),
				"error", applyErr,
			)
			continue
		}
		report.StatementsApplied++
	}

	in.metrics().RecordIngestDocument(key, report.StatementsApplied, report.StatementsFailed, time.Since(start).Milliseconds(), nil)
	in.logger().InfoContext(ctx, "document ingested",
		"key", key,
		"statements_applied", report.StatementsApplied,
		"statements_failed", report.StatementsFailed,
	)
	return report
}

func (in *Ingestor) acquireAndExtract(ctx context.Context, key string) (string, error) {
	tmp, err := os.CreateTemp("", "topwr-ingest-*"+filepath.Ext(key))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := in.Docs.Download(ctx, key, tmpPath); err != nil {
		return "", fmt.Errorf("acquire %s: %w", key, err)
	}
	text, err := ExtractText(tmpPath)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", key, err)
	}
	return text, nil
}
