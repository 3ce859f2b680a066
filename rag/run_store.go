package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// StatementFailure records one mutation statement that failed to apply,
// with enough context to replay or debug it by hand.
type StatementFailure struct {
	Index     int    `json:"index" bson:"index"`
	Statement string `json:"statement" bson:"statement"`
	Error     string `json:"error" bson:"error"`
}

// DocumentReport is the per-document outcome of an ingestion run.
type DocumentReport struct {
	Key               string             `json:"key" bson:"key"`
	Skipped           bool               `json:"skipped" bson:"skipped"`
	SkipReason        string             `json:"skip_reason,omitempty" bson:"skip_reason,omitempty"`
	StatementsApplied int                `json:"statements_applied" bson:"statements_applied"`
	StatementsFailed  int                `json:"statements_failed" bson:"statements_failed"`
	Failures          []StatementFailure `json:"failures,omitempty" bson:"failures,omitempty"`
	Error             string             `json:"error,omitempty" bson:"error,omitempty"`
}

// RunSummary is the surfaced outcome of one ingestion run. Partial-batch
// application is an explicit policy, so applied vs. failed counts are always
// reported, never silently dropped.
type RunSummary struct {
	RunID             string           `json:"run_id" bson:"_id"`
	StartedAt         time.Time        `json:"started_at" bson:"started_at"`
	FinishedAt        time.Time        `json:"finished_at" bson:"finished_at"`
	Documents         []DocumentReport `json:"documents" bson:"documents"`
	DocsProcessed     int              `json:"docs_processed" bson:"docs_processed"`
	DocsSkipped       int              `json:"docs_skipped" bson:"docs_skipped"`
	DocsFailed        int              `json:"docs_failed" bson:"docs_failed"`
	StatementsApplied int              `json:"statements_applied" bson:"statements_applied"`
	StatementsFailed  int              `json:"statements_failed" bson:"statements_failed"`
}

// RunStore persists ingestion run summaries.
type RunStore interface {
	Save(ctx context.Context, summary *RunSummary) error
	Get(ctx context.Context, runID string) (*RunSummary, error)
	List(ctx context.Context) ([]RunSummary, error)
}

// LocalRunStore stores run summaries as JSON files under Root.
type LocalRunStore struct {
	Root string
}

func (l *LocalRunStore) path(runID string) string {
	return filepath.Join(l.Root, runID+".json")
}

func (l *LocalRunStore) Save(ctx context.Context, summary *RunSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if summary == nil || summary.RunID == "" {
		return fmt.Errorf("run summary with run id is required")
	}
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return fmt.Errorf("create run store root: %w", err)
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	if err := os.WriteFile(l.path(summary.RunID), data, 0o644); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}
	return nil
}

func (l *LocalRunStore) Get(ctx context.Context, runID string) (*RunSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("read run summary: %w", err)
	}
	var summary RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("parse run summary %s: %w", runID, err)
	}
	return &summary, nil
}

func (l *LocalRunStore) List(ctx context.Context) ([]RunSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list run summaries: %w", err)
	}

	var summaries []RunSummary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		summary, err := l.Get(ctx, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		summaries = append(summaries, *summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	return summaries, nil
}
