package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDocs lets tests force listing failures.
type stubDocs struct {
	listErr error
}

func (s *stubDocs) List(context.Context, string) ([]DocumentInfo, error) {
	return nil, s.listErr
}

func (s *stubDocs) Download(context.Context, string, string) error {
	return errors.New("not implemented")
}

func writeDoc(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestIngestor(t *testing.T, docsRoot string, store *fakeGraphStore, reply string) *Ingestor {
	t.Helper()
	provider := &scriptedProvider{name: "scripted", replies: map[string]string{"accurate": reply}}
	return &Ingestor{
		Docs:      &LocalDocumentStore{Root: docsRoot},
		Generator: newTestGenerator(provider),
		Store:     store,
		Schemas:   &SchemaProvider{Static: testStaticSchema()},
		Leases:    NewInMemoryIngestLeaseManager(),
		Runs:      &LocalRunStore{Root: t.TempDir()},
	}
}

func TestIngestorRun(t *testing.T) {
	t.Run("partial batch failure is recorded, not fatal", func(t *testing.T) {
		docsRoot := t.TempDir()
		writeDoc(t, docsRoot, "courses.txt", "Analiza matematyczna prowadzi Jan Kowalski. Algebra liniowa prowadzi Anna Nowak.")

		// the middle statement fails at the store, the rest must still apply
		store := &fakeGraphStore{failContains: "Algebra"}
		batch := "MERGE (a:Course {name: 'Analiza matematyczna'}) | MERGE (b:Course {name: 'Algebra liniowa'}) | MERGE (l:Lecturer {name: 'Jan Kowalski'})"
		ingestor := newTestIngestor(t, docsRoot, store, batch)

		summary, err := ingestor.Run(context.Background(), "")
		require.NoError(t, err)

		assert.Equal(t, 1, summary.DocsProcessed)
		assert.Zero(t, summary.DocsFailed)
		assert.Equal(t, 2, summary.StatementsApplied)
		assert.Equal(t, 1, summary.StatementsFailed)

		require.Len(t, summary.Documents, 1)
		report := summary.Documents[0]
		assert.Equal(t, "courses.txt", report.Key)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, 1, report.Failures[0].Index)
		assert.Contains(t, report.Failures[0].Statement, "Algebra liniowa")
		assert.NotEmpty(t, report.Failures[0].Error)

		// statements were attempted strictly in batch order
		queries := store.queryLog()
		require.Len(t, queries, 3)
		assert.Contains(t, queries[0], "Analiza")
		assert.Contains(t, queries[1], "Algebra")
		assert.Contains(t, queries[2], "Kowalski")
	})

	t.Run("summary is persisted to the run store", func(t *testing.T) {
		docsRoot := t.TempDir()
		writeDoc(t, docsRoot, "courses.txt", "Fizyka jest na W11.")
		ingestor := newTestIngestor(t, docsRoot, &fakeGraphStore{}, "MERGE (c:Course {name: 'Fizyka'})")

		summary, err := ingestor.Run(context.Background(), "")
		require.NoError(t, err)
		require.NotEmpty(t, summary.RunID)

		stored, err := ingestor.Runs.Get(context.Background(), summary.RunID)
		require.NoError(t, err)
		assert.Equal(t, summary.RunID, stored.RunID)
		assert.Equal(t, summary.StatementsApplied, stored.StatementsApplied)
	})

	t.Run("held lease skips the document", func(t *testing.T) {
		docsRoot := t.TempDir()
		writeDoc(t, docsRoot, "courses.txt", "Fizyka jest na W11.")
		store := &fakeGraphStore{}
		ingestor := newTestIngestor(t, docsRoot, store, "MERGE (c:Course {name: 'Fizyka'})")

		// another run holds the lease for the same key
		_, err := ingestor.Leases.Acquire(context.Background(), "courses.txt", time.Minute)
		require.NoError(t, err)

		summary, err := ingestor.Run(context.Background(), "")
		require.NoError(t, err)

		assert.Equal(t, 1, summary.DocsSkipped)
		assert.Zero(t, summary.DocsProcessed)
		require.Len(t, summary.Documents, 1)
		assert.True(t, summary.Documents[0].Skipped)
		assert.NotEmpty(t, summary.Documents[0].SkipReason)
		assert.Empty(t, store.queryLog())
	})

	t.Run("unsupported document format fails that document only", func(t *testing.T) {
		docsRoot := t.TempDir()
		writeDoc(t, docsRoot, "photo.png", "binary")
		writeDoc(t, docsRoot, "courses.txt", "Fizyka jest na W11.")
		ingestor := newTestIngestor(t, docsRoot, &fakeGraphStore{}, "MERGE (c:Course {name: 'Fizyka'})")

		summary, err := ingestor.Run(context.Background(), "")
		require.NoError(t, err)

		assert.Equal(t, 1, summary.DocsProcessed)
		assert.Equal(t, 1, summary.DocsFailed)
		for _, report := range summary.Documents {
			if report.Key == "photo.png" {
				assert.NotEmpty(t, report.Error)
			}
		}
	})

	t.Run("prefix restricts the run", func(t *testing.T) {
		docsRoot := t.TempDir()
		writeDoc(t, docsRoot, "courses/analiza.txt", "Analiza.")
		writeDoc(t, docsRoot, "misc/notes.txt", "Notatki.")
		store := &fakeGraphStore{}
		ingestor := newTestIngestor(t, docsRoot, store, "MERGE (c:Course {name: 'Analiza'})")

		summary, err := ingestor.Run(context.Background(), "courses/")
		require.NoError(t, err)

		require.Len(t, summary.Documents, 1)
		assert.Equal(t, "courses/analiza.txt", summary.Documents[0].Key)
	})

	t.Run("multiple documents under a bounded worker pool", func(t *testing.T) {
		docsRoot := t.TempDir()
		for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"} {
			writeDoc(t, docsRoot, name, "Kurs.")
		}
		store := &fakeGraphStore{}
		ingestor := newTestIngestor(t, docsRoot, store, "MERGE (c:Course {name: 'Kurs'})")
		ingestor.Workers = 2

		summary, err := ingestor.Run(context.Background(), "")
		require.NoError(t, err)

		assert.Equal(t, 5, summary.DocsProcessed)
		assert.Equal(t, 5, summary.StatementsApplied)
		assert.Len(t, store.queryLog(), 5)
	})

	t.Run("listing failure aborts the run", func(t *testing.T) {
		ingestor := newTestIngestor(t, t.TempDir(), &fakeGraphStore{}, "MERGE (c:Course {name: 'Kurs'})")
		ingestor.Docs = &stubDocs{listErr: errors.New("bucket unavailable")}

		_, err := ingestor.Run(context.Background(), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "list documents")
	})
}
