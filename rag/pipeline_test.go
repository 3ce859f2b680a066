package rag

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider answers canned text keyed by request model, so one fake
// can serve both the fast gate model and the accurate generation model.
type scriptedProvider struct {
	name    string
	replies map[string]string
	err     error

	mu    sync.Mutex
	calls []ChatRequest
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Generate(_ context.Context, req ChatRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.err != nil {
		return "", p.err
	}
	out, ok := p.replies[req.Model]
	if !ok {
		return "", errors.New("no scripted reply for model " + req.Model)
	}
	return out, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// fakeGraphStore records queries and answers from canned records. A non-empty
// failContains makes matching statements fail, for partial-batch scenarios.
type fakeGraphStore struct {
	records      []map[string]any
	err          error
	failContains string

	mu      sync.Mutex
	queries []string
}

func (s *fakeGraphStore) Query(_ context.Context, cypher string) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, cypher)
	if s.err != nil {
		return nil, s.err
	}
	if s.failContains != "" && strings.Contains(cypher, s.failContains) {
		return nil, errors.New("constraint violation")
	}
	return s.records, nil
}

func (s *fakeGraphStore) Close(context.Context) error { return nil }

func (s *fakeGraphStore) queryLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func testStaticSchema() Schema {
	return Schema{
		Entities:      []string{"Course", "Lecturer", "Faculty"},
		Relationships: []string{"TAUGHT_BY", "PART_OF"},
		Source:        SchemaSourceStatic,
	}
}

func newTestPipeline(provider ChatProvider, store *fakeGraphStore, metrics PipelineMetrics) *Pipeline {
	chain := &ProviderChain{Providers: []ChatProvider{provider}}
	return &Pipeline{
		Schemas:   &SchemaProvider{Static: testStaticSchema()},
		Gate:      &RelevanceGate{Chain: chain, Model: "fast"},
		Generator: &QueryGenerator{Chain: chain, Model: "accurate", MaxResults: 5},
		Executor:  &RetrievalExecutor{Store: store},
		Metrics:   metrics,
	}
}

func TestPipelineHandle(t *testing.T) {
	t.Run("out of scope question short-circuits to the sentinel", func(t *testing.T) {
		provider := &scriptedProvider{name: "scripted", replies: map[string]string{"fast": "end"}}
		store := &fakeGraphStore{}
		pipeline := newTestPipeline(provider, store, nil)

		result := pipeline.Handle(context.Background(), "Jaka jest pogoda we Wroclawiu?", "", "trace-1")

		assert.Equal(t, NoInformationAnswer, result.Answer)
		assert.Equal(t, "out_of_scope", result.Metadata.Routing)
		assert.Equal(t, "end", result.Metadata.GuardrailDecision)
		assert.Empty(t, result.Metadata.CypherQuery)
		assert.NotNil(t, result.Metadata.Context)
		assert.Empty(t, result.Metadata.Context)
		assert.Equal(t, "trace-1", result.Metadata.TraceID)

		// only the gate call happened, no generation, no store access
		assert.Equal(t, 1, provider.callCount())
		assert.Empty(t, store.queryLog())
	})

	t.Run("in scope question returns retrieved context", func(t *testing.T) {
		provider := &scriptedProvider{name: "scripted", replies: map[string]string{
			"fast":     "generate_cypher",
			"accurate": "MATCH (c:Course {name: 'Analiza matematyczna'})-[:TAUGHT_BY]->(l:Lecturer) RETURN l.name",
		}}
		store := &fakeGraphStore{records: []map[string]any{
			{"l.name": "Jan Kowalski"},
			{"l.name": "Anna Nowak"},
			{"l.name": "Piotr Wozniak"},
		}}
		metrics := NewInMemPipelineMetrics()
		pipeline := newTestPipeline(provider, store, metrics)

		result := pipeline.Handle(context.Background(), "Kto uczy analizy matematycznej?", "sess-1", "trace-2")

		assert.Equal(t, "in_scope", result.Metadata.Routing)
		assert.Equal(t, "generate_cypher", result.Metadata.GuardrailDecision)
		assert.True(t, strings.HasSuffix(result.Metadata.CypherQuery, "LIMIT 5"), "query must carry the bound: %s", result.Metadata.CypherQuery)
		assert.Len(t, result.Metadata.Context, 3)
		assert.Empty(t, result.Metadata.ErrorKind)

		// the answer is the JSON-encoded context, not the sentinel
		assert.NotEqual(t, NoInformationAnswer, result.Answer)
		var decoded []map[string]any
		require.NoError(t, json.Unmarshal([]byte(result.Answer), &decoded))
		assert.Len(t, decoded, 3)

		require.Len(t, store.queryLog(), 1)
		assert.Equal(t, result.Metadata.CypherQuery, store.queryLog()[0])

		snapshot := metrics.Snapshot()
		assert.Equal(t, int64(1), snapshot.GateStats["in_scope"].Count)
		assert.Equal(t, int64(1), snapshot.GenerationStats["read"].Count)
		assert.Equal(t, int64(3), snapshot.Retrieval.TotalResults)
	})

	t.Run("empty retrieval yields the sentinel with in-scope metadata", func(t *testing.T) {
		provider := &scriptedProvider{name: "scripted", replies: map[string]string{
			"fast":     "generate_cypher",
			"accurate": "MATCH (c:Course {name: 'Nieistniejacy'}) RETURN c",
		}}
		store := &fakeGraphStore{records: nil}
		pipeline := newTestPipeline(provider, store, nil)

		result := pipeline.Handle(context.Background(), "Kto uczy nieistniejacego kursu?", "", "")

		assert.Equal(t, NoInformationAnswer, result.Answer)
		assert.Equal(t, "in_scope", result.Metadata.Routing)
		assert.NotEmpty(t, result.Metadata.CypherQuery)
		assert.Empty(t, result.Metadata.ErrorKind)
		assert.NotNil(t, result.Metadata.Context)
	})

	t.Run("provider exhaustion fails closed with error metadata", func(t *testing.T) {
		provider := &scriptedProvider{name: "broken", err: errors.New("upstream down")}
		store := &fakeGraphStore{}
		pipeline := newTestPipeline(provider, store, nil)

		result := pipeline.Handle(context.Background(), "Kto uczy algebry?", "", "")

		assert.Equal(t, NoInformationAnswer, result.Answer)
		assert.Equal(t, "out_of_scope", result.Metadata.Routing)
		assert.Equal(t, "provider_exhausted", result.Metadata.ErrorKind)
		assert.Empty(t, store.queryLog())
	})

	t.Run("store fault converts to sentinel with store_query kind", func(t *testing.T) {
		provider := &scriptedProvider{name: "scripted", replies: map[string]string{
			"fast":     "generate_cypher",
			"accurate": "MATCH (c:Course) RETURN c.name",
		}}
		store := &fakeGraphStore{err: errors.New("connection reset")}
		pipeline := newTestPipeline(provider, store, nil)

		result := pipeline.Handle(context.Background(), "Jakie kursy sa na W13?", "", "")

		assert.Equal(t, NoInformationAnswer, result.Answer)
		assert.Equal(t, "store_query", result.Metadata.ErrorKind)
		assert.Equal(t, "in_scope", result.Metadata.Routing)
	})

	t.Run("malformed generation converts to sentinel with malformed_query kind", func(t *testing.T) {
		provider := &scriptedProvider{name: "scripted", replies: map[string]string{
			"fast":     "generate_cypher",
			"accurate": "MATCH (c:Course RETURN c.name",
		}}
		store := &fakeGraphStore{}
		pipeline := newTestPipeline(provider, store, nil)

		result := pipeline.Handle(context.Background(), "Jakie kursy sa na W13?", "", "")

		assert.Equal(t, NoInformationAnswer, result.Answer)
		assert.Equal(t, "malformed_query", result.Metadata.ErrorKind)
		assert.Empty(t, store.queryLog())
	})
}

func TestPipelineHandleJSON(t *testing.T) {
	provider := &scriptedProvider{name: "scripted", replies: map[string]string{"fast": "end"}}
	pipeline := newTestPipeline(provider, &fakeGraphStore{}, nil)

	out := pipeline.HandleJSON(context.Background(), "Jaka jest pogoda?", "trace-9")

	var result Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, NoInformationAnswer, result.Answer)
	assert.Equal(t, "out_of_scope", result.Metadata.Routing)
	assert.Equal(t, "trace-9", result.Metadata.TraceID)
}
