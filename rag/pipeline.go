// pipeline.go defines the question-answering state machine.
//
// States:
//
//	start → relevance_check → cypher_generation → retrieval → respond
//	                        ↘ reject
//
// respond and reject are terminal. relevance_check routes to
// cypher_generation only when the gate classifies the question in scope;
// otherwise to reject, which answers with the fixed sentinel without any
// model or store call.
//
// State contract:
//
//	Question   — input, immutable after creation
//	Routing    — written once by the relevance gate
//	GeneratedQuery — written once by the query generator
//	Context    — written once by the retrieval executor
//	Answer     — written once by the terminal step
//
// Each step receives the previous State by value and returns a new one, so a
// step can never observe a field its producer has not written yet. State
// lives for exactly one invocation; concurrent invocations share nothing.
package rag

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// State is the unit of work threaded through the pipeline.
type State struct {
	Question       string
	Context        []map[string]any
	Answer         string
	Routing        Routing
	GeneratedQuery string

	// correlation identifiers, passed through unchanged and never interpreted
	SessionID string
	TraceID   string
}

// ResultMetadata distinguishes rejection from empty retrieval and carries the
// failure kind when a node fault was converted at the boundary.
type ResultMetadata struct {
	GuardrailDecision string           `json:"guardrail_decision,omitempty"`
	Routing           string           `json:"routing"`
	CypherQuery       string           `json:"cypher_query,omitempty"`
	Context           []map[string]any `json:"context"`
	ErrorKind         string           `json:"error_kind,omitempty"`
	TraceID           string           `json:"trace_id,omitempty"`
}

// Result is the structured answer returned to the tool-serving caller. The
// answer is either the JSON-encoded context or the fixed sentinel; callers
// never receive a raw internal error.
type Result struct {
	Answer   string         `json:"answer"`
	Metadata ResultMetadata `json:"metadata"`
}

// Pipeline wires the gate, generator, and executor into the state machine.
type Pipeline struct {
	Schemas   *SchemaProvider
	Gate      *RelevanceGate
	Generator *QueryGenerator
	Executor  *RetrievalExecutor
	Metrics   PipelineMetrics
	Logger    *slog.Logger
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) metrics() PipelineMetrics {
	if p.Metrics != nil {
		return p.Metrics
	}
	return NoopPipelineMetrics{}
}

// Handle runs one question through the state machine. It always returns a
// well-formed Result; node faults are converted into the sentinel plus error
// metadata at this boundary.
func (p *Pipeline) Handle(ctx context.Context, question, sessionID, traceID string) *Result {
	state := State{
		Question:  question,
		Routing:   RoutingPending,
		SessionID: sessionID,
		TraceID:   traceID,
	}

	schema := p.Schemas.Resolve(ctx)

	state, decision, gateErr := p.relevanceCheck(ctx, state, schema)
	if state.Routing != RoutingInScope {
		return p.reject(ctx, state, decision, gateErr)
	}

	state, err := p.generateCypher(ctx, state, schema)
	if err != nil {
		return p.reject(ctx, state, decision, err)
	}

	state, err = p.retrieve(ctx, state)
	if err != nil {
		return p.reject(ctx, state, decision, err)
	}

	return p.respond(ctx, state, decision)
}

// HandleJSON is the entry point consumed by the tool-serving layer: a JSON
// string holding either the context payload or the sentinel.
func (p *Pipeline) HandleJSON(ctx context.Context, question, traceID string) string {
	result := p.Handle(ctx, question, "", traceID)
	encoded, err := json.Marshal(result)
	if err != nil {
		// Result only holds strings and decoded store records; if those stop
		// marshaling, fall back to the bare sentinel.
		p.logger().ErrorContext(ctx, "marshal pipeline result", "error", err)
		return `{"answer":` + jsonString(NoInformationAnswer) + `}`
	}
	return string(encoded)
}

func (p *Pipeline) relevanceCheck(ctx context.Context, state State, schema Schema) (State, string, error) {
	start := time.Now()
	routing, decision, err := p.Gate.Classify(ctx, state.Question, schema)
	state.Routing = routing
	p.metrics().RecordGate(routing.String(), time.Since(start).Milliseconds(), err)
	p.logger().InfoContext(ctx, "relevance check",
		"routing", routing.String(),
		"decision", decision,
		"trace_id", state.TraceID,
	)
	return state, decision, err
}

func (p *Pipeline) generateCypher(ctx context.Context, state State, schema Schema) (State, error) {
	start := time.Now()
	query, err := p.Generator.Generate(ctx, state.Question, schema)
	p.metrics().RecordGeneration("read", time.Since(start).Milliseconds(), err)
	if err != nil {
		return state, err
	}
	state.GeneratedQuery = query
	return state, nil
}

func (p *Pipeline) retrieve(ctx context.Context, state State) (State, error) {
	start := time.Now()
	records, err := p.Executor.Execute(ctx, state.GeneratedQuery)
	p.metrics().RecordRetrieval(time.Since(start).Milliseconds(), len(records), err)
	if err != nil {
		return state, err
	}
	state.Context = records
	return state, nil
}

// respond packages the retrieved context. Empty successful retrieval yields
// the sentinel answer, indistinguishable from rejection at the payload level;
// metadata tells them apart.
func (p *Pipeline) respond(ctx context.Context, state State, decision string) *Result {
	metadata := ResultMetadata{
		GuardrailDecision: decision,
		Routing:           state.Routing.String(),
		CypherQuery:       state.GeneratedQuery,
		Context:           state.Context,
		TraceID:           state.TraceID,
	}
	if metadata.Context == nil {
		metadata.Context = []map[string]any{}
	}

	if len(state.Context) == 0 {
		state.Answer = NoInformationAnswer
		return &Result{Answer: state.Answer, Metadata: metadata}
	}

	encoded, err := json.MarshalIndent(state.Context, "", "  ")
	if err != nil {
		p.logger().ErrorContext(ctx, "marshal retrieved context", "error", err, "trace_id", state.TraceID)
		state.Answer = NoInformationAnswer
		metadata.ErrorKind = "internal"
		return &Result{Answer: state.Answer, Metadata: metadata}
	}
	state.Answer = string(encoded)
	return &Result{Answer: state.Answer, Metadata: metadata}
}

// reject is the terminal state for out-of-scope questions and converted node
// faults.
func (p *Pipeline) reject(ctx context.Context, state State, decision string, cause error) *Result {
	state.Answer = NoInformationAnswer
	metadata := ResultMetadata{
		GuardrailDecision: decision,
		Routing:           state.Routing.String(),
		CypherQuery:       state.GeneratedQuery,
		Context:           []map[string]any{},
		ErrorKind:         errorKind(cause),
		TraceID:           state.TraceID,
	}
	if cause != nil {
		p.logger().WarnContext(ctx, "pipeline terminated with fault",
			"error_kind", metadata.ErrorKind,
			"error", cause,
			"trace_id", state.TraceID,
		)
	}
	return &Result{Answer: state.Answer, Metadata: metadata}
}

func jsonString(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(encoded)
}
