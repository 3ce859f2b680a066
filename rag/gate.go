package rag

import (
	"context"
	"log/slog"
	"strings"
)

// Routing is the relevance gate's decision, written exactly once per
// invocation.
type Routing int

const (
	RoutingPending Routing = iota
	RoutingInScope
	RoutingOutOfScope
)

func (r Routing) String() string {
	switch r {
	case RoutingInScope:
		return "in_scope"
	case RoutingOutOfScope:
		return "out_of_scope"
	default:
		return "pending"
	}
}

// RelevanceGate decides whether a question is answerable from the knowledge
// domain. One fast-model call at temperature zero, so repeated identical
// input classifies identically.
//
// When every provider fails the gate applies its failure policy instead of
// raising: closed by default (out of scope), open when FailOpen is set. Fail
// closed keeps a broken upstream from leaking ungrounded answers framed as
// in-scope.
type RelevanceGate struct {
	Chain          *ProviderChain
	Model          string
	PromptTemplate string
	FailOpen       bool
	Logger         *slog.Logger
}

func (g *RelevanceGate) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// Classify returns the routing decision, the raw model output for
// observability metadata, and the provider error when the failure policy was
// applied.
func (g *RelevanceGate) Classify(ctx context.Context, question string, schema Schema) (Routing, string, error) {
	template := g.PromptTemplate
	if template == "" {
		template = defaultGuardrailsPrompt
	}
	prompt := renderPrompt(template, map[string]string{
		"question":  question,
		"nodes":     strings.Join(schema.Entities, ", "),
		"relations": strings.Join(schema.Relationships, ", "),
	})

	out, err := g.Chain.Generate(ctx, ChatRequest{
		Model:       g.Model,
		Prompt:      prompt,
		Temperature: 0,
	})
	if err != nil {
		routing := RoutingOutOfScope
		if g.FailOpen {
			routing = RoutingInScope
		}
		g.logger().WarnContext(ctx, "relevance gate provider failure, applying failure policy",
			"fail_open", g.FailOpen,
			"routing", routing.String(),
			"error", err,
		)
		return routing, "", err
	}

	decision := strings.ToLower(strings.TrimSpace(out))
	if strings.Contains(decision, "generate") {
		return RoutingInScope, decision, nil
	}
	return RoutingOutOfScope, decision, nil
}
