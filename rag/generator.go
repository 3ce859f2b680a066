package rag

import (
	"context"
	"log/slog"
	"strings"
)

// approxCharsPerToken is the heuristic used to keep prompts under the
// provider-imposed token ceiling. Intentionally conservative.
const approxCharsPerToken = 4

const defaultTokenLimit = 16000

// QueryGenerator turns questions into bounded read queries and document text
// into batches of mutation statements. Output never leaves the generator
// without passing through the query safety guard.
type QueryGenerator struct {
	Chain      *ProviderChain
	Model      string
	MaxResults int

	// TokenLimit caps the prompt size for batch generation. Oversized input
	// text is chunked, never submitted whole.
	TokenLimit int

	SearchPrompt string
	InsertPrompt string

	Logger *slog.Logger
}

func (g *QueryGenerator) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// Generate produces one safety-guarded read query for the question. The
// returned query always carries a LIMIT of at most MaxResults.
func (g *QueryGenerator) Generate(ctx context.Context, question string, schema Schema) (string, error) {
	template := g.SearchPrompt
	if template == "" {
		template = defaultCypherSearchPrompt
	}
	prompt := renderPrompt(template, map[string]string{
		"question": question,
		"schema":   schemaPromptText(schema),
	})

	out, err := g.Chain.Generate(ctx, ChatRequest{
		Model:       g.Model,
		Prompt:      prompt,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}

	guarded, err := EnforceBound(stripCodeFences(out), g.MaxResults)
	if err != nil {
		g.logger().WarnContext(ctx, "discarding malformed generated query",
			"error", err,
			"raw_output", truncateForError(out),
		)
		return "", err
	}
	return guarded, nil
}

// GenerateBatch produces an ordered sequence of validated mutation statements
// from document text. Text that would exceed the prompt token budget is split
// and the per-piece batches concatenated in order. Non-ASCII Polish letters
// are transliterated deterministically, and node variables are rewritten to
// be unique across the whole batch.
func (g *QueryGenerator) GenerateBatch(ctx context.Context, text string, schema Schema) ([]string, error) {
	template := g.InsertPrompt
	if template == "" {
		template = defaultCypherInsertPrompt
	}

	tokenLimit := g.TokenLimit
	if tokenLimit <= 0 {
		tokenLimit = defaultTokenLimit
	}

	// Budget for the context placeholder: whole limit minus the template and
	// schema overhead, floor at one chunk of 500 bytes so tiny limits still
	// make progress.
	overhead := approxTokens(template) + approxTokens(schemaPromptText(schema))
	budgetBytes := (tokenLimit - overhead) * approxCharsPerToken
	if budgetBytes < 500 {
		budgetBytes = 500
	}

	pieces := TextChunker{ChunkSize: budgetBytes}.Split(text)
	if len(pieces) > 1 {
		g.logger().InfoContext(ctx, "input text exceeds prompt budget, chunking",
			"pieces", len(pieces),
			"budget_bytes", budgetBytes,
		)
	}

	var statements []string
	for _, piece := range pieces {
		prompt := renderPrompt(template, map[string]string{
			"context":   piece,
			"nodes":     strings.Join(schema.Entities, ", "),
			"relations": strings.Join(schema.Relationships, ", "),
		})

		out, err := g.Chain.Generate(ctx, ChatRequest{
			Model:       g.Model,
			Prompt:      prompt,
			Temperature: 0,
		})
		if err != nil {
			return nil, err
		}

		for _, stmt := range SplitBatch(stripCodeFences(out)) {
			stmt = transliteratePolish(stmt)
			if err := ValidateStatement(stmt); err != nil {
				g.logger().WarnContext(ctx, "discarding invalid generated statement",
					"error", err,
					"statement", truncateForError(stmt),
				)
				continue
			}
			statements = append(statements, stmt)
		}
	}

	return UniqueVariables(statements), nil
}

// polishReplacer maps Polish diacritics to their closest ASCII letters. The
// prompt asks the model for ASCII output, but the rule is deterministic and
// enforced here rather than left to model discretion.
var polishReplacer = strings.NewReplacer(
	"ą", "a", "ć", "c", "ę", "e", "ł", "l", "ń", "n",
	"ó", "o", "ś", "s", "ź", "z", "ż", "z",
	"Ą", "A", "Ć", "C", "Ę", "E", "Ł", "L", "Ń", "N",
	"Ó", "O", "Ś", "S", "Ź", "Z", "Ż", "Z",
)

func transliteratePolish(s string) string {
	return polishReplacer.Replace(s)
}

// stripCodeFences removes markdown code fences that chat models wrap around
// query output despite instructions not to.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	// drop a language tag like "cypher" on the opening fence line
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(trimmed[:idx])
		if firstLine != "" && !strings.ContainsAny(firstLine, " \t({[") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func approxTokens(s string) int {
	return (len(s) + approxCharsPerToken - 1) / approxCharsPerToken
}
