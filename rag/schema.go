package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const defaultSchemaTimeout = 3 * time.Second

// SchemaProvider resolves the current graph schema, preferring a live read
// from the store and falling back to the statically configured schema when
// the store is unreachable, times out, or reports zero entity types. The
// static schema is validated at configuration load time, so Resolve never
// fails.
type SchemaProvider struct {
	Store   GraphStore
	Static  Schema
	Timeout time.Duration
	Logger  *slog.Logger
}

func (p *SchemaProvider) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Resolve returns the live schema when it is non-empty, otherwise the static
// one. Idempotent and side-effect-free; results may be cached per invocation
// but not across invocations, since ingestion changes the live schema.
func (p *SchemaProvider) Resolve(ctx context.Context) Schema {
	if p.Store != nil {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = defaultSchemaTimeout
		}
		liveCtx, cancel := context.WithTimeout(ctx, timeout)
		live, err := p.liveSchema(liveCtx)
		cancel()
		switch {
		case err != nil:
			p.logger().DebugContext(ctx, "live schema read failed, using static schema", "error", err)
		case live.Empty():
			p.logger().DebugContext(ctx, "live schema has no entity types, using static schema")
		default:
			return live
		}
	}

	static := p.Static
	static.Source = SchemaSourceStatic
	return static
}

func (p *SchemaProvider) liveSchema(ctx context.Context) (Schema, error) {
	labels, err := p.queryNames(ctx, "CALL db.labels() YIELD label RETURN label", "label")
	if err != nil {
		return Schema{}, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}
	relTypes, err := p.queryNames(ctx, "CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType", "relationshipType")
	if err != nil {
		return Schema{}, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}
	return Schema{Entities: labels, Relationships: relTypes, Source: SchemaSourceLive}, nil
}

func (p *SchemaProvider) queryNames(ctx context.Context, cypher, column string) ([]string, error) {
	records, err := p.Store.Query(ctx, cypher)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(records))
	for _, record := range records {
		if name, ok := record[column].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
