package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/localrag/localrag/internal/log"
	"github.com/localrag/localrag/internal/provider"
	"github.com/localrag/localrag/internal/store"
)

// Schema is the graph vocabulary used by the extraction phase. Inferred
// from a document sample, or the fallback below when inference fails.
type Schema struct {
	EntityTypes       []string `json:"entity_types"`
	RelationshipTypes []string `json:"relationship_types"`
}

// FallbackSchema is used whenever schema inference fails or returns
// something unusable. Generic on purpose.
func FallbackSchema() Schema {
	return Schema{
		EntityTypes:       []string{"Entity", "Concept"},
		RelationshipTypes: []string{"RELATED_TO", "MENTIONS"},
	}
}

const schemaPrompt = `Analyze this document sample and propose a knowledge graph schema for it.

Document sample:
%s

Respond with JSON only, no other text:
{"entity_types": ["..."], "relationship_types": ["..."]}

Use short UpperCamelCase entity types and UPPER_SNAKE_CASE relationship types.`

const extractPrompt = `Extract entities and relationships from this text.

Allowed entity types: %s
Allowed relationship types: %s

Text:
%s

Respond with JSON only, no other text:
{"entities": [{"label": "...", "name": "..."}], "relationships": [{"source": "...", "target": "...", "type": "..."}]}

Only include entities actually named in the text. Relationship source and target must be entity names from the entities list.`

// extractor turns LLM text responses into validated Extractions.
type extractor struct {
	resolved *jsonschema.Resolved
	logger   log.Logger
}

func newExtractor(logger log.Logger) (*extractor, error) {
	schema, err := jsonschema.For[store.Extraction](nil)
	if err != nil {
		return nil, fmt.Errorf("deriving extraction schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving extraction schema: %w", err)
	}
	return &extractor{resolved: resolved, logger: logger}, nil
}

// inferSchema asks the provider for a graph schema over the sample. Any
// failure or unusable answer yields the fallback schema, never an error.
func (e *extractor) inferSchema(ctx context.Context, p provider.Provider, sample string) Schema {
	if strings.TrimSpace(sample) == "" {
		return FallbackSchema()
	}

	resp, err := p.GenerateText(ctx, fmt.Sprintf(schemaPrompt, sample))
	if err != nil {
		e.logger.Warn("schema inference failed, using fallback", "error", err)
		return FallbackSchema()
	}

	var s Schema
	if err := json.Unmarshal([]byte(stripFences(resp)), &s); err != nil {
		e.logger.Warn("schema inference returned malformed JSON, using fallback", "error", err)
		return FallbackSchema()
	}
	if len(s.EntityTypes) == 0 || len(s.RelationshipTypes) == 0 {
		e.logger.Warn("schema inference returned empty schema, using fallback")
		return FallbackSchema()
	}
	return s
}

// extract pulls entities and relationships out of one chunk. Malformed or
// invalid responses skip the chunk rather than failing ingestion.
func (e *extractor) extract(ctx context.Context, p provider.Provider, schema Schema, text string) (store.Extraction, bool) {
	prompt := fmt.Sprintf(extractPrompt,
		strings.Join(schema.EntityTypes, ", "),
		strings.Join(schema.RelationshipTypes, ", "),
		text)

	resp, err := p.GenerateText(ctx, prompt)
	if err != nil {
		e.logger.Debug("chunk extraction failed, skipping", "error", err)
		return store.Extraction{}, false
	}

	raw := stripFences(resp)

	// Validate shape against the derived JSON schema before trusting it.
	var instance any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		e.logger.Debug("chunk extraction returned malformed JSON, skipping", "error", err)
		return store.Extraction{}, false
	}
	if err := e.resolved.Validate(instance); err != nil {
		e.logger.Debug("chunk extraction failed schema validation, skipping", "error", err)
		return store.Extraction{}, false
	}

	var ex store.Extraction
	if err := json.Unmarshal([]byte(raw), &ex); err != nil {
		return store.Extraction{}, false
	}

	ex.Entities = pruneEntities(ex.Entities)
	ex.Relationships = pruneRelationships(ex.Relationships)
	if len(ex.Entities) == 0 && len(ex.Relationships) == 0 {
		return store.Extraction{}, false
	}
	return ex, true
}

func pruneEntities(in []store.Entity) []store.Entity {
	out := in[:0]
	for _, e := range in {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		if e.Label == "" {
			e.Label = "Entity"
		}
		out = append(out, e)
	}
	return out
}

func pruneRelationships(in []store.Relationship) []store.Relationship {
	out := in[:0]
	for _, r := range in {
		if r.Source == "" || r.Target == "" {
			continue
		}
		if r.Type == "" {
			r.Type = "RELATED_TO"
		}
		out = append(out, r)
	}
	return out
}

// stripFences removes a surrounding markdown code fence, which local models
// add even when told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
