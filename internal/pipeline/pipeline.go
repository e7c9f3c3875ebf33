// Package pipeline orchestrates the document flow: embed, index, and
// optionally dream. It owns no state of its own; everything durable lives in
// the vector index.
package pipeline

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/raj-saurav-sc/dream-crawler/internal/dream"
	"github.com/raj-saurav-sc/dream-crawler/internal/embed"
	"github.com/raj-saurav-sc/dream-crawler/internal/index"
	"github.com/raj-saurav-sc/dream-crawler/internal/model"
)

// ErrGeneratorUnavailable is returned by Dream when no narrative generator
// was configured for this pipeline. It is distinct from a generation
// failure: a stub generator still generates.
var ErrGeneratorUnavailable = errors.New("narrative generator unavailable")

// DefaultConfidence is attached to every stored dream; the engine does not
// compute a real confidence score.
const DefaultConfidence = 0.85

// VectorIndex captures the index operations the pipeline depends on.
type VectorIndex interface {
	Ensure(ctx context.Context, name string, dimension int, metric index.Metric) error
	Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]interface{}) error
	Search(ctx context.Context, collection string, vector []float32, limit int, filter map[string]interface{}) ([]index.Hit, error)
	FindSimilarTo(ctx context.Context, collection, id string, limit int) ([]index.Hit, error)
	CollectionStats(ctx context.Context, collection string) (index.Stats, error)
}

// DreamResult is returned by Dream after the narrative has been stored.
type DreamResult struct {
	DreamID    string  `json:"dream_id"`
	Narrative  string  `json:"narrative"`
	Confidence float64 `json:"confidence"`
}

// Pipeline wires the embedder, the vector index and an optional narrative
// generator. All operations are idempotent with respect to re-delivery of
// the same identifiers.
type Pipeline struct {
	index     VectorIndex
	embedder  embed.Embedder
	generator *dream.Generator
	logger    *log.Logger
}

// New constructs a Pipeline. generator may be nil for deployments that only
// ingest and search.
func New(ix VectorIndex, embedder embed.Embedder, generator *dream.Generator, logger *log.Logger) *Pipeline {
	return &Pipeline{index: ix, embedder: embedder, generator: generator, logger: logger}
}

// EnsureCollections creates both collections sized to the embedder's
// dimension. Safe to call on every startup.
func (p *Pipeline) EnsureCollections(ctx context.Context) error {
	for _, name := range []string{index.CollectionDocuments, index.CollectionDreams} {
		if err := p.index.Ensure(ctx, name, p.embedder.Dimension(), index.MetricCosine); err != nil {
			return err
		}
	}
	return nil
}

// IngestDocument embeds the document and upserts it into the documents
// collection keyed by documentID.
func (p *Pipeline) IngestDocument(ctx context.Context, doc model.Document, documentID string) error {
	vector := p.embedder.Embed(ctx, doc.Title+" "+doc.Content())
	payload := map[string]interface{}{
		"url":      doc.URL,
		"title":    doc.Title,
		"content":  doc.Content(),
		"metadata": doc.Metadata,
		"type":     "document",
	}
	if err := p.index.Upsert(ctx, index.CollectionDocuments, documentID, vector, payload); err != nil {
		return err
	}
	p.logger.Printf("stored document %s in vector index", documentID)
	return nil
}

// Dream generates a narrative for the document, embeds it and stores it in
// the dreams collection under a freshly generated dream id.
func (p *Pipeline) Dream(ctx context.Context, doc model.Document, documentID string) (DreamResult, error) {
	if p.generator == nil {
		return DreamResult{}, ErrGeneratorUnavailable
	}

	narrative := p.generator.Generate(ctx, doc)
	dreamID := uuid.NewString()
	vector := p.embedder.Embed(ctx, narrative)

	payload := map[string]interface{}{
		"doc_id":     documentID,
		"narrative":  narrative,
		"confidence": DefaultConfidence,
		"metadata": map[string]interface{}{
			"document_id":  documentID,
			"url":          doc.URL,
			"title":        doc.Title,
			"generated_at": time.Now().UTC().Format(time.RFC3339),
		},
		"type": "dream",
	}
	if err := p.index.Upsert(ctx, index.CollectionDreams, dreamID, vector, payload); err != nil {
		return DreamResult{}, err
	}
	p.logger.Printf("stored dream %s for document %s", dreamID, documentID)
	return DreamResult{DreamID: dreamID, Narrative: narrative, Confidence: DefaultConfidence}, nil
}

// SearchDocuments embeds the query and searches the documents collection.
func (p *Pipeline) SearchDocuments(ctx context.Context, query string, limit int, filter map[string]interface{}) ([]index.Hit, error) {
	vector := p.embedder.Embed(ctx, query)
	return p.index.Search(ctx, index.CollectionDocuments, vector, limit, filter)
}

// SearchDreams embeds the query and searches the dreams collection.
func (p *Pipeline) SearchDreams(ctx context.Context, query string, limit int) ([]index.Hit, error) {
	vector := p.embedder.Embed(ctx, query)
	return p.index.Search(ctx, index.CollectionDreams, vector, limit, nil)
}

// SimilarDreams finds dreams nearest to an already-stored dream, excluding
// the dream itself.
func (p *Pipeline) SimilarDreams(ctx context.Context, dreamID string, limit int) ([]index.Hit, error) {
	return p.index.FindSimilarTo(ctx, index.CollectionDreams, dreamID, limit)
}

// Stats aggregates per-collection counts for observability.
func (p *Pipeline) Stats(ctx context.Context) (map[string]index.Stats, error) {
	out := make(map[string]index.Stats, 2)
	for _, name := range []string{index.CollectionDocuments, index.CollectionDreams} {
		stats, err := p.index.CollectionStats(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = stats
	}
	return out, nil
}
