package consumer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/raj-saurav-sc/dream-crawler/internal/model"
	"github.com/raj-saurav-sc/dream-crawler/internal/pipeline"
	"github.com/raj-saurav-sc/dream-crawler/internal/queue/streams"
)

type fakePipeline struct {
	ingested []string
	dreamed  []string
	dreamErr error
}

func (f *fakePipeline) IngestDocument(ctx context.Context, doc model.Document, documentID string) error {
	f.ingested = append(f.ingested, documentID)
	return nil
}

func (f *fakePipeline) Dream(ctx context.Context, doc model.Document, documentID string) (pipeline.DreamResult, error) {
	if f.dreamErr != nil {
		return pipeline.DreamResult{}, f.dreamErr
	}
	f.dreamed = append(f.dreamed, documentID)
	return pipeline.DreamResult{DreamID: "dream-1", Narrative: "n", Confidence: 0.85}, nil
}

func seedMessage(t *testing.T, doc map[string]interface{}) streams.Message {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	return streams.Message{
		ID: "1-0",
		Envelope: streams.Envelope{
			EventID:        "evt-1",
			EventType:      streams.EventDreamSeed,
			OccurredAt:     time.Now().UTC(),
			PayloadVersion: "v1",
			Data:           data,
		},
	}
}

func newTestProcessor(p SeedPipeline, dreaming bool) *Processor {
	return NewProcessor(log.New(io.Discard, "", 0), p, nil, "", dreaming)
}

func TestHandleSeedIngestsAndDreams(t *testing.T) {
	fp := &fakePipeline{}
	proc := newTestProcessor(fp, true)

	proc.handleSeed(context.Background(), seedMessage(t, map[string]interface{}{
		"url":          "https://example.com/a",
		"title":        "Example",
		"text":         "body",
		"content_hash": "hash-1",
	}))

	if len(fp.ingested) != 1 || fp.ingested[0] != "hash-1" {
		t.Fatalf("unexpected ingests: %v", fp.ingested)
	}
	if len(fp.dreamed) != 1 || fp.dreamed[0] != "hash-1" {
		t.Fatalf("unexpected dreams: %v", fp.dreamed)
	}
}

func TestHandleSeedWithoutDreaming(t *testing.T) {
	fp := &fakePipeline{}
	proc := newTestProcessor(fp, false)

	proc.handleSeed(context.Background(), seedMessage(t, map[string]interface{}{
		"url": "https://example.com/a",
	}))

	if len(fp.ingested) != 1 {
		t.Fatalf("expected one ingest, got %d", len(fp.ingested))
	}
	if len(fp.dreamed) != 0 {
		t.Fatalf("dreaming disabled but Dream was called")
	}
}

func TestHandleSeedRejectsMalformedDocument(t *testing.T) {
	fp := &fakePipeline{}
	proc := newTestProcessor(fp, true)

	// No url: the document fails validation and must not reach the pipeline.
	proc.handleSeed(context.Background(), seedMessage(t, map[string]interface{}{
		"title": "nameless",
	}))

	if len(fp.ingested) != 0 || len(fp.dreamed) != 0 {
		t.Fatalf("malformed seed reached the pipeline: %v %v", fp.ingested, fp.dreamed)
	}
}

func TestHandleSeedToleratesMissingGenerator(t *testing.T) {
	fp := &fakePipeline{dreamErr: pipeline.ErrGeneratorUnavailable}
	proc := newTestProcessor(fp, true)

	proc.handleSeed(context.Background(), seedMessage(t, map[string]interface{}{
		"url": "https://example.com/a",
	}))

	// Ingestion still counts even when no generator is configured.
	if len(fp.ingested) != 1 {
		t.Fatalf("expected one ingest, got %d", len(fp.ingested))
	}
}

func TestDocumentIDPrefersContentHash(t *testing.T) {
	doc := model.Document{URL: "https://example.com/a", ContentHash: "hash-1"}
	if got := DocumentID(doc); got != "hash-1" {
		t.Fatalf("expected content hash, got %q", got)
	}
}

func TestDocumentIDStableForURL(t *testing.T) {
	a := DocumentID(model.Document{URL: "https://example.com/a"})
	b := DocumentID(model.Document{URL: "https://example.com/a"})
	c := DocumentID(model.Document{URL: "https://example.com/b"})
	if a != b {
		t.Fatalf("same url produced different ids: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("different urls produced the same id: %s", a)
	}
}
