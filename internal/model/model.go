// Package model holds the crawled-document shapes shared by the pipeline,
// the queue consumer and the HTTP API. The JSON tags mirror the messages
// emitted by the upstream crawler.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Document represents a crawled web page handed to the engine. Documents are
// immutable once received; the engine persists only their derived vectors and
// payloads, never the document itself.
type Document struct {
	URL         string           `json:"url"`
	Title       string           `json:"title"`
	Text        string           `json:"text"`
	CleanText   string           `json:"clean_text"`
	FetchedAt   time.Time        `json:"fetched_at"`
	Status      int              `json:"status"`
	ContentHash string           `json:"content_hash"`
	Metadata    DocumentMetadata `json:"metadata"`
	Chunks      []ContentChunk   `json:"chunks"`
	DreamHints  DreamingHints    `json:"dream_hints"`
}

// DocumentMetadata contains enrichment carried along into vector payloads.
type DocumentMetadata struct {
	Domain      string     `json:"domain"`
	Language    string     `json:"language,omitempty"`
	WordCount   int        `json:"word_count"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Category    string     `json:"category,omitempty"`
}

// ContentChunk is a semantic slice of a document, ordered by Position.
type ContentChunk struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"` // headline, paragraph, quote, list, etc.
	Text       string   `json:"text"`
	Position   int      `json:"position"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
	Sentiment  string   `json:"sentiment,omitempty"`
	Entities   []string `json:"entities,omitempty"`
}

// DreamingHints carries advisory cues for narrative generation. All numeric
// fields live in [0,1]; hints are best-effort and never required.
type DreamingHints struct {
	Surrealism   float64  `json:"surrealism_potential"`
	Themes       []string `json:"themes"`
	Emotions     []string `json:"emotions"`
	Motifs       []string `json:"motifs"`
	Tone         string   `json:"tone"`
	Complexity   float64  `json:"complexity"`
	VisualCues   []string `json:"visual_cues"`
	AudioCues    []string `json:"audio_cues"`
	ColorPalette []string `json:"color_palette,omitempty"`
	Abstractness float64  `json:"abstractness"`
}

// ValidationError reports a single offending field in an inbound event.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid document: field %q %s", e.Field, e.Reason)
}

// DecodeDocument parses an inbound document event. Unknown top-level fields
// are ignored; missing nested fields take their zero values. A malformed
// payload or a missing required field yields an error rather than a partial
// document.
func DecodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	if doc.URL == "" {
		return Document{}, &ValidationError{Field: "url", Reason: "is required"}
	}
	if doc.Status < 0 {
		return Document{}, &ValidationError{Field: "status", Reason: "must not be negative"}
	}
	for i, hint := range []float64{doc.DreamHints.Surrealism, doc.DreamHints.Complexity, doc.DreamHints.Abstractness} {
		if hint < 0 || hint > 1 {
			fields := []string{"dream_hints.surrealism_potential", "dream_hints.complexity", "dream_hints.abstractness"}
			return Document{}, &ValidationError{Field: fields[i], Reason: "must be within [0,1]"}
		}
	}
	return doc, nil
}

// Content returns the text the engine embeds for this document, preferring
// the cleaned extraction when present.
func (d Document) Content() string {
	if d.CleanText != "" {
		return d.CleanText
	}
	return d.Text
}
