// Package dream generates short surreal narratives from crawled documents
// using a local language model. When no model is available the generator
// degrades to deterministic placeholder output instead of failing.
package dream

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/raj-saurav-sc/dream-crawler/internal/model"
)

// Capability reports which generation backend was resolved at construction.
type Capability string

const (
	GenModel Capability = "model"
	GenStub  Capability = "stub"
)

// Config selects the generation backend.
type Config struct {
	Disabled  bool
	ModelPath string
	BaseURL   string
	Library   string
}

// Generator produces narratives for documents. Its operating mode is fixed
// at construction and never re-evaluated per call.
type Generator struct {
	capability Capability
	runner     Runner
	logger     *log.Logger
}

// New resolves the generation capability through an ordered precondition
// ladder and always returns a usable Generator; the only question is whether
// it runs a model or the stub. Each failing precondition short-circuits to
// stub mode with a logged warning.
func New(ctx context.Context, cfg Config, logger *log.Logger) *Generator {
	g := &Generator{capability: GenStub, logger: logger}

	if cfg.Disabled {
		logger.Printf("warn: narrative generation disabled by configuration; using stub output")
		return g
	}
	if cfg.ModelPath == "" {
		logger.Printf("warn: no narrative model path configured; using stub output")
		return g
	}
	runner := runnerFor(cfg.Library, cfg.BaseURL)
	if runner == nil {
		logger.Printf("warn: generation backend %q not available; using stub output", cfg.Library)
		return g
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		logger.Printf("warn: model file not found at %s; using stub output", cfg.ModelPath)
		return g
	}
	if err := runner.Load(ctx, cfg.ModelPath, DefaultParams); err != nil {
		logger.Printf("warn: failed to load narrative model (%v); using stub output", err)
		return g
	}

	logger.Printf("narrative model loaded from %s", cfg.ModelPath)
	g.capability = GenModel
	g.runner = runner
	return g
}

// Capability reports the resolved generation backend.
func (g *Generator) Capability() Capability { return g.capability }

// Generate returns a surreal narrative for the document. Inference failures
// are logged and replaced with placeholder output; Generate never fails.
func (g *Generator) Generate(ctx context.Context, doc model.Document) string {
	prompt := buildPrompt(doc)
	if g.capability != GenModel {
		identity := doc.Title
		if identity == "" {
			identity = doc.URL
		}
		return fmt.Sprintf(
			"A lucid fragment drifts across %s, where ideas echo like constellations. "+
				"Shadows of meaning cross a quiet lake; symbols rearrange until the night exhales a metaphor.",
			identity)
	}

	out, err := g.runner.Complete(ctx, prompt)
	if err != nil {
		g.logger.Printf("error during model inference: %v", err)
		return "A dream flickered, but was lost in the static; the moon kept its counsel."
	}
	return strings.TrimSpace(out)
}

// maxPromptChunks caps how much source text reaches the model.
const maxPromptChunks = 4

// buildPrompt renders the fixed instruction template around the document's
// title, hints and up to the first four headline/paragraph chunks in their
// original order.
func buildPrompt(doc model.Document) string {
	var excerpts []string
	for _, chunk := range doc.Chunks {
		if chunk.Type != "headline" && chunk.Type != "paragraph" {
			continue
		}
		excerpts = append(excerpts, "- "+chunk.Text)
		if len(excerpts) >= maxPromptChunks {
			break
		}
	}

	return strings.TrimSpace(fmt.Sprintf(`
You are a surrealist poet. Your task is to read the provided web page content and generate a short, surreal, dream-like narrative based on it.

**Source Content Analysis:**
- Title: %s
- Key Themes: %s
- Detected Motifs: %s

**Source Text Snippets:**
%s

**Your Task:**
Weave these elements into a strange and evocative dream narrative. The narrative should be abstract and metaphorical, not a literal summary. Write a single, dense paragraph.

**Dream Narrative:**
`, doc.Title, strings.Join(doc.DreamHints.Themes, ", "), strings.Join(doc.DreamHints.Motifs, ", "), strings.Join(excerpts, "\n")))
}
