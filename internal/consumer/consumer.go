// Package consumer drives queue-fed ingestion: it reads dream-seed events
// from the seeds stream, runs each through the pipeline and acknowledges the
// entry once the pipeline call has returned. Delivery is at-least-once; the
// pipeline's idempotent upserts make redelivery safe.
package consumer

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/raj-saurav-sc/dream-crawler/internal/model"
	"github.com/raj-saurav-sc/dream-crawler/internal/pipeline"
	"github.com/raj-saurav-sc/dream-crawler/internal/queue/streams"
)

var (
	seedsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dreamer_seeds_processed_total",
		Help: "Dream-seed events successfully ingested.",
	})
	seedsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dreamer_seeds_rejected_total",
		Help: "Dream-seed events dropped due to a malformed payload.",
	})
	seedsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dreamer_seeds_failed_total",
		Help: "Dream-seed events whose pipeline call failed.",
	})
	dreamsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dreamer_dreams_generated_total",
		Help: "Narratives generated and stored from seed events.",
	})
)

// SeedPipeline captures the pipeline operations the processor depends on.
type SeedPipeline interface {
	IngestDocument(ctx context.Context, doc model.Document, documentID string) error
	Dream(ctx context.Context, doc model.Document, documentID string) (pipeline.DreamResult, error)
}

// reclaimInterval controls how often pending entries abandoned by dead
// consumers are auto-claimed.
const reclaimInterval = time.Minute

// Processor consumes the seeds stream until its context is cancelled.
type Processor struct {
	logger   *log.Logger
	pipeline SeedPipeline
	consumer *streams.Consumer
	stream   string
	dreaming bool
}

// NewProcessor constructs a Processor. When dreaming is false, seeds are
// ingested without narrative generation.
func NewProcessor(logger *log.Logger, p SeedPipeline, cons *streams.Consumer, stream string, dreaming bool) *Processor {
	if stream == "" {
		stream = streams.StreamDreamSeeds
	}
	return &Processor{logger: logger, pipeline: p, consumer: cons, stream: stream, dreaming: dreaming}
}

// Start blocks, continuously processing seed events until the context is
// cancelled. Errors on individual events are handled locally; only a
// cancelled context ends the loop.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Printf("seed processor starting; consuming stream %s (dreaming=%v)", p.stream, p.dreaming)

	lastReclaim := time.Now()
	reclaimStart := "0-0"

	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("seed processor stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := p.consumer.Read(ctx, p.stream, streams.WithBlock(5*time.Second), streams.WithCount(16))
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Printf("seed processor stopping: %v", ctx.Err())
				return nil
			}
			p.logger.Printf("error reading stream: %v", err)
			time.Sleep(time.Second)
			continue
		}

		if time.Since(lastReclaim) >= reclaimInterval {
			claimed, next, err := p.consumer.AutoClaim(ctx, p.stream, reclaimInterval, reclaimStart, 16)
			if err != nil {
				p.logger.Printf("warn: auto-claim failed: %v", err)
			} else {
				reclaimStart = next
				msgs = append(msgs, claimed...)
			}
			lastReclaim = time.Now()
		}

		for _, msg := range msgs {
			p.handleSeed(ctx, msg)
			if err := p.consumer.Ack(ctx, p.stream, msg.ID); err != nil {
				p.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
			}
		}
	}
}

// handleSeed processes a single seed event. A malformed event is rejected
// and logged; processing continues with the next event. The entry is always
// acknowledged by the caller once this returns.
func (p *Processor) handleSeed(ctx context.Context, msg streams.Message) {
	doc, err := model.DecodeDocument(msg.Envelope.Data)
	if err != nil {
		p.logger.Printf("rejecting seed %s: %v", msg.Envelope.EventID, err)
		seedsRejected.Inc()
		return
	}

	documentID := DocumentID(doc)
	p.logger.Printf("processing dream seed for %s (surrealism %.2f)", doc.URL, doc.DreamHints.Surrealism)

	if err := p.pipeline.IngestDocument(ctx, doc, documentID); err != nil {
		p.logger.Printf("error ingesting document %s: %v", documentID, err)
		seedsFailed.Inc()
		return
	}
	seedsProcessed.Inc()

	if !p.dreaming {
		return
	}
	if _, err := p.pipeline.Dream(ctx, doc, documentID); err != nil {
		if errors.Is(err, pipeline.ErrGeneratorUnavailable) {
			p.logger.Printf("warn: dreaming requested but no generator configured; skipping")
			return
		}
		p.logger.Printf("error dreaming document %s: %v", documentID, err)
		seedsFailed.Inc()
		return
	}
	dreamsGenerated.Inc()
}

// DocumentID derives a stable identifier for a seed document so redelivered
// events upsert the same record. The crawler's content hash wins when
// present; otherwise the URL is hashed into a name-based UUID.
func DocumentID(doc model.Document) string {
	if doc.ContentHash != "" {
		return doc.ContentHash
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(doc.URL)).String()
}
