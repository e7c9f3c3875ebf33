// Package index provides durable similarity search over pgvector, partitioned
// into named collections. Each collection is one Postgres table plus a row in
// a catalog recording its configured dimension and metric.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"
)

// The two collections owned by the engine.
const (
	CollectionDocuments = "documents"
	CollectionDreams    = "dreams"
)

// Metric names the similarity function configured for a collection.
type Metric string

// MetricCosine scores results as 1 - cosine distance (pgvector's <=>).
const MetricCosine Metric = "cosine"

var collectionNameRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Record is a stored vector with its payload.
type Record struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// Hit is a search result ordered by descending similarity score. Ties share
// a score; their relative order is the backend's native row order, which
// Postgres does not define for equal distances.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]interface{}
}

// Stats aggregates per-collection counts for observability. With pgvector
// every row holds exactly one vector, so Count and VectorCount are equal.
type Stats struct {
	Count       int64 `json:"count"`
	VectorCount int64 `json:"vectors_count"`
}

// Index is a two-collection vector store backed by Postgres/pgvector.
// Concurrent calls are safe; identical ids resolve last-writer-wins.
type Index struct {
	DB     *sql.DB
	logger *log.Logger

	mu   sync.RWMutex
	dims map[string]int
}

// New wraps an existing database handle.
func New(db *sql.DB, logger *log.Logger) *Index {
	return &Index{DB: db, logger: logger, dims: make(map[string]int)}
}

// NewWithDSN connects to Postgres using an explicit DSN.
func NewWithDSN(ctx context.Context, dsn string, logger *log.Logger) (*Index, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db, logger), nil
}

// Ensure creates the collection if it is absent and is a no-op when it
// already exists with the requested configuration. A pre-existing collection
// whose recorded dimension or metric differs from the request is a hard
// error: continuing would only defer the failure to the first upsert, with a
// far worse diagnostic.
func (ix *Index) Ensure(ctx context.Context, name string, dimension int, metric Metric) error {
	if !collectionNameRE.MatchString(name) {
		return invalidInput("ensure", "invalid collection name %q", name)
	}
	if dimension <= 0 {
		return invalidInput("ensure", "dimension must be positive, got %d", dimension)
	}
	if metric == "" {
		metric = MetricCosine
	}

	if _, err := ix.DB.ExecContext(ctx, `
INSERT INTO collections (name, dimension, metric, created_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (name) DO NOTHING;
`, name, dimension, string(metric)); err != nil {
		return unavailable("ensure", err)
	}

	var (
		storedDim    int
		storedMetric string
	)
	if err := ix.DB.QueryRowContext(ctx,
		`SELECT dimension, metric FROM collections WHERE name=$1`, name,
	).Scan(&storedDim, &storedMetric); err != nil {
		return unavailable("ensure", err)
	}
	if storedDim != dimension || storedMetric != string(metric) {
		return invalidInput("ensure",
			"collection %q exists with dimension=%d metric=%s, requested dimension=%d metric=%s; drop or migrate the collection before changing its configuration",
			name, storedDim, storedMetric, dimension, metric)
	}

	if _, err := ix.DB.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id         TEXT PRIMARY KEY,
    embedding  vector(%d) NOT NULL,
    payload    JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`, tableName(name), dimension)); err != nil {
		return unavailable("ensure", err)
	}

	ix.mu.Lock()
	ix.dims[name] = dimension
	ix.mu.Unlock()
	ix.logger.Printf("collection %q ready (dimension=%d metric=%s)", name, dimension, metric)
	return nil
}

// Upsert inserts or replaces the record at id. A vector whose length differs
// from the collection's configured dimension is rejected before reaching the
// backend.
func (ix *Index) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]interface{}) error {
	if id == "" {
		return invalidInput("upsert", "record id is required")
	}
	dim, err := ix.dimension(ctx, collection)
	if err != nil {
		return err
	}
	if len(vector) != dim {
		return invalidInput("upsert", "vector has %d dimensions, collection %q expects %d", len(vector), collection, dim)
	}
	vectorLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return invalidInput("upsert", "%v", err)
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return invalidInput("upsert", "marshal payload: %v", err)
	}

	if _, err := ix.DB.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (id, embedding, payload, updated_at)
VALUES ($1,$2::vector,$3,NOW())
ON CONFLICT (id) DO UPDATE SET
  embedding = EXCLUDED.embedding,
  payload = EXCLUDED.payload,
  updated_at = NOW();
`, tableName(collection)), id, vectorLiteral, payloadBytes); err != nil {
		return unavailable("upsert", err)
	}
	return nil
}

// Search returns up to limit records ordered by descending cosine similarity
// against the query vector. The filter, when non-empty, is a conjunction of
// exact top-level key->value payload matches, evaluated with jsonb
// containment.
func (ix *Index) Search(ctx context.Context, collection string, vector []float32, limit int, filter map[string]interface{}) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	dim, err := ix.dimension(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, invalidInput("search", "query vector has %d dimensions, collection %q expects %d", len(vector), collection, dim)
	}
	vectorLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, invalidInput("search", "%v", err)
	}

	var rows *sql.Rows
	if len(filter) > 0 {
		filterBytes, err := json.Marshal(filter)
		if err != nil {
			return nil, invalidInput("search", "marshal filter: %v", err)
		}
		rows, err = ix.DB.QueryContext(ctx, fmt.Sprintf(`
SELECT id, payload, 1 - (embedding <=> $1::vector) AS score
FROM %s
WHERE payload @> $2::jsonb
ORDER BY embedding <=> $1::vector
LIMIT $3
`, tableName(collection)), vectorLiteral, filterBytes, limit)
		if err != nil {
			return nil, unavailable("search", err)
		}
	} else {
		rows, err = ix.DB.QueryContext(ctx, fmt.Sprintf(`
SELECT id, payload, 1 - (embedding <=> $1::vector) AS score
FROM %s
ORDER BY embedding <=> $1::vector
LIMIT $2
`, tableName(collection)), vectorLiteral, limit)
		if err != nil {
			return nil, unavailable("search", err)
		}
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			hit          Hit
			payloadBytes []byte
		)
		if err := rows.Scan(&hit.ID, &payloadBytes, &hit.Score); err != nil {
			return nil, unavailable("search", err)
		}
		if len(payloadBytes) > 0 {
			_ = json.Unmarshal(payloadBytes, &hit.Payload)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("search", err)
	}
	return hits, nil
}

// RetrieveByID returns the stored record, or nil when the id is absent.
func (ix *Index) RetrieveByID(ctx context.Context, collection, id string) (*Record, error) {
	if !collectionNameRE.MatchString(collection) {
		return nil, invalidInput("retrieve", "invalid collection name %q", collection)
	}
	var (
		rec           Record
		vectorLiteral string
		payloadBytes  []byte
	)
	err := ix.DB.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, embedding::text, payload FROM %s WHERE id=$1`, tableName(collection),
	), id).Scan(&rec.ID, &vectorLiteral, &payloadBytes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("retrieve", err)
	}
	rec.Vector, err = decodeVectorLiteral(vectorLiteral)
	if err != nil {
		return nil, unavailable("retrieve", err)
	}
	if len(payloadBytes) > 0 {
		_ = json.Unmarshal(payloadBytes, &rec.Payload)
	}
	return &rec, nil
}

// FindSimilarTo searches the collection for the nearest neighbours of an
// already-stored record, excluding the record itself. An absent id yields an
// empty result, not an error.
func (ix *Index) FindSimilarTo(ctx context.Context, collection, id string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	rec, err := ix.RetrieveByID(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	// The record is its own nearest neighbour, so over-fetch by one.
	hits, err := ix.Search(ctx, collection, rec.Vector, limit+1, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, limit)
	for _, hit := range hits {
		if hit.ID == id {
			continue
		}
		out = append(out, hit)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CollectionStats reports record counts for one collection.
func (ix *Index) CollectionStats(ctx context.Context, collection string) (Stats, error) {
	if !collectionNameRE.MatchString(collection) {
		return Stats{}, invalidInput("stats", "invalid collection name %q", collection)
	}
	var count int64
	if err := ix.DB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, tableName(collection)),
	).Scan(&count); err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return Stats{Count: count, VectorCount: count}, nil
}

func (ix *Index) dimension(ctx context.Context, collection string) (int, error) {
	if !collectionNameRE.MatchString(collection) {
		return 0, invalidInput("dimension", "invalid collection name %q", collection)
	}
	ix.mu.RLock()
	dim, ok := ix.dims[collection]
	ix.mu.RUnlock()
	if ok {
		return dim, nil
	}
	if err := ix.DB.QueryRowContext(ctx,
		`SELECT dimension FROM collections WHERE name=$1`, collection,
	).Scan(&dim); err != nil {
		if err == sql.ErrNoRows {
			return 0, invalidInput("dimension", "collection %q does not exist", collection)
		}
		return 0, unavailable("dimension", err)
	}
	ix.mu.Lock()
	ix.dims[collection] = dim
	ix.mu.Unlock()
	return dim, nil
}

func tableName(collection string) string {
	return "records_" + collection
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func decodeVectorLiteral(lit string) ([]float32, error) {
	lit = strings.TrimSpace(lit)
	if lit == "" {
		return nil, fmt.Errorf("empty vector literal")
	}
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	parts := strings.Split(lit, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector element %q: %w", part, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}
