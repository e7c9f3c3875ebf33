package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/raj-saurav-sc/dream-crawler/internal/dream"
	"github.com/raj-saurav-sc/dream-crawler/internal/embed"
	"github.com/raj-saurav-sc/dream-crawler/internal/index"
	"github.com/raj-saurav-sc/dream-crawler/internal/pipeline"
)

type fakeIndex struct {
	hits      []index.Hit
	upserts   int
	searchErr error
}

func (f *fakeIndex) Ensure(ctx context.Context, name string, dimension int, metric index.Metric) error {
	return nil
}

func (f *fakeIndex) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]interface{}) error {
	f.upserts++
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, collection string, vector []float32, limit int, filter map[string]interface{}) ([]index.Hit, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

func (f *fakeIndex) FindSimilarTo(ctx context.Context, collection, id string, limit int) ([]index.Hit, error) {
	return f.hits, nil
}

func (f *fakeIndex) CollectionStats(ctx context.Context, collection string) (index.Stats, error) {
	return index.Stats{Count: 2, VectorCount: 2}, nil
}

func newTestAPI(t *testing.T, ix pipeline.VectorIndex, withGenerator bool) (*echo.Echo, *API) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	embedder := embed.NewHashingEmbedder(0)

	var gen *dream.Generator
	capability := dream.GenStub
	if withGenerator {
		gen = dream.New(context.Background(), dream.Config{Disabled: true}, logger)
		capability = gen.Capability()
	}

	api := &API{
		Pipeline:      pipeline.New(ix, embedder, gen, logger),
		Embedder:      embedder,
		EmbedBackend:  embed.BackendHashing,
		GenCapability: capability,
		Logger:        logger,
	}
	e := NewEcho()
	api.Register(e)
	return e, api
}

func doJSON(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	e, _ := newTestAPI(t, &fakeIndex{}, false)

	rec := doJSON(e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "healthy" || body["service"] != "dream-crawler" {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["narrative_generator"] != false {
		t.Fatalf("expected narrative_generator=false, got %v", body["narrative_generator"])
	}
}

func TestEmbedEndpoint(t *testing.T) {
	e, _ := newTestAPI(t, &fakeIndex{}, false)

	rec := doJSON(e, http.MethodPost, "/api/embed", `{"text": "hello world"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Embedding []float64 `json:"embedding"`
		Backend   string    `json:"backend"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Embedding) != embed.DefaultDimension {
		t.Fatalf("expected %d dims, got %d", embed.DefaultDimension, len(body.Embedding))
	}
	if body.Backend != string(embed.BackendHashing) {
		t.Fatalf("unexpected backend: %s", body.Backend)
	}
}

func TestSearchSemantic(t *testing.T) {
	ix := &fakeIndex{hits: []index.Hit{
		{ID: "a", Score: 0.9, Payload: map[string]interface{}{"title": "A"}},
		{ID: "b", Score: 0.5, Payload: map[string]interface{}{"title": "B"}},
	}}
	e, _ := newTestAPI(t, ix, false)

	rec := doJSON(e, http.MethodPost, "/api/search/semantic", `{"query": "lakes", "limit": 5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Query      string                   `json:"query"`
		Results    []map[string]interface{} `json:"results"`
		Total      int                      `json:"total"`
		SearchType string                   `json:"search_type"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Query != "lakes" || body.Total != 2 || body.SearchType != "semantic" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.Results[0]["id"] != "a" {
		t.Fatalf("unexpected first result: %v", body.Results[0])
	}
}

func TestSearchSemanticRequiresQuery(t *testing.T) {
	e, _ := newTestAPI(t, &fakeIndex{}, false)

	rec := doJSON(e, http.MethodPost, "/api/search/semantic", `{"limit": 5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSearchSemanticBackendFailure(t *testing.T) {
	ix := &fakeIndex{searchErr: &index.Error{Kind: index.KindUnavailable, Op: "search"}}
	e, _ := newTestAPI(t, ix, false)

	rec := doJSON(e, http.MethodPost, "/api/search/semantic", `{"query": "lakes"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestSearchDreams(t *testing.T) {
	ix := &fakeIndex{hits: []index.Hit{{ID: "d1", Score: 0.8}}}
	e, _ := newTestAPI(t, ix, false)

	rec := doJSON(e, http.MethodPost, "/api/search/dreams", `{"query": "moons"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["search_type"] != "dream" {
		t.Fatalf("unexpected search_type: %v", body["search_type"])
	}
}

func TestGenerateDreamWithoutGenerator(t *testing.T) {
	e, _ := newTestAPI(t, &fakeIndex{}, false)

	rec := doJSON(e, http.MethodPost, "/api/dream", `{"document_id": "doc-1", "url": "https://example.com", "title": "T"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGenerateDream(t *testing.T) {
	ix := &fakeIndex{}
	e, _ := newTestAPI(t, ix, true)

	rec := doJSON(e, http.MethodPost, "/api/dream", `{"document_id": "doc-1", "url": "https://example.com", "title": "The Orchard"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		DreamID    string  `json:"dream_id"`
		Narrative  string  `json:"narrative"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.DreamID == "" || body.Narrative == "" {
		t.Fatalf("incomplete response: %+v", body)
	}
	if body.Confidence != pipeline.DefaultConfidence {
		t.Fatalf("unexpected confidence: %v", body.Confidence)
	}
	if ix.upserts != 1 {
		t.Fatalf("dream not stored, upserts=%d", ix.upserts)
	}
}

func TestGenerateDreamRequiresDocumentID(t *testing.T) {
	e, _ := newTestAPI(t, &fakeIndex{}, true)

	rec := doJSON(e, http.MethodPost, "/api/dream", `{"url": "https://example.com"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSimilarDreams(t *testing.T) {
	ix := &fakeIndex{hits: []index.Hit{{ID: "other", Score: 0.7}}}
	e, _ := newTestAPI(t, ix, false)

	rec := doJSON(e, http.MethodGet, "/api/dreams/d1/similar?limit=3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var results []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(results) != 1 || results[0]["id"] != "other" {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestSimilarDreamsRejectsBadLimit(t *testing.T) {
	e, _ := newTestAPI(t, &fakeIndex{}, false)

	rec := doJSON(e, http.MethodGet, "/api/dreams/d1/similar?limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestVectorStoreStats(t *testing.T) {
	e, _ := newTestAPI(t, &fakeIndex{}, false)

	rec := doJSON(e, http.MethodGet, "/api/stats/vector-store", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Status string                 `json:"status"`
		Data   map[string]index.Stats `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "success" {
		t.Fatalf("unexpected status: %s", body.Status)
	}
	for _, name := range []string{index.CollectionDocuments, index.CollectionDreams} {
		if _, ok := body.Data[name]; !ok {
			t.Fatalf("missing stats for %s", name)
		}
	}
}

func TestStoreDocument(t *testing.T) {
	ix := &fakeIndex{}
	e, _ := newTestAPI(t, ix, false)

	rec := doJSON(e, http.MethodPost, "/api/documents", `{"document_id": "doc-1", "url": "https://example.com", "title": "T", "content": "body"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ix.upserts != 1 {
		t.Fatalf("document not stored, upserts=%d", ix.upserts)
	}
}

func TestStoreDocumentRequiresURL(t *testing.T) {
	e, _ := newTestAPI(t, &fakeIndex{}, false)

	rec := doJSON(e, http.MethodPost, "/api/documents", `{"document_id": "doc-1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestErrorResponsesAreJSON(t *testing.T) {
	e, _ := newTestAPI(t, &fakeIndex{}, false)

	rec := doJSON(e, http.MethodPost, "/api/search/semantic", `{}`)
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error response is not JSON: %s", rec.Body.String())
	}
	if body["error"] == "" {
		t.Fatalf("error body missing message: %v", body)
	}
}
