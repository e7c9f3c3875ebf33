package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/raj-saurav-sc/dream-crawler/internal/dream"
	"github.com/raj-saurav-sc/dream-crawler/internal/embed"
	"github.com/raj-saurav-sc/dream-crawler/internal/index"
	"github.com/raj-saurav-sc/dream-crawler/internal/model"
	"github.com/raj-saurav-sc/dream-crawler/internal/pipeline"
)

// API holds the handler dependencies resolved at startup.
type API struct {
	Pipeline      *pipeline.Pipeline
	Embedder      embed.Embedder
	EmbedBackend  embed.Backend
	GenCapability dream.Capability
	Logger        *log.Logger
}

// Register attaches all routes.
func (a *API) Register(e *echo.Echo) {
	e.GET("/healthz", a.health)

	g := e.Group("/api")
	g.POST("/embed", a.embed)
	g.POST("/search/semantic", a.searchSemantic)
	g.POST("/search/dreams", a.searchDreams)
	g.POST("/dream", a.generateDream)
	g.GET("/dreams/:id/similar", a.similarDreams)
	g.GET("/stats/vector-store", a.vectorStoreStats)
	g.POST("/documents", a.storeDocument)
}

func (a *API) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":              "healthy",
		"service":             "dream-crawler",
		"timestamp":           time.Now().UTC(),
		"embedding_backend":   a.EmbedBackend,
		"generation_backend":  a.GenCapability,
		"narrative_generator": a.GenCapability == dream.GenModel,
	})
}

func (a *API) embed(c echo.Context) error {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	vec := a.Embedder.Embed(c.Request().Context(), req.Text)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"embedding": vec,
		"backend":   a.EmbedBackend,
	})
}

type searchRequest struct {
	Query   string                 `json:"query"`
	Limit   int                    `json:"limit"`
	Filters map[string]interface{} `json:"filters"`
}

func searchResponse(query, searchType string, hits []index.Hit) map[string]interface{} {
	results := make([]map[string]interface{}, 0, len(hits))
	for _, h := range hits {
		results = append(results, map[string]interface{}{
			"id":      h.ID,
			"score":   h.Score,
			"payload": h.Payload,
		})
	}
	return map[string]interface{}{
		"query":       query,
		"results":     results,
		"total":       len(results),
		"search_type": searchType,
	}
}

func (a *API) searchSemantic(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	hits, err := a.Pipeline.SearchDocuments(c.Request().Context(), req.Query, req.Limit, req.Filters)
	if err != nil {
		return indexError(err)
	}
	return c.JSON(http.StatusOK, searchResponse(req.Query, "semantic", hits))
}

func (a *API) searchDreams(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	hits, err := a.Pipeline.SearchDreams(c.Request().Context(), req.Query, req.Limit)
	if err != nil {
		return indexError(err)
	}
	return c.JSON(http.StatusOK, searchResponse(req.Query, "dream", hits))
}

func (a *API) generateDream(c echo.Context) error {
	var req struct {
		DocumentID string              `json:"document_id"`
		URL        string              `json:"url"`
		Title      string              `json:"title"`
		Content    string              `json:"content"`
		DreamHints model.DreamingHints `json:"dream_hints"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DocumentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "document_id required")
	}

	doc := model.Document{
		URL:        req.URL,
		Title:      req.Title,
		Text:       req.Content,
		CleanText:  req.Content,
		FetchedAt:  time.Now().UTC(),
		Status:     http.StatusOK,
		DreamHints: req.DreamHints,
	}

	result, err := a.Pipeline.Dream(c.Request().Context(), doc, req.DocumentID)
	if err != nil {
		if errors.Is(err, pipeline.ErrGeneratorUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "narrative generator not available")
		}
		return indexError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"dream_id":     result.DreamID,
		"narrative":    result.Narrative,
		"confidence":   result.Confidence,
		"generated_at": time.Now().UTC(),
	})
}

func (a *API) similarDreams(c echo.Context) error {
	dreamID := c.Param("id")
	limit := 5
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	hits, err := a.Pipeline.SimilarDreams(c.Request().Context(), dreamID, limit)
	if err != nil {
		return indexError(err)
	}
	results := make([]map[string]interface{}, 0, len(hits))
	for _, h := range hits {
		results = append(results, map[string]interface{}{
			"id":      h.ID,
			"score":   h.Score,
			"payload": h.Payload,
		})
	}
	return c.JSON(http.StatusOK, results)
}

func (a *API) vectorStoreStats(c echo.Context) error {
	stats, err := a.Pipeline.Stats(c.Request().Context())
	if err != nil {
		return indexError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "success",
		"data":      stats,
		"timestamp": time.Now().UTC(),
	})
}

func (a *API) storeDocument(c echo.Context) error {
	var req struct {
		DocumentID string                 `json:"document_id"`
		URL        string                 `json:"url"`
		Title      string                 `json:"title"`
		Content    string                 `json:"content"`
		Metadata   model.DocumentMetadata `json:"metadata"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DocumentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "document_id required")
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url required")
	}

	doc := model.Document{
		URL:       req.URL,
		Title:     req.Title,
		Text:      req.Content,
		CleanText: req.Content,
		FetchedAt: time.Now().UTC(),
		Metadata:  req.Metadata,
	}
	if err := a.Pipeline.IngestDocument(c.Request().Context(), doc, req.DocumentID); err != nil {
		return indexError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "success",
		"message":   "document " + req.DocumentID + " stored successfully",
		"timestamp": time.Now().UTC(),
	})
}

// indexError maps classified index failures onto HTTP statuses.
func indexError(err error) error {
	switch index.KindOf(err) {
	case index.KindInvalidInput:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case index.KindUnavailable:
		return echo.NewHTTPError(http.StatusBadGateway, "vector backend unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
