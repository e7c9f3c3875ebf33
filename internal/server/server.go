// Package server exposes the engine over HTTP: embedding, semantic search,
// dream generation and vector-store introspection. The handlers are a thin
// mapping onto the pipeline; all interesting behaviour lives below.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raj-saurav-sc/dream-crawler/config"
	"github.com/raj-saurav-sc/dream-crawler/internal/dream"
	"github.com/raj-saurav-sc/dream-crawler/internal/embed"
	"github.com/raj-saurav-sc/dream-crawler/internal/index"
	"github.com/raj-saurav-sc/dream-crawler/internal/pipeline"
)

// Run wires the full API process: vector index, embedder, narrative
// generator and routes, then blocks serving HTTP.
func Run(cfg *config.Config) error {
	ctx := context.Background()

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	ix, err := index.NewWithDSN(ctx, dsn, log.New(os.Stdout, "[INDEX] ", log.LstdFlags))
	if err != nil {
		return fmt.Errorf("vector index init: %w", err)
	}

	embedder, embedBackend := embed.Resolve(embed.Config{
		Disabled:  cfg.Embedding.Disabled,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		Dimension: cfg.Embedding.Dimension,
	}, log.New(os.Stdout, "[EMBED] ", log.LstdFlags))

	generator := dream.New(ctx, dream.Config{
		Disabled:  cfg.Generation.Disabled,
		ModelPath: cfg.Generation.ModelPath,
		BaseURL:   cfg.Generation.BaseURL,
		Library:   cfg.Generation.Library,
	}, log.New(os.Stdout, "[DREAM] ", log.LstdFlags))

	p := pipeline.New(ix, embedder, generator, log.New(os.Stdout, "[PIPELINE] ", log.LstdFlags))
	if err := p.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("ensure collections: %w", err)
	}

	e := NewEcho()
	api := &API{
		Pipeline:      p,
		EmbedBackend:  embedBackend,
		GenCapability: generator.Capability(),
		Embedder:      embedder,
		Logger:        log.New(os.Stdout, "[SERVER] ", log.LstdFlags),
	}
	api.Register(e)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8000"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// NewEcho builds the echo instance with the shared middleware stack and the
// unified JSON error handler.
func NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}
