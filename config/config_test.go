package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPostgresDSNPrefersURL(t *testing.T) {
	cfg := PostgresConfig{
		URL:  "postgres://u:p@db:5432/dreams?sslmode=disable",
		Host: "ignored",
	}
	dsn, err := cfg.DSN()
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	if dsn != cfg.URL {
		t.Fatalf("expected explicit url, got %s", dsn)
	}
}

func TestPostgresDSNFromParts(t *testing.T) {
	cfg := PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "dreams"}
	dsn, err := cfg.DSN()
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	want := "postgres://u:p@db:5432/dreams?sslmode=disable"
	if dsn != want {
		t.Fatalf("expected %s, got %s", want, dsn)
	}
}

func TestPostgresDSNUnconfigured(t *testing.T) {
	if _, err := (PostgresConfig{}).DSN(); err == nil {
		t.Fatalf("expected error for missing host/dbname")
	}
}

func TestRedisAddrDefaultsPort(t *testing.T) {
	if got := (RedisConfig{Host: "cache"}).Addr(); got != "cache:6379" {
		t.Fatalf("unexpected addr: %s", got)
	}
	if got := (RedisConfig{Host: "cache", Port: "6380"}).Addr(); got != "cache:6380" {
		t.Fatalf("unexpected addr: %s", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	// No config file on the search path: defaults only.
	cfg := LoadConfig("")

	if cfg.Server.Address != ":8000" {
		t.Fatalf("unexpected server address: %s", cfg.Server.Address)
	}
	if cfg.Embedding.Dimension != 384 {
		t.Fatalf("unexpected embedding dimension: %d", cfg.Embedding.Dimension)
	}
	if cfg.Generation.Library != "llama" {
		t.Fatalf("unexpected generation library: %s", cfg.Generation.Library)
	}
	if cfg.Consumer.Stream != "dream.seeds" || !cfg.Consumer.Dreaming {
		t.Fatalf("unexpected consumer defaults: %+v", cfg.Consumer)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"server": {"address": ":9999"},
		"storage": {"postgres": {"url": "postgres://u:p@db:5432/dreams"}},
		"embedding": {"model": "all-minilm", "dimension": 384},
		"consumer": {"dreaming": false}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := LoadConfig(path)
	if cfg.Server.Address != ":9999" {
		t.Fatalf("unexpected server address: %s", cfg.Server.Address)
	}
	if cfg.Storage.Postgres.URL != "postgres://u:p@db:5432/dreams" {
		t.Fatalf("unexpected postgres url: %s", cfg.Storage.Postgres.URL)
	}
	if cfg.Embedding.Model != "all-minilm" {
		t.Fatalf("unexpected embedding model: %s", cfg.Embedding.Model)
	}
	if cfg.Consumer.Dreaming {
		t.Fatalf("consumer.dreaming should be overridden to false")
	}
}
