// Package config loads the engine configuration from a JSON file and
// DREAMER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the dream-crawler engine.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Generation GenerationConfig `mapstructure:"generation"`
	Consumer   ConsumerConfig   `mapstructure:"consumer"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// StorageConfig groups backing-service locations.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig locates the vector backend.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles the Postgres connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig locates the queue backend.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the host:port address for the Redis client.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// EmbeddingConfig selects the embedding backend. Disabled forces the
// deterministic hashing fallback.
type EmbeddingConfig struct {
	Disabled  bool   `mapstructure:"disabled"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	Dimension int    `mapstructure:"dimension"`
}

// GenerationConfig selects the narrative generation backend.
type GenerationConfig struct {
	Disabled  bool   `mapstructure:"disabled"`
	ModelPath string `mapstructure:"model_path"`
	BaseURL   string `mapstructure:"base_url"`
	Library   string `mapstructure:"library"`
}

// ConsumerConfig tunes the dream-seed queue consumer.
type ConsumerConfig struct {
	Stream   string `mapstructure:"stream"`
	Group    string `mapstructure:"group"`
	Dreaming bool   `mapstructure:"dreaming"`
}

// LoadConfig loads config from the given file, or from the default search
// paths when path is empty. Environment variables prefixed with DREAMER_
// override file values; a missing config file is fine as long as the
// environment provides what is needed.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":8000")
	viper.SetDefault("storage.redis.host", "localhost")
	viper.SetDefault("storage.redis.port", "6379")
	viper.SetDefault("embedding.dimension", 384)
	viper.SetDefault("embedding.base_url", "http://localhost:11434")
	viper.SetDefault("generation.library", "llama")
	viper.SetDefault("generation.base_url", "http://localhost:8080")
	viper.SetDefault("consumer.stream", "dream.seeds")
	viper.SetDefault("consumer.group", "dream-processor-group")
	viper.SetDefault("consumer.dreaming", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DREAMER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return &config
}
