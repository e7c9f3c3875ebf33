package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/raj-saurav-sc/dream-crawler/config"
	"github.com/raj-saurav-sc/dream-crawler/internal/consumer"
	"github.com/raj-saurav-sc/dream-crawler/internal/dream"
	"github.com/raj-saurav-sc/dream-crawler/internal/embed"
	"github.com/raj-saurav-sc/dream-crawler/internal/index"
	"github.com/raj-saurav-sc/dream-crawler/internal/pipeline"
	"github.com/raj-saurav-sc/dream-crawler/internal/queue/streams"
)

func consumeCMD() *cobra.Command {
	var cfgPath string
	var cmd = &cobra.Command{
		Use:   "consume",
		Short: "Run the dream-seed queue consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			ix, err := index.NewWithDSN(ctx, dsn, log.New(os.Stdout, "[INDEX] ", log.LstdFlags))
			if err != nil {
				return fmt.Errorf("vector index init: %w", err)
			}

			embedder, _ := embed.Resolve(embed.Config{
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

			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Storage.Redis.Addr(),
				Password: cfg.Storage.Redis.Password,
				DB:       cfg.Storage.Redis.DB,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			defer func() { _ = rdb.Close() }()

			stream := cfg.Consumer.Stream
			if stream == "" {
				stream = streams.StreamDreamSeeds
			}
			group := cfg.Consumer.Group
			if group == "" {
				group = "dream-processor-group"
			}
			if err := streams.EnsureGroup(ctx, rdb, stream, group); err != nil {
				return fmt.Errorf("ensure group: %w", err)
			}

			consumerName := fmt.Sprintf("dreamer-%s", uuid.NewString()[:8])
			cons := streams.NewConsumer(rdb, group, consumerName)

			logger := log.New(os.Stdout, "[CONSUMER] ", log.LstdFlags)
			proc := consumer.NewProcessor(logger, p, cons, stream, cfg.Consumer.Dreaming)
			return proc.Start(ctx)
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
