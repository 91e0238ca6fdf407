package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quantumflow/supportflow/internal/config"
)

// Open constructs the configured backend
func Open(ctx context.Context, cfg config.KnowledgeConfig, embedder Embedder, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "badger":
		return NewBadgerStore(BadgerConfig{Path: cfg.BadgerPath}, embedder, logger)
	case "redis":
		return NewRedisStore(ctx, RedisConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			Dimensions: cfg.Dimensions,
		}, embedder, logger)
	case "qdrant":
		return NewQdrantStore(ctx, QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dimensions: cfg.Dimensions,
		}, embedder, logger)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresURL, cfg.Dimensions, embedder, logger)
	default:
		return nil, fmt.Errorf("unsupported knowledge backend: %s", cfg.Backend)
	}
}
