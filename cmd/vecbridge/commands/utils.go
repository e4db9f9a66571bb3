// ABOUTME: Shared wiring helpers for CLI commands
// ABOUTME: Builds config, queue database, and store adapters from the environment
package commands

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"

	"github.com/constella-app/vecbridge/internal/config"
	"github.com/constella-app/vecbridge/internal/storage/sqlite"
	"github.com/constella-app/vecbridge/internal/store/milvus"
	"github.com/constella-app/vecbridge/internal/store/weaviate"
)

// loadConfig loads .env then the environment configuration
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openQueueDB opens the durable queue/checkpoint/tombstone database
func openQueueDB(cfg *config.Config) (*sqlite.DB, error) {
	db, err := sqlite.Open(cfg.QueueDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	return db, nil
}

// newPrimary connects the Weaviate adapter
func newPrimary(ctx context.Context, cfg *config.Config, db *sqlite.DB) (*weaviate.Store, error) {
	if cfg.WeaviateHost == "" {
		return nil, fmt.Errorf("WEAVIATE_HOST is required")
	}
	client, err := weaviate.NewClient(ctx, cfg.WeaviateHost, cfg.WeaviateScheme,
		cfg.WeaviateAPIKey, cfg.WeaviateClass)
	if err != nil {
		return nil, err
	}
	if db != nil {
		return weaviate.NewStore(client, cfg.PrimaryReadTries, sqlite.NewTombstoneStore(db)), nil
	}
	return weaviate.NewStore(client, cfg.PrimaryReadTries, nil), nil
}

// newSecondary connects the Milvus adapter. readsEnabled overrides the
// configured cutover flag for operator tooling that must read the mirror.
func newSecondary(ctx context.Context, cfg *config.Config, readsEnabled bool) (*milvus.Store, error) {
	if cfg.MilvusAddress == "" {
		return nil, fmt.Errorf("MILVUS_CLUSTER_ENDPOINT is required")
	}
	client, err := milvus.NewClient(ctx, cfg.MilvusAddress, cfg.MilvusAPIKey,
		cfg.MilvusCollection, cfg.VectorDimension)
	if err != nil {
		return nil, err
	}
	return milvus.NewStore(client, readsEnabled || cfg.SecondaryReadsEnabled, nil), nil
}
