// ABOUTME: Centralized configuration for the vecbridge migration layer
// ABOUTME: Loads from environment variables with validation and defaults
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/constella-app/vecbridge/internal/storage/sqlite"
)

// Config holds all configuration for the dual-write migration layer
type Config struct {
	// Weaviate (primary) settings
	WeaviateHost   string
	WeaviateScheme string
	WeaviateAPIKey string
	WeaviateClass  string

	// Milvus (secondary) settings
	MilvusAddress         string
	MilvusAPIKey          string
	MilvusCollection      string
	SecondaryReadsEnabled bool

	// OpenAI embedding settings
	OpenAIKey      string
	EmbeddingModel string

	// Store call behavior
	VectorDimension  int
	StoreTimeout     time.Duration
	MirrorTimeout    time.Duration
	PrimaryReadTries int

	// Retry queue settings
	QueueDBPath   string
	DrainInterval time.Duration
	BatchSize     int
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Concurrency   int

	// Reconciliation settings
	SyncPageSize int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Defaults
		WeaviateHost:          os.Getenv("WEAVIATE_HOST"),
		WeaviateScheme:        getEnv("WEAVIATE_SCHEME", "https"),
		WeaviateAPIKey:        os.Getenv("WEAVIATE_API_KEY"),
		WeaviateClass:         getEnv("WEAVIATE_CLASS", "NodesProd3"),
		MilvusAddress:         os.Getenv("MILVUS_CLUSTER_ENDPOINT"),
		MilvusAPIKey:          os.Getenv("MILVUS_CLUSTER_TOKEN"),
		MilvusCollection:      getEnv("MILVUS_COLLECTION", "nodes_collection_prod"),
		SecondaryReadsEnabled: getEnvBool("SECONDARY_READS_ENABLED", false),
		OpenAIKey:             os.Getenv("OPENAI_API_KEY"),
		EmbeddingModel:        getEnv("VECBRIDGE_EMBEDDING_MODEL", "text-embedding-3-small"),
		VectorDimension:       getEnvInt("VECTOR_DIMENSION", 768),
		StoreTimeout:          getEnvDuration("STORE_TIMEOUT", 30*time.Second),
		MirrorTimeout:         getEnvDuration("MIRROR_TIMEOUT", 3*time.Second),
		PrimaryReadTries:      getEnvInt("PRIMARY_READ_TRIES", 2),
		QueueDBPath:           getEnv("QUEUE_DB_PATH", sqlite.DefaultDBPath()),
		DrainInterval:         getEnvDuration("DRAIN_INTERVAL", 5*time.Second),
		BatchSize:             getEnvInt("DRAIN_BATCH_SIZE", 100),
		MaxAttempts:           getEnvInt("RETRY_MAX_ATTEMPTS", 8),
		BaseDelay:             getEnvDuration("RETRY_BASE_DELAY", 2*time.Second),
		MaxDelay:              getEnvDuration("RETRY_MAX_DELAY", 5*time.Minute),
		Concurrency:           getEnvInt("DRAIN_CONCURRENCY", 4),
		SyncPageSize:          getEnvInt("SYNC_PAGE_SIZE", 100),
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.VectorDimension <= 0 {
		return fmt.Errorf("VECTOR_DIMENSION must be positive, got %d", c.VectorDimension)
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 50 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be 1-50, got %d", c.MaxAttempts)
	}
	if c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("retry delays invalid: base %v, max %v", c.BaseDelay, c.MaxDelay)
	}
	if c.PrimaryReadTries < 1 {
		return fmt.Errorf("PRIMARY_READ_TRIES must be positive, got %d", c.PrimaryReadTries)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("DRAIN_CONCURRENCY must be positive, got %d", c.Concurrency)
	}
	if c.SyncPageSize < 1 {
		return fmt.Errorf("SYNC_PAGE_SIZE must be positive, got %d", c.SyncPageSize)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v == "true" || v == "1"
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
