// ABOUTME: Tests for centralized configuration system
// ABOUTME: Verifies environment variable parsing and validation
package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear environment to test defaults
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Verify defaults
	if cfg.WeaviateScheme != "https" {
		t.Errorf("WeaviateScheme = %s, want https", cfg.WeaviateScheme)
	}
	if cfg.WeaviateClass != "NodesProd3" {
		t.Errorf("WeaviateClass = %s, want NodesProd3", cfg.WeaviateClass)
	}
	if cfg.MilvusCollection != "nodes_collection_prod" {
		t.Errorf("MilvusCollection = %s, want nodes_collection_prod", cfg.MilvusCollection)
	}
	if cfg.SecondaryReadsEnabled {
		t.Error("SecondaryReadsEnabled = true, want false")
	}
	if cfg.EmbeddingModel != "text-embedding-3-small" {
		t.Errorf("EmbeddingModel = %s, want text-embedding-3-small", cfg.EmbeddingModel)
	}
	if cfg.VectorDimension != 768 {
		t.Errorf("VectorDimension = %d, want 768", cfg.VectorDimension)
	}
	if cfg.MirrorTimeout != 3*time.Second {
		t.Errorf("MirrorTimeout = %v, want 3s", cfg.MirrorTimeout)
	}
	if cfg.MaxAttempts != 8 {
		t.Errorf("MaxAttempts = %d, want 8", cfg.MaxAttempts)
	}
	if cfg.BaseDelay != 2*time.Second {
		t.Errorf("BaseDelay = %v, want 2s", cfg.BaseDelay)
	}
	if cfg.MaxDelay != 5*time.Minute {
		t.Errorf("MaxDelay = %v, want 5m", cfg.MaxDelay)
	}
	if cfg.DrainInterval != 5*time.Second {
		t.Errorf("DrainInterval = %v, want 5s", cfg.DrainInterval)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.Concurrency)
	}
	if cfg.SyncPageSize != 100 {
		t.Errorf("SyncPageSize = %d, want 100", cfg.SyncPageSize)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	// Set custom environment variables
	os.Clearenv()
	os.Setenv("WEAVIATE_HOST", "weaviate.internal:8080")
	os.Setenv("WEAVIATE_SCHEME", "http")
	os.Setenv("WEAVIATE_API_KEY", "w-key")
	os.Setenv("WEAVIATE_CLASS", "NodesStaging")
	os.Setenv("MILVUS_CLUSTER_ENDPOINT", "milvus.internal:19530")
	os.Setenv("MILVUS_CLUSTER_TOKEN", "m-token")
	os.Setenv("MILVUS_COLLECTION", "nodes_staging")
	os.Setenv("SECONDARY_READS_ENABLED", "true")
	os.Setenv("OPENAI_API_KEY", "test-key")
	os.Setenv("VECTOR_DIMENSION", "1536")
	os.Setenv("MIRROR_TIMEOUT", "10s")
	os.Setenv("RETRY_MAX_ATTEMPTS", "5")
	os.Setenv("RETRY_BASE_DELAY", "1s")
	os.Setenv("RETRY_MAX_DELAY", "1m")
	os.Setenv("DRAIN_CONCURRENCY", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Verify custom values
	if cfg.WeaviateHost != "weaviate.internal:8080" {
		t.Errorf("WeaviateHost = %s, want weaviate.internal:8080", cfg.WeaviateHost)
	}
	if cfg.WeaviateScheme != "http" {
		t.Errorf("WeaviateScheme = %s, want http", cfg.WeaviateScheme)
	}
	if cfg.WeaviateClass != "NodesStaging" {
		t.Errorf("WeaviateClass = %s, want NodesStaging", cfg.WeaviateClass)
	}
	if cfg.MilvusAddress != "milvus.internal:19530" {
		t.Errorf("MilvusAddress = %s, want milvus.internal:19530", cfg.MilvusAddress)
	}
	if cfg.MilvusCollection != "nodes_staging" {
		t.Errorf("MilvusCollection = %s, want nodes_staging", cfg.MilvusCollection)
	}
	if !cfg.SecondaryReadsEnabled {
		t.Error("SecondaryReadsEnabled = false, want true")
	}
	if cfg.OpenAIKey != "test-key" {
		t.Errorf("OpenAIKey = %s, want test-key", cfg.OpenAIKey)
	}
	if cfg.VectorDimension != 1536 {
		t.Errorf("VectorDimension = %d, want 1536", cfg.VectorDimension)
	}
	if cfg.MirrorTimeout != 10*time.Second {
		t.Errorf("MirrorTimeout = %v, want 10s", cfg.MirrorTimeout)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want 1s", cfg.BaseDelay)
	}
	if cfg.MaxDelay != time.Minute {
		t.Errorf("MaxDelay = %v, want 1m", cfg.MaxDelay)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Concurrency)
	}
}

func TestValidate_InvalidDimension(t *testing.T) {
	cfg := validConfig()
	cfg.VectorDimension = 0

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail for zero dimension")
	}
}

func TestValidate_InvalidMaxAttempts(t *testing.T) {
	cfg := validConfig()
	cfg.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail for MaxAttempts < 1")
	}

	cfg.MaxAttempts = 100
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail for MaxAttempts > 50")
	}
}

func TestValidate_InvalidDelays(t *testing.T) {
	cfg := validConfig()
	cfg.BaseDelay = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail for zero base delay")
	}

	cfg.BaseDelay = time.Minute
	cfg.MaxDelay = time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail when max delay < base delay")
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		defaultVal bool
		want       bool
	}{
		{"empty uses default true", "", true, true},
		{"empty uses default false", "", false, false},
		{"true", "true", false, true},
		{"1", "1", false, true},
		{"false", "false", true, false},
		{"0", "0", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv("TEST_BOOL", tt.value)
			}
			got := getEnvBool("TEST_BOOL", tt.defaultVal)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		VectorDimension:  768,
		MaxAttempts:      8,
		BaseDelay:        2 * time.Second,
		MaxDelay:         5 * time.Minute,
		PrimaryReadTries: 2,
		Concurrency:      4,
		SyncPageSize:     100,
	}
}
