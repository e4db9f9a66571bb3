// ABOUTME: OpenAI client for generating record embedding vectors
// ABOUTME: Uses text-embedding-3-small by default with retry and dimension clamping
package embed

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/constella-app/vecbridge/internal/util"
)

// ErrEmbeddingUnavailable is returned when the embedding provider cannot be
// reached after retries. Callers decide whether to fail or enqueue for later.
var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

// DefaultEmbeddingModel is the default model for embeddings
const DefaultEmbeddingModel = openai.SmallEmbedding3

// ClientConfig holds configuration for the OpenAI client
type ClientConfig struct {
	APIKey     string
	Model      openai.EmbeddingModel
	Dimensions int
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// DefaultConfig returns the default client configuration
func DefaultConfig(apiKey string) *ClientConfig {
	return &ClientConfig{
		APIKey:     apiKey,
		Model:      DefaultEmbeddingModel,
		Dimensions: 768,
		MaxRetries: 3,
		RetryDelay: time.Second * 2,
		Timeout:    time.Second * 30,
	}
}

// OpenAIClient wraps the OpenAI API client with retry logic
type OpenAIClient struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
}

// NewOpenAIClient creates a new OpenAI client with the given API key using default configuration
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	return NewOpenAIClientWithConfig(DefaultConfig(apiKey))
}

// NewOpenAIClientWithConfig creates a new OpenAI client with custom configuration
func NewOpenAIClientWithConfig(config *ClientConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	return &OpenAIClient{
		client:     openai.NewClient(config.APIKey),
		model:      config.Model,
		dimensions: config.Dimensions,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
		timeout:    config.Timeout,
	}, nil
}

// GenerateEmbedding returns the embedding vector for the text, sized to the
// configured dimension.
func (c *OpenAIClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(util.CalculateBackoff(c.retryDelay, attempt, 30*time.Second)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequestStrings{
			Input:      []string{text},
			Model:      c.model,
			Dimensions: c.dimensions,
		})
		cancel()

		if err != nil {
			lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
			continue
		}
		if len(resp.Data) == 0 {
			lastErr = fmt.Errorf("attempt %d: no embeddings returned", attempt+1)
			continue
		}
		return resp.Data[0].Embedding, nil
	}

	return nil, fmt.Errorf("%w: after %d attempts: %v", ErrEmbeddingUnavailable, c.maxRetries+1, lastErr)
}
