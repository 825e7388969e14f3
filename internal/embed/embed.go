// Package embed turns canonical text into vectors for duplicate detection.
package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmbedding marks a failed embedding call. It is always transient from
// the pipeline's point of view: the record stays pending and is swept later.
var ErrEmbedding = errors.New("embedding failed")

// Embedder computes a vector for a text
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model identifies the embedding space; vectors from different models never mix
	Model() string
}

// Config holds embedding provider configuration
type Config struct {
	// Provider name: "openai", "ollama"
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// NewEmbedder creates an embedder based on configuration
func NewEmbedder(config Config) (Embedder, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIEmbedder(config)
	case "ollama":
		return NewOllamaEmbedder(config)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, ollama)", config.Provider)
	}
}
