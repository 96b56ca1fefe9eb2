package vector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
)

// ErrEmptyQuery is returned when asked to embed or search for empty text.
var ErrEmptyQuery = errors.New("text cannot be empty")

// EmbeddingService wraps an embedding model for vector generation
type EmbeddingService struct {
	embedder  embedding.Embedder
	batchSize int
	dim       int
	mu        sync.RWMutex
}

// NewEmbeddingService creates a new embedding service. batchSize bounds
// the number of texts sent per request.
func NewEmbeddingService(embedder embedding.Embedder, batchSize int) *EmbeddingService {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &EmbeddingService{
		embedder:  embedder,
		batchSize: batchSize,
	}
}

// Embed generates an embedding vector for a single text
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyQuery
	}

	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embedding vectors for multiple texts, preserving
// order. Empty texts are not allowed.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("text %d: %w", i, ErrEmptyQuery)
		}
	}

	result := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := min(start+s.batchSize, len(texts))

		vectors, err := s.embedder.EmbedStrings(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), end-start)
		}

		for _, vec := range vectors {
			if len(vec) == 0 {
				return nil, fmt.Errorf("empty embedding returned")
			}
			result = append(result, toFloat32(vec))
		}
	}

	s.observeDimension(len(result[0]))
	return result, nil
}

// Dimension returns the embedding dimension seen so far, or 0 before the
// first call.
func (s *EmbeddingService) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

func (s *EmbeddingService) observeDimension(dim int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim == 0 {
		s.dim = dim
	}
}

// toFloat32 converts float64 to float32
func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}
