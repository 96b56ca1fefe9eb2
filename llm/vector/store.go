package vector

import (
	"context"
	"fmt"
	"math"

	"kbqa/llm"
)

// VectorStore defines the interface for vector storage operations
type VectorStore interface {
	// AddBatch embeds and upserts documents, keyed by ID
	AddBatch(ctx context.Context, docs []llm.Document) error

	// Search returns the topK most similar documents by cosine similarity,
	// best first. Results carry their stored vectors.
	Search(ctx context.Context, query string, topK int) ([]llm.SearchResult, error)

	// DeleteBySource removes all documents from a specific source file
	DeleteBySource(ctx context.Context, source string) error

	// ReplaceSources drops every document of sources and upserts docs as
	// one change. Docs are embedded first; on error the store is untouched.
	ReplaceSources(ctx context.Context, sources []string, docs []llm.Document) error

	// Count returns the total number of documents in the store
	Count(ctx context.Context) (int64, error)

	// Close closes any connections or resources
	Close() error
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// embedDocuments checks ids and embeds the contents of docs in order.
func embedDocuments(ctx context.Context, svc *EmbeddingService, docs []llm.Document) ([][]float32, error) {
	texts := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return nil, fmt.Errorf("document %d has no id", i)
		}
		texts[i] = doc.Content
	}
	return svc.EmbedBatch(ctx, texts)
}
