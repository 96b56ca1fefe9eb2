package vector

import (
	"context"
	"fmt"

	"kbqa/llm"

	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/schema"
)

// Indexer adapts a VectorStore to the eino indexer interface. Chunks of a
// source replace whatever the store held for that source before.
type Indexer struct {
	store VectorStore
}

var _ indexer.Indexer = (*Indexer)(nil)

func NewIndexer(store VectorStore) *Indexer {
	return &Indexer{store: store}
}

// Store replaces the chunks of every source in docs and returns the IDs in
// input order.
func (x *Indexer) Store(ctx context.Context, docs []*schema.Document, opts ...indexer.Option) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	records := make([]llm.Document, 0, len(docs))
	ids := make([]string, 0, len(docs))
	seen := make(map[string]bool)
	var sources []string

	for _, doc := range docs {
		rec := FromSchema(doc)
		if rec.ID == "" {
			return nil, fmt.Errorf("chunk of %s has no id", rec.Source)
		}
		if rec.Source != "" && !seen[rec.Source] {
			seen[rec.Source] = true
			sources = append(sources, rec.Source)
		}
		records = append(records, rec)
		ids = append(ids, rec.ID)
	}

	// a failed embedding leaves the previous chunks of every source in place
	if err := x.store.ReplaceSources(ctx, sources, records); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}
	return ids, nil
}

// FromSchema converts a chunk into a store record. Well-known metadata keys
// are lifted into typed fields and everything else stays in Metadata.
func FromSchema(doc *schema.Document) llm.Document {
	rec := llm.Document{
		ID:       doc.ID,
		Content:  doc.Content,
		Metadata: make(map[string]interface{}, len(doc.MetaData)),
	}
	for k, v := range doc.MetaData {
		switch k {
		case llm.MetaSource:
			rec.Source, _ = v.(string)
		case llm.MetaFileType:
			rec.FileType, _ = v.(string)
		case llm.MetaTitle:
			rec.Title, _ = v.(string)
		case llm.MetaStartIndex:
			rec.StartIndex = toInt(v)
		case llm.MetaChunkIndex:
			rec.ChunkIndex = toInt(v)
		default:
			rec.Metadata[k] = v
		}
	}
	return rec
}

// ToSchema is the inverse of FromSchema. The vector is not carried over.
func ToSchema(rec llm.Document) *schema.Document {
	meta := make(map[string]any, len(rec.Metadata)+5)
	for k, v := range rec.Metadata {
		meta[k] = v
	}
	meta[llm.MetaSource] = rec.Source
	meta[llm.MetaFileType] = rec.FileType
	meta[llm.MetaTitle] = rec.Title
	meta[llm.MetaStartIndex] = rec.StartIndex
	meta[llm.MetaChunkIndex] = rec.ChunkIndex
	return &schema.Document{
		ID:       rec.ID,
		Content:  rec.Content,
		MetaData: meta,
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	default:
		return 0
	}
}
