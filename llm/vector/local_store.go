package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"kbqa/llm"
)

const (
	localIndexFile    = "index.json"
	localStoreVersion = "1.0"
)

// storeData represents the JSON structure of the persisted index
type storeData struct {
	Version   string         `json:"version"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	Documents []llm.Document `json:"documents"`
}

// LocalStore keeps chunks and their vectors in memory and persists them as
// JSON under a directory. Search is exact cosine similarity.
type LocalStore struct {
	filePath   string
	mu         sync.RWMutex
	documents  []llm.Document
	byID       map[string]int
	embeddings *EmbeddingService
	createdAt  time.Time
	updatedAt  time.Time
}

var _ VectorStore = (*LocalStore)(nil)

// NewLocalStore opens (or creates) the index stored under dir.
func NewLocalStore(dir string, embeddings *EmbeddingService) (*LocalStore, error) {
	if embeddings == nil {
		return nil, fmt.Errorf("embedding service is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &LocalStore{
		filePath:   filepath.Join(dir, localIndexFile),
		byID:       make(map[string]int),
		embeddings: embeddings,
		createdAt:  time.Now(),
		updatedAt:  time.Now(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads documents from the JSON file. A missing file is an empty index.
func (s *LocalStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read store file: %w", err)
	}

	var sd storeData
	if err := json.Unmarshal(data, &sd); err != nil {
		return fmt.Errorf("failed to parse store data: %w", err)
	}

	s.documents = sd.Documents
	s.reindex()
	if t, err := time.Parse(time.RFC3339, sd.CreatedAt); err == nil {
		s.createdAt = t
	}
	if t, err := time.Parse(time.RFC3339, sd.UpdatedAt); err == nil {
		s.updatedAt = t
	}
	return nil
}

// saveLocked writes the index atomically. Callers hold the write lock.
func (s *LocalStore) saveLocked() error {
	s.updatedAt = time.Now()

	data, err := json.Marshal(storeData{
		Version:   localStoreVersion,
		CreatedAt: s.createdAt.Format(time.RFC3339),
		UpdatedAt: s.updatedAt.Format(time.RFC3339),
		Documents: s.documents,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal store data: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), localIndexFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.filePath); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

func (s *LocalStore) reindex() {
	s.byID = make(map[string]int, len(s.documents))
	for i, doc := range s.documents {
		s.byID[doc.ID] = i
	}
}

// AddBatch embeds docs and upserts them by ID, then persists the index.
func (s *LocalStore) AddBatch(ctx context.Context, docs []llm.Document) error {
	return s.ReplaceSources(ctx, nil, docs)
}

// ReplaceSources embeds docs, then under one lock drops every chunk of
// sources, upserts docs and persists once. Nothing changes when embedding
// or saving fails.
func (s *LocalStore) ReplaceSources(ctx context.Context, sources []string, docs []llm.Document) error {
	drop := make(map[string]bool, len(sources))
	for _, source := range sources {
		if source == "" {
			return fmt.Errorf("source cannot be empty")
		}
		drop[source] = true
	}

	vectors, err := embedDocuments(ctx, s.embeddings, docs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]llm.Document, 0, len(s.documents)+len(docs))
	for _, doc := range s.documents {
		if !drop[doc.Source] {
			next = append(next, doc)
		}
	}
	if len(next) == len(s.documents) && len(docs) == 0 {
		return nil
	}

	prev := s.documents
	s.documents = next
	s.reindex()

	now := time.Now().Format(time.RFC3339)
	for i, doc := range docs {
		doc.Vector = vectors[i]
		if doc.CreatedAt == "" {
			doc.CreatedAt = now
		}
		if idx, ok := s.byID[doc.ID]; ok {
			s.documents[idx] = doc
			continue
		}
		s.byID[doc.ID] = len(s.documents)
		s.documents = append(s.documents, doc)
	}

	if err := s.saveLocked(); err != nil {
		s.documents = prev
		s.reindex()
		return err
	}
	return nil
}

// Search performs semantic search using cosine similarity
func (s *LocalStore) Search(ctx context.Context, query string, topK int) ([]llm.SearchResult, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	empty := len(s.documents) == 0
	s.mu.RUnlock()
	if empty {
		return []llm.SearchResult{}, nil
	}

	queryVector, err := s.embeddings.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	s.mu.RLock()
	results := make([]llm.SearchResult, 0, len(s.documents))
	for _, doc := range s.documents {
		results = append(results, llm.SearchResult{
			Document: doc,
			Score:    CosineSimilarity(queryVector, doc.Vector),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

// DeleteBySource removes all documents from a specific source file
func (s *LocalStore) DeleteBySource(ctx context.Context, source string) error {
	if source == "" {
		return fmt.Errorf("source cannot be empty")
	}
	return s.ReplaceSources(ctx, []string{source}, nil)
}

// Count returns the number of stored chunks
func (s *LocalStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.documents)), nil
}

// Close is a no-op; every mutation is already persisted.
func (s *LocalStore) Close() error {
	return nil
}
