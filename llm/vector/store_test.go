package vector

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"kbqa/llm"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps each text to a letter histogram over a..h plus a
// constant component, so similar strings get similar vectors.
type fakeEmbedder struct {
	calls   int
	batches []int
	err     error
}

func (f *fakeEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	f.calls++
	f.batches = append(f.batches, len(texts))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, 9)
		for _, r := range text {
			if r >= 'a' && r <= 'h' {
				vec[r-'a']++
			}
		}
		vec[8] = 0.1
		out[i] = vec
	}
	return out, nil
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity(nil, nil))
}

func TestEmbeddingServiceBatches(t *testing.T) {
	fe := &fakeEmbedder{}
	svc := NewEmbeddingService(fe, 2)

	vecs, err := svc.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, []int{2, 2, 1}, fe.batches)
	assert.Equal(t, 9, svc.Dimension())
	assert.Equal(t, float32(1), vecs[2][2])

	_, err = svc.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = svc.EmbedBatch(context.Background(), []string{"a", ""})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestEmbeddingServicePropagatesError(t *testing.T) {
	boom := errors.New("boom")
	svc := NewEmbeddingService(&fakeEmbedder{err: boom}, 0)

	_, err := svc.Embed(context.Background(), "abc")
	assert.ErrorIs(t, err, boom)
}

func newTestLocalStore(t *testing.T, dir string) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(dir, NewEmbeddingService(&fakeEmbedder{}, 8))
	require.NoError(t, err)
	return store
}

func TestLocalStoreSearchOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	store := newTestLocalStore(t, t.TempDir())

	require.NoError(t, store.AddBatch(ctx, []llm.Document{
		{ID: "1", Content: "aaaa", Source: "x.txt"},
		{ID: "2", Content: "bbbb", Source: "x.txt"},
		{ID: "3", Content: "aabb", Source: "y.txt"},
	}))

	results, err := store.Search(ctx, "aaa", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].Document.ID)
	assert.Equal(t, "3", results[1].Document.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.NotEmpty(t, results[0].Document.Vector)

	_, err = store.Search(ctx, "", 2)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestLocalStoreEmptySearch(t *testing.T) {
	store := newTestLocalStore(t, t.TempDir())

	results, err := store.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLocalStorePersistsAndUpserts(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "store")

	store := newTestLocalStore(t, dir)
	require.NoError(t, store.AddBatch(ctx, []llm.Document{
		{ID: "1", Content: "abc", Source: "a.md", Title: "A"},
		{ID: "2", Content: "def", Source: "b.md"},
	}))
	require.NoError(t, store.AddBatch(ctx, []llm.Document{
		{ID: "1", Content: "abcabc", Source: "a.md", Title: "A2"},
	}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	require.NoError(t, store.Close())

	_, err = os.Stat(filepath.Join(dir, "index.json"))
	require.NoError(t, err)

	reopened := newTestLocalStore(t, dir)
	count, err = reopened.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	results, err := reopened.Search(ctx, "abc", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "abcabc", results[0].Document.Content)
	assert.Equal(t, "A2", results[0].Document.Title)
}

func TestLocalStoreDeleteBySource(t *testing.T) {
	ctx := context.Background()
	store := newTestLocalStore(t, t.TempDir())

	require.NoError(t, store.AddBatch(ctx, []llm.Document{
		{ID: "1", Content: "abc", Source: "a.md"},
		{ID: "2", Content: "abd", Source: "a.md"},
		{ID: "3", Content: "def", Source: "b.md"},
	}))
	require.NoError(t, store.DeleteBySource(ctx, "a.md"))
	require.NoError(t, store.DeleteBySource(ctx, "missing.md"))
	assert.Error(t, store.DeleteBySource(ctx, ""))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// re-adding after a delete must not resurrect stale index entries
	require.NoError(t, store.AddBatch(ctx, []llm.Document{{ID: "4", Content: "aaa", Source: "c.md"}}))
	results, err := store.Search(ctx, "aaa", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "4", results[0].Document.ID)
}

func TestLocalStoreRejectsCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), []byte("{nope"), 0o644))

	_, err := NewLocalStore(dir, NewEmbeddingService(&fakeEmbedder{}, 8))
	assert.Error(t, err)
}

func TestIndexerReplacesSource(t *testing.T) {
	ctx := context.Background()
	store := newTestLocalStore(t, t.TempDir())
	idx := NewIndexer(store)

	splitter, err := NewSplitter(ChunkConfig{ChunkSize: 10, ChunkOverlap: 2})
	require.NoError(t, err)

	v1, err := splitter.Transform(ctx, []*schema.Document{{
		ID:       "kb/a.txt",
		Content:  "aaaa\n\nbbbb\n\ncccc",
		MetaData: map[string]any{llm.MetaSource: "kb/a.txt", llm.MetaFileType: "txt", "page_count": 3},
	}})
	require.NoError(t, err)

	ids, err := idx.Store(ctx, v1)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.Equal(t, v1[0].ID, ids[0])

	v2, err := splitter.Transform(ctx, []*schema.Document{{
		ID:       "kb/a.txt",
		Content:  "dddd",
		MetaData: map[string]any{llm.MetaSource: "kb/a.txt"},
	}})
	require.NoError(t, err)
	_, err = idx.Store(ctx, v2)
	require.NoError(t, err)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestIndexerKeepsSourceWhenEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fe := &fakeEmbedder{}
	store, err := NewLocalStore(dir, NewEmbeddingService(fe, 8))
	require.NoError(t, err)
	idx := NewIndexer(store)

	chunks := func(contents ...string) []*schema.Document {
		docs := make([]*schema.Document, len(contents))
		for i, c := range contents {
			docs[i] = &schema.Document{
				ID:       ChunkID("a", i, c),
				Content:  c,
				MetaData: map[string]any{llm.MetaSource: "a", llm.MetaStartIndex: i},
			}
		}
		return docs
	}

	_, err = idx.Store(ctx, chunks("abc", "bcd", "cde"))
	require.NoError(t, err)

	boom := errors.New("embedder offline")
	fe.err = boom
	_, err = idx.Store(ctx, chunks("fgh"))
	require.ErrorIs(t, err, boom)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	// the file on disk still holds the previous chunks
	reopened := newTestLocalStore(t, dir)
	count, err = reopened.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestLocalStoreReplaceSources(t *testing.T) {
	ctx := context.Background()
	store := newTestLocalStore(t, t.TempDir())

	require.NoError(t, store.AddBatch(ctx, []llm.Document{
		{ID: "1", Content: "abc", Source: "a.md"},
		{ID: "2", Content: "abd", Source: "a.md"},
		{ID: "3", Content: "def", Source: "b.md"},
	}))

	require.NoError(t, store.ReplaceSources(ctx, []string{"a.md"}, []llm.Document{
		{ID: "4", Content: "ggg", Source: "a.md"},
	}))
	results, err := store.Search(ctx, "ggg", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "4", results[0].Document.ID)
	assert.Equal(t, "3", results[1].Document.ID)

	assert.Error(t, store.ReplaceSources(ctx, []string{""}, nil))
	assert.Error(t, store.ReplaceSources(ctx, nil, []llm.Document{{Content: "no id"}}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestSchemaRoundTrip(t *testing.T) {
	doc := &schema.Document{
		ID:      "id",
		Content: "text",
		MetaData: map[string]any{
			llm.MetaSource:     "kb/a.md",
			llm.MetaFileType:   "md",
			llm.MetaTitle:      "A",
			llm.MetaStartIndex: float64(12),
			llm.MetaChunkIndex: 2,
			"author":           "x",
		},
	}

	rec := FromSchema(doc)
	assert.Equal(t, "kb/a.md", rec.Source)
	assert.Equal(t, 12, rec.StartIndex)
	assert.Equal(t, 2, rec.ChunkIndex)
	assert.Equal(t, map[string]interface{}{"author": "x"}, rec.Metadata)

	back := ToSchema(rec)
	assert.Equal(t, "kb/a.md", back.MetaData[llm.MetaSource])
	assert.Equal(t, 12, back.MetaData[llm.MetaStartIndex])
	assert.Equal(t, "x", back.MetaData["author"])
}

func TestVectorEncoding(t *testing.T) {
	in := []float32{0, 1.5, -2.25, float32(math.Pi)}
	blob := encodeVector(in)
	assert.Len(t, blob, 16)

	out, err := decodeVector(blob)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestEscapeTagQuery(t *testing.T) {
	assert.Equal(t, `kb\/docs\/a\-b\.md`, escapeTagQuery("kb/docs/a-b.md"))
	assert.Equal(t, `知识库\ 1`, escapeTagQuery("知识库 1"))
	assert.Equal(t, "plain_name", escapeTagQuery("plain_name"))
}

func TestParseSearchResults(t *testing.T) {
	blob := string(encodeVector([]float32{1, 0}))
	reply := []interface{}{
		int64(2),
		"vec:abc",
		[]interface{}{
			"content", "hello",
			"vector", blob,
			"source", "kb/a.md",
			"file_type", "md",
			"title", "A",
			"start_index", "40",
			"chunk_index", "1",
			"metadata", `{"page_count":2}`,
			"score", "0.25",
		},
		"vec:def",
		[]interface{}{"content", "world", "score", "1"},
	}

	results, err := parseSearchResults(reply)
	require.NoError(t, err)
	require.Len(t, results, 2)

	first := results[0]
	assert.Equal(t, "abc", first.Document.ID)
	assert.Equal(t, "hello", first.Document.Content)
	assert.Equal(t, []float32{1, 0}, first.Document.Vector)
	assert.Equal(t, 40, first.Document.StartIndex)
	assert.Equal(t, 1, first.Document.ChunkIndex)
	assert.EqualValues(t, 2, first.Document.Metadata["page_count"])
	assert.InDelta(t, 0.75, first.Score, 1e-6)
	assert.InDelta(t, 0.0, results[1].Score, 1e-6)

	_, err = parseSearchResults("nope")
	assert.Error(t, err)

	_, err = parseSearchResults([]interface{}{int64(1), "vec:x", []interface{}{"score", "abc"}})
	assert.Error(t, err)
}

func TestParseKeysAndNumDocs(t *testing.T) {
	assert.Equal(t, []string{"vec:a", "vec:b"}, parseKeys([]interface{}{int64(2), "vec:a", "vec:b"}))
	assert.Nil(t, parseKeys([]interface{}{int64(0)}))

	n, err := parseNumDocs([]interface{}{"index_name", "kbqa", "num_docs", "42"})
	require.NoError(t, err)
	assert.EqualValues(t, 42, n)

	n, err = parseNumDocs([]interface{}{"num_docs", int64(7)})
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)

	_, err = parseNumDocs([]interface{}{"index_name", "kbqa"})
	assert.ErrorIs(t, err, errNoNumDocs)
}
