package vector

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"kbqa/llm"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextBoundaries(t *testing.T) {
	tests := []struct {
		name string
		text string
		cfg  ChunkConfig
		want []Chunk
	}{
		{
			name: "paragraphs",
			text: "aaaa\n\nbbbb\n\ncccc",
			cfg:  ChunkConfig{ChunkSize: 10, ChunkOverlap: 2},
			want: []Chunk{
				{Content: "aaaa\n\n", StartIndex: 0, ChunkIndex: 0},
				{Content: "\n\nbbbb\n\n", StartIndex: 4, ChunkIndex: 1},
				{Content: "\n\ncccc", StartIndex: 10, ChunkIndex: 2},
			},
		},
		{
			name: "cjk sentences",
			text: "第一句。第二句。第三句。",
			cfg:  ChunkConfig{ChunkSize: 6, ChunkOverlap: 1},
			want: []Chunk{
				{Content: "第一句。", StartIndex: 0, ChunkIndex: 0},
				{Content: "。第二句。", StartIndex: 3, ChunkIndex: 1},
				{Content: "。第三句。", StartIndex: 7, ChunkIndex: 2},
			},
		},
		{
			name: "hard cut",
			text: "abcdefghij",
			cfg:  ChunkConfig{ChunkSize: 4, ChunkOverlap: 1},
			want: []Chunk{
				{Content: "abcd", StartIndex: 0, ChunkIndex: 0},
				{Content: "defg", StartIndex: 3, ChunkIndex: 1},
				{Content: "ghij", StartIndex: 6, ChunkIndex: 2},
			},
		},
		{
			name: "fits in one chunk",
			text: "short text",
			cfg:  ChunkConfig{ChunkSize: 800, ChunkOverlap: 150},
			want: []Chunk{{Content: "short text", StartIndex: 0, ChunkIndex: 0}},
		},
		{
			name: "blank",
			text: " \n\n \t",
			cfg:  DefaultChunkConfig(),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChunkText(tt.text, tt.cfg))
		})
	}
}

func TestChunkTextPrefersParagraphOverSentence(t *testing.T) {
	text := "One. Two.\n\nThree. Four. Five. Six."
	chunks := ChunkText(text, ChunkConfig{ChunkSize: 20, ChunkOverlap: 0})

	require.NotEmpty(t, chunks)
	assert.Equal(t, "One. Two.\n\n", chunks[0].Content)
}

// randomText builds mixed Latin/CJK prose with paragraph and sentence
// breaks so every separator tier is exercised.
func randomText(r *rand.Rand, words int) string {
	vocab := []string{"retrieval", "向量", "chunk", "知识库", "overlap", "model", "问题", "答案", "index", "文档"}
	seps := []string{" ", " ", " ", ". ", "。", "\n", "\n\n", "；", "! ", "？"}

	var sb strings.Builder
	for i := 0; i < words; i++ {
		sb.WriteString(vocab[r.Intn(len(vocab))])
		sb.WriteString(seps[r.Intn(len(seps))])
	}
	return sb.String()
}

func TestChunkTextInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	configs := []ChunkConfig{
		{ChunkSize: 20, ChunkOverlap: 0},
		{ChunkSize: 50, ChunkOverlap: 10},
		{ChunkSize: 120, ChunkOverlap: 100},
		{ChunkSize: 800, ChunkOverlap: 150},
	}

	for i := 0; i < 30; i++ {
		text := strings.TrimSpace(randomText(r, 50+r.Intn(800)))
		runes := []rune(text)

		for _, cfg := range configs {
			chunks := ChunkText(text, cfg)
			require.NotEmpty(t, chunks)

			for j, c := range chunks {
				cr := []rune(c.Content)
				assert.LessOrEqual(t, len(cr), cfg.ChunkSize, "chunk exceeds size")
				assert.Equal(t, c.Content, string(runes[c.StartIndex:c.StartIndex+len(cr)]), "start index must locate the chunk")
				assert.Equal(t, j, c.ChunkIndex)

				if j == 0 {
					continue
				}
				prev := chunks[j-1]
				prevEnd := prev.StartIndex + len([]rune(prev.Content))
				assert.Equal(t, prevEnd-cfg.ChunkOverlap, c.StartIndex, "consecutive chunks overlap exactly")
			}

			last := chunks[len(chunks)-1]
			assert.Equal(t, len(runes), last.StartIndex+len([]rune(last.Content)), "chunks cover the text")

			assert.Equal(t, chunks, ChunkText(text, cfg), "chunking is deterministic")
		}
	}
}

func TestChunkTextSkipsWhitespaceWindows(t *testing.T) {
	cfg := ChunkConfig{ChunkSize: 10, ChunkOverlap: 2}
	text := "alpha beta" + strings.Repeat(" ", 40) + "gamma delta" + strings.Repeat("\n", 25) + "epsilon"
	runes := []rune(text)

	chunks := ChunkText(text, cfg)
	require.NotEmpty(t, chunks)

	skipped := 0
	for j, c := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(c.Content), "whitespace-only chunk emitted")
		assert.Equal(t, j, c.ChunkIndex)
		if j == 0 {
			continue
		}
		prev := chunks[j-1]
		prevEnd := prev.StartIndex + len([]rune(prev.Content))
		if c.StartIndex == prevEnd-cfg.ChunkOverlap {
			continue
		}
		// the gap spans the skipped windows
		skipped++
		require.Greater(t, c.StartIndex, prevEnd-cfg.ChunkOverlap)
		gap := string(runes[prevEnd-cfg.ChunkOverlap : c.StartIndex+cfg.ChunkOverlap])
		assert.Empty(t, strings.TrimSpace(gap), "only whitespace may be skipped")
	}
	assert.Equal(t, 2, skipped)

	last := chunks[len(chunks)-1]
	assert.Equal(t, len(runes), last.StartIndex+len([]rune(last.Content)))
}

func TestChunkTextClampsBadConfig(t *testing.T) {
	chunks := ChunkText("abcdefgh", ChunkConfig{ChunkSize: 3, ChunkOverlap: 5})
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), 3)
	}
}

func TestNewSplitterValidates(t *testing.T) {
	_, err := NewSplitter(ChunkConfig{ChunkSize: 100, ChunkOverlap: 100})
	assert.Error(t, err)
	_, err = NewSplitter(ChunkConfig{ChunkSize: 0})
	assert.Error(t, err)
}

func TestSplitterTransform(t *testing.T) {
	splitter, err := NewSplitter(ChunkConfig{ChunkSize: 10, ChunkOverlap: 2})
	require.NoError(t, err)

	src := []*schema.Document{
		{
			ID:       "kb/a.txt",
			Content:  "aaaa\n\nbbbb\n\ncccc",
			MetaData: map[string]any{llm.MetaSource: "kb/a.txt", llm.MetaFileType: "txt"},
		},
		{ID: "kb/b.md", Content: "tiny"},
	}

	first, err := splitter.Transform(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, first, 4)

	assert.Equal(t, "kb/a.txt", first[0].MetaData[llm.MetaSource])
	assert.Equal(t, "txt", first[0].MetaData[llm.MetaFileType])
	assert.Equal(t, 4, first[1].MetaData[llm.MetaStartIndex])
	assert.Equal(t, 1, first[1].MetaData[llm.MetaChunkIndex])
	assert.Equal(t, "kb/b.md", first[3].MetaData[llm.MetaSource])

	// source metadata is not mutated
	_, ok := src[0].MetaData[llm.MetaStartIndex]
	assert.False(t, ok)

	second, err := splitter.Transform(context.Background(), src)
	require.NoError(t, err)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Content, second[i].Content)
	}
	assert.NotEqual(t, first[0].ID, first[1].ID)
}
