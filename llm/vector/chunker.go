package vector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"kbqa/llm"

	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// ChunkConfig configures how documents are split into chunks. Sizes are
// counted in runes.
type ChunkConfig struct {
	ChunkSize    int // Maximum chunk size in characters
	ChunkOverlap int // Overlap between consecutive chunks
}

// DefaultChunkConfig returns the default chunk configuration
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkSize:    800,
		ChunkOverlap: 150,
	}
}

// Validate checks that the window can always advance.
func (c ChunkConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap (%d) must be in [0, %d)", c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// separatorTiers lists cut boundaries from most to least preferred. A cut
// is placed right after the separator so it stays with the earlier chunk.
var separatorTiers = [][]string{
	{"\n\n"},
	{"\n"},
	{".", "。", "!", "?", "？", "！"},
	{"；", ";"},
}

var runeTiers = func() [][][]rune {
	tiers := make([][][]rune, len(separatorTiers))
	for i, tier := range separatorTiers {
		for _, sep := range tier {
			tiers[i] = append(tiers[i], []rune(sep))
		}
	}
	return tiers
}()

// Chunk represents a text chunk with its position in the source text
type Chunk struct {
	Content    string
	StartIndex int // rune offset of the chunk start
	ChunkIndex int
}

// ChunkText splits text into chunks of at most ChunkSize runes where each
// window starts exactly ChunkOverlap runes before the previous one ended.
// Windows holding only whitespace are not emitted, so two consecutive chunks
// overlap exactly unless a whitespace run was skipped between them; the
// skipped runes are then all whitespace. The result depends only on text and
// cfg.
func ChunkText(text string, cfg ChunkConfig) []Chunk {
	size, overlap := cfg.ChunkSize, cfg.ChunkOverlap
	if size <= 0 {
		size = DefaultChunkConfig().ChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	runes := []rune(text)
	n := len(runes)

	var chunks []Chunk
	for start := 0; start < n; {
		end := n
		if n-start > size {
			// Cuts in the first half of the window would leave tiny chunks.
			end = findCut(runes, start, max(start+overlap, start+size/2), start+size)
		}

		if content := string(runes[start:end]); strings.TrimSpace(content) != "" {
			chunks = append(chunks, Chunk{
				Content:    content,
				StartIndex: start,
				ChunkIndex: len(chunks),
			})
		}

		if end == n {
			break
		}
		start = end - overlap
	}
	return chunks
}

// findCut returns the best end offset in (lo, hi]. Cutting above lo keeps
// the next start (end - overlap) strictly ahead of the current one.
func findCut(runes []rune, start, lo, hi int) int {
	for _, tier := range runeTiers {
		for end := hi; end > lo; end-- {
			for _, sep := range tier {
				if endsWith(runes, start, end, sep) {
					return end
				}
			}
		}
	}
	return hi
}

func endsWith(runes []rune, start, end int, sr []rune) bool {
	if end-len(sr) < start {
		return false
	}
	for i, r := range sr {
		if runes[end-len(sr)+i] != r {
			return false
		}
	}
	return true
}

// Splitter is a document.Transformer that cuts documents into chunks.
type Splitter struct {
	config ChunkConfig
}

var _ document.Transformer = (*Splitter)(nil)

// NewSplitter validates cfg and returns a splitter.
func NewSplitter(cfg ChunkConfig) (*Splitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Splitter{config: cfg}, nil
}

// Transform splits every source document. Chunk metadata copies the source
// metadata and adds the start offset and ordinal.
func (s *Splitter) Transform(ctx context.Context, src []*schema.Document, opts ...document.TransformerOption) ([]*schema.Document, error) {
	var out []*schema.Document
	for _, doc := range src {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		source, _ := doc.MetaData[llm.MetaSource].(string)
		if source == "" {
			source = doc.ID
		}

		for _, c := range ChunkText(doc.Content, s.config) {
			meta := make(map[string]any, len(doc.MetaData)+2)
			for k, v := range doc.MetaData {
				meta[k] = v
			}
			meta[llm.MetaSource] = source
			meta[llm.MetaStartIndex] = c.StartIndex
			meta[llm.MetaChunkIndex] = c.ChunkIndex

			out = append(out, &schema.Document{
				ID:       ChunkID(source, c.StartIndex, c.Content),
				Content:  c.Content,
				MetaData: meta,
			})
		}
	}
	return out, nil
}

// ChunkID derives a stable id so re-ingesting unchanged files upserts the
// same records.
func ChunkID(source string, start int, content string) string {
	name := source + "\x00" + strconv.Itoa(start) + "\x00" + content
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
