package llm

// Metadata keys shared by the loader, splitter and stores.
const (
	MetaSource     = "source"
	MetaFileType   = "file_type"
	MetaTitle      = "title"
	MetaStartIndex = "start_index"
	MetaChunkIndex = "chunk_index"
)

// Document is one stored chunk together with its embedding.
type Document struct {
	ID         string                 `json:"id"`
	Content    string                 `json:"content"`
	Source     string                 `json:"source"`
	FileType   string                 `json:"file_type"`
	Title      string                 `json:"title"`
	StartIndex int                    `json:"start_index"`
	ChunkIndex int                    `json:"chunk_index"`
	Vector     []float32              `json:"vector,omitempty"`
	Metadata   map[string]interface{} `json:"metadata"`
	CreatedAt  string                 `json:"created_at"`
}

// SearchResult represents a search result with relevance score.
// Score is cosine similarity in [-1, 1], higher is closer.
type SearchResult struct {
	Document Document
	Score    float32
}
