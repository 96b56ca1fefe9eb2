package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"kbqa/llm"

	"github.com/redis/go-redis/v9"
)

const (
	// Default index configuration
	defaultEFConstruction = 200
	defaultM              = 16

	redisKeyPrefix   = "vec:"
	keyPageSize      = 1000
	maxSearchResults = 1000

	// Field names in Redis hash
	fieldContent    = "content"
	fieldVector     = "vector"
	fieldSource     = "source"
	fieldFileType   = "file_type"
	fieldTitle      = "title"
	fieldStartIndex = "start_index"
	fieldChunkIndex = "chunk_index"
	fieldCreatedAt  = "created_at"
	fieldMetadata   = "metadata"
	fieldScore      = "score"

	// sources are stored verbatim, so the tag separator must not occur in a path
	tagSeparator = "\x1f"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	PoolSize       int
	IndexName      string
	VectorDim      int
	EFConstruction int
	M              int
}

// RedisStore implements VectorStore using Redis with RediSearch vector search
type RedisStore struct {
	client     *redis.Client
	embeddings *EmbeddingService
	config     RedisConfig
}

var _ VectorStore = (*RedisStore)(nil)

// NewRedisStore connects to Redis and creates the HNSW index if missing.
func NewRedisStore(ctx context.Context, embeddings *EmbeddingService, cfg RedisConfig) (*RedisStore, error) {
	if embeddings == nil {
		return nil, fmt.Errorf("embedding service is required")
	}
	if cfg.VectorDim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", cfg.VectorDim)
	}
	if cfg.EFConstruction <= 0 {
		cfg.EFConstruction = defaultEFConstruction
	}
	if cfg.M <= 0 {
		cfg.M = defaultM
	}

	// FT.SEARCH replies are parsed in their RESP2 array shape.
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
		Protocol: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &RedisStore{
		client:     client,
		embeddings: embeddings,
		config:     cfg,
	}
	if err := store.ensureIndex(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}
	return store, nil
}

// ensureIndex creates the HNSW vector index if it doesn't exist
func (s *RedisStore) ensureIndex(ctx context.Context) error {
	if _, err := s.client.Do(ctx, "FT.INFO", s.config.IndexName).Result(); err == nil {
		return nil
	}

	// FT.CREATE <index> ON HASH PREFIX 1 vec:
	//   SCHEMA vector VECTOR HNSW 10 TYPE FLOAT32 DIM <dim> DISTANCE_METRIC COSINE EF_CONSTRUCTION 200 M 16
	//          content TEXT  source TAG  file_type TAG  title TEXT  start_index NUMERIC ...
	return s.client.Do(ctx, "FT.CREATE", s.config.IndexName,
		"ON", "HASH",
		"PREFIX", "1", redisKeyPrefix,
		"SCHEMA",
		fieldVector, "VECTOR", "HNSW", "10",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(s.config.VectorDim),
		"DISTANCE_METRIC", "COSINE",
		"EF_CONSTRUCTION", strconv.Itoa(s.config.EFConstruction),
		"M", strconv.Itoa(s.config.M),
		fieldContent, "TEXT",
		fieldSource, "TAG", "SEPARATOR", tagSeparator, "CASESENSITIVE",
		fieldFileType, "TAG",
		fieldTitle, "TEXT",
		fieldStartIndex, "NUMERIC",
		fieldChunkIndex, "NUMERIC",
		fieldCreatedAt, "NUMERIC",
	).Err()
}

// AddBatch embeds docs and writes them as hashes keyed by document ID.
func (s *RedisStore) AddBatch(ctx context.Context, docs []llm.Document) error {
	return s.ReplaceSources(ctx, nil, docs)
}

// ReplaceSources embeds docs first, then deletes the old keys of sources
// and writes docs in a single MULTI/EXEC.
func (s *RedisStore) ReplaceSources(ctx context.Context, sources []string, docs []llm.Document) error {
	for _, source := range sources {
		if source == "" {
			return fmt.Errorf("source cannot be empty")
		}
	}

	vectors, err := embedDocuments(ctx, s.embeddings, docs)
	if err != nil {
		return err
	}

	type record struct {
		key    string
		values []interface{}
	}
	now := time.Now().Unix()
	records := make([]record, len(docs))
	for i, doc := range docs {
		if len(vectors[i]) != s.config.VectorDim {
			return fmt.Errorf("embedding dimension %d does not match index dimension %d", len(vectors[i]), s.config.VectorDim)
		}

		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", doc.ID, err)
		}

		records[i] = record{
			key: redisKeyPrefix + doc.ID,
			values: []interface{}{
				fieldContent, doc.Content,
				fieldVector, encodeVector(vectors[i]),
				fieldSource, doc.Source,
				fieldFileType, doc.FileType,
				fieldTitle, doc.Title,
				fieldStartIndex, doc.StartIndex,
				fieldChunkIndex, doc.ChunkIndex,
				fieldCreatedAt, now,
				fieldMetadata, string(metadataJSON),
			},
		}
	}

	var stale []string
	for _, source := range sources {
		keys, err := s.sourceKeys(ctx, source)
		if err != nil {
			return err
		}
		stale = append(stale, keys...)
	}
	if len(stale) == 0 && len(records) == 0 {
		return nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(stale) > 0 {
			pipe.Del(ctx, stale...)
		}
		for _, r := range records {
			pipe.HSet(ctx, r.key, r.values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write documents: %w", err)
	}
	return nil
}

// encodeVector packs a vector as little-endian FLOAT32, the layout the
// index expects.
func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector unpacks a blob written by encodeVector
func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(data))
	}
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector, nil
}

// escapeTagQuery escapes a value for use inside a @field:{...} query.
func escapeTagQuery(value string) string {
	var sb strings.Builder
	for _, r := range value {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Search runs a KNN query and converts cosine distance back to similarity.
func (s *RedisStore) Search(ctx context.Context, query string, topK int) ([]llm.SearchResult, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = 5
	}
	if topK > maxSearchResults {
		topK = maxSearchResults
	}

	queryVector, err := s.embeddings.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	result, err := s.client.Do(ctx, "FT.SEARCH", s.config.IndexName,
		fmt.Sprintf("*=>[KNN %d @%s $query_vector AS %s]", topK, fieldVector, fieldScore),
		"PARAMS", "2", "query_vector", encodeVector(queryVector),
		"RETURN", "10", fieldContent, fieldVector, fieldSource, fieldFileType, fieldTitle,
		fieldStartIndex, fieldChunkIndex, fieldCreatedAt, fieldMetadata, fieldScore,
		"SORTBY", fieldScore,
		"LIMIT", "0", strconv.Itoa(topK),
		"DIALECT", "2",
	).Result()
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results, err := parseSearchResults(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}
	return results, nil
}

// parseSearchResults parses an FT.SEARCH reply of the form
// [total, key1, [field, value, ...], key2, [...], ...].
func parseSearchResults(result interface{}) ([]llm.SearchResult, error) {
	values, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result format %T", result)
	}

	results := make([]llm.SearchResult, 0, len(values)/2)
	for i := 1; i+1 < len(values); i += 2 {
		key, ok := values[i].(string)
		if !ok {
			continue
		}
		fields, ok := values[i+1].([]interface{})
		if !ok {
			continue
		}

		doc, distance, err := parseDocumentFields(strings.TrimPrefix(key, redisKeyPrefix), fields)
		if err != nil {
			return nil, err
		}
		results = append(results, llm.SearchResult{
			Document: doc,
			Score:    float32(1 - distance),
		})
	}
	return results, nil
}

// parseDocumentFields decodes one hash and its KNN distance.
func parseDocumentFields(id string, fields []interface{}) (llm.Document, float64, error) {
	doc := llm.Document{
		ID:       id,
		Metadata: make(map[string]interface{}),
	}
	var distance float64

	for i := 0; i+1 < len(fields); i += 2 {
		name, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := redisString(fields[i+1])

		switch name {
		case fieldContent:
			doc.Content = value
		case fieldVector:
			vec, err := decodeVector([]byte(value))
			if err != nil {
				return doc, 0, fmt.Errorf("document %s: %w", id, err)
			}
			doc.Vector = vec
		case fieldSource:
			doc.Source = value
		case fieldFileType:
			doc.FileType = value
		case fieldTitle:
			doc.Title = value
		case fieldStartIndex:
			doc.StartIndex, _ = strconv.Atoi(value)
		case fieldChunkIndex:
			doc.ChunkIndex, _ = strconv.Atoi(value)
		case fieldCreatedAt:
			if sec, err := strconv.ParseInt(value, 10, 64); err == nil {
				doc.CreatedAt = time.Unix(sec, 0).Format(time.RFC3339)
			}
		case fieldMetadata:
			if value != "" && value != "null" {
				if err := json.Unmarshal([]byte(value), &doc.Metadata); err != nil {
					return doc, 0, fmt.Errorf("document %s: bad metadata: %w", id, err)
				}
			}
		case fieldScore:
			d, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return doc, 0, fmt.Errorf("document %s: bad score %q", id, value)
			}
			distance = d
		}
	}
	return doc, distance, nil
}

func redisString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// DeleteBySource removes all documents from a specific source file
func (s *RedisStore) DeleteBySource(ctx context.Context, source string) error {
	if source == "" {
		return fmt.Errorf("source cannot be empty")
	}
	return s.ReplaceSources(ctx, []string{source}, nil)
}

// sourceKeys pages through the tag index and returns every key of source.
// Keys come back with their prefix already applied.
func (s *RedisStore) sourceKeys(ctx context.Context, source string) ([]string, error) {
	query := fmt.Sprintf("@%s:{%s}", fieldSource, escapeTagQuery(source))

	var keys []string
	for offset := 0; ; offset += keyPageSize {
		result, err := s.client.Do(ctx, "FT.SEARCH", s.config.IndexName, query,
			"NOCONTENT",
			"LIMIT", strconv.Itoa(offset), strconv.Itoa(keyPageSize),
			"DIALECT", "2",
		).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to find documents for %s: %w", source, err)
		}

		page := parseKeys(result)
		keys = append(keys, page...)
		if len(page) < keyPageSize {
			return keys, nil
		}
	}
}

// parseKeys reads keys from a NOCONTENT reply: [total, key1, key2, ...].
func parseKeys(result interface{}) []string {
	values, ok := result.([]interface{})
	if !ok || len(values) < 2 {
		return nil
	}
	keys := make([]string, 0, len(values)-1)
	for _, v := range values[1:] {
		if key, ok := v.(string); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// Count returns the total number of documents in the store
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	info, err := s.client.Do(ctx, "FT.INFO", s.config.IndexName).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get index info: %w", err)
	}
	return parseNumDocs(info)
}

var errNoNumDocs = errors.New("num_docs missing from index info")

func parseNumDocs(info interface{}) (int64, error) {
	values, ok := info.([]interface{})
	if !ok {
		return 0, fmt.Errorf("unexpected info format %T", info)
	}

	for i := 0; i+1 < len(values); i += 2 {
		if key, ok := values[i].(string); !ok || key != "num_docs" {
			continue
		}
		switch v := values[i+1].(type) {
		case int64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return 0, fmt.Errorf("bad num_docs %q", v)
			}
			return int64(f), nil
		default:
			return 0, fmt.Errorf("unexpected num_docs type %T", v)
		}
	}
	return 0, errNoNumDocs
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
