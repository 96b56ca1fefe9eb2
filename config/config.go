package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChatConfig configures the chat model backend.
type ChatConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
}

// EmbeddingConfig configures the embedding model backend.
type EmbeddingConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
	Dimension int    `yaml:"dimension"`
}

// RedisConfig holds the RediSearch connection and index settings.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	PoolSize       int    `yaml:"pool_size"`
	IndexName      string `yaml:"index_name"`
	EFConstruction int    `yaml:"ef_construction"`
	M              int    `yaml:"m"`
}

// StoreConfig selects the vector store implementation.
type StoreConfig struct {
	Type       string      `yaml:"type"`
	PersistDir string      `yaml:"persist_dir"`
	Redis      RedisConfig `yaml:"redis"`
}

// ChunkConfig configures how documents are split into chunks.
type ChunkConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// RetrievalConfig holds the diversity search parameters. They are tuning
// knobs and have no derivation behind their defaults.
type RetrievalConfig struct {
	K              int     `yaml:"k"`
	FetchK         int     `yaml:"fetch_k"`
	LambdaMult     float64 `yaml:"lambda_mult"`
	ScoreThreshold float64 `yaml:"score_threshold"`
}

type IngestConfig struct {
	SourceDir string `yaml:"source_dir"`
	Workers   int    `yaml:"workers"`
}

type MemoryConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxTurns int  `yaml:"max_turns"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// TraceConfig enables CozeLoop tracing when both fields are set.
type TraceConfig struct {
	CozeLoopAPIToken    string `yaml:"cozeloop_api_token"`
	CozeLoopWorkspaceID string `yaml:"cozeloop_workspace_id"`
}

// Config is the root application configuration.
type Config struct {
	Chat      ChatConfig      `yaml:"chat"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Memory    MemoryConfig    `yaml:"memory"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Trace     TraceConfig     `yaml:"trace"`
}

const (
	StoreLocal = "local"
	StoreRedis = "redis"

	ProviderOpenAI = "openai"
	ProviderQwen   = "qwen"
	ProviderGemini = "gemini"

	// Ollama serves an OpenAI-compatible API under /v1.
	defaultBaseURL = "http://localhost:11434/v1"
	defaultModel   = "deepseek-r1:7b"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Chat: ChatConfig{
			Provider:    ProviderOpenAI,
			APIKey:      "ollama",
			BaseURL:     defaultBaseURL,
			Model:       defaultModel,
			Temperature: 0.3,
		},
		Embedding: EmbeddingConfig{
			APIKey:    "ollama",
			BaseURL:   defaultBaseURL,
			Model:     defaultModel,
			BatchSize: 32,
			Dimension: 1024,
		},
		Store: StoreConfig{
			Type:       StoreLocal,
			PersistDir: "./vector_store",
			Redis: RedisConfig{
				Addr:           "localhost:6379",
				PoolSize:       10,
				IndexName:      "kbqa-chunks",
				EFConstruction: 200,
				M:              16,
			},
		},
		Chunk: ChunkConfig{Size: 800, Overlap: 150},
		Retrieval: RetrievalConfig{
			K:              5,
			FetchK:         20,
			LambdaMult:     0.5,
			ScoreThreshold: 0.4,
		},
		Ingest: IngestConfig{SourceDir: "./", Workers: 8},
		Memory: MemoryConfig{Enabled: false, MaxTurns: 10},
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and finally the process environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyConfigDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field constraints.
func (c *Config) Validate() error {
	if c.Chunk.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Chunk.Size)
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("chunk overlap (%d) must be in [0, size=%d)", c.Chunk.Overlap, c.Chunk.Size)
	}
	if c.Retrieval.K <= 0 {
		return fmt.Errorf("retrieval k must be positive, got %d", c.Retrieval.K)
	}
	if c.Retrieval.FetchK < c.Retrieval.K {
		return fmt.Errorf("retrieval fetch_k (%d) must be >= k (%d)", c.Retrieval.FetchK, c.Retrieval.K)
	}
	if c.Retrieval.LambdaMult < 0 || c.Retrieval.LambdaMult > 1 {
		return fmt.Errorf("retrieval lambda_mult must be in [0, 1], got %v", c.Retrieval.LambdaMult)
	}
	switch c.Store.Type {
	case StoreLocal, StoreRedis:
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	switch c.Chat.Provider {
	case ProviderOpenAI, ProviderQwen, ProviderGemini:
	default:
		return fmt.Errorf("unknown chat provider %q", c.Chat.Provider)
	}
	return nil
}

// TracingEnabled reports whether CozeLoop credentials are present.
func (c *Config) TracingEnabled() bool {
	return c.Trace.CozeLoopAPIToken != "" && c.Trace.CozeLoopWorkspaceID != ""
}

func applyConfigDefaults(cfg *Config) {
	d := Default()
	if cfg.Chat.Provider == "" {
		cfg.Chat.Provider = d.Chat.Provider
	}
	if cfg.Embedding.BatchSize <= 0 {
		cfg.Embedding.BatchSize = d.Embedding.BatchSize
	}
	if cfg.Embedding.Dimension <= 0 {
		cfg.Embedding.Dimension = d.Embedding.Dimension
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = d.Store.Type
	}
	if cfg.Store.PersistDir == "" {
		cfg.Store.PersistDir = d.Store.PersistDir
	}
	if cfg.Store.Redis.IndexName == "" {
		cfg.Store.Redis.IndexName = d.Store.Redis.IndexName
	}
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = d.Ingest.Workers
	}
	if cfg.Memory.MaxTurns <= 0 {
		cfg.Memory.MaxTurns = d.Memory.MaxTurns
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
}

// applyEnv overlays environment variables. Names shared with earlier tools
// (API_KEY, BASE_URL, MODEL, REDIS_*, CHUNK_*) keep their meaning.
func applyEnv(cfg *Config) {
	setString(&cfg.Chat.Provider, "CHAT_PROVIDER")
	setString(&cfg.Chat.APIKey, "API_KEY")
	setString(&cfg.Chat.BaseURL, "BASE_URL")
	setString(&cfg.Chat.Model, "MODEL")
	setFloat32(&cfg.Chat.Temperature, "TEMPERATURE")

	// Gemini keeps its own credentials.
	if cfg.Chat.Provider == ProviderGemini {
		setString(&cfg.Chat.APIKey, "GEMINI_API_KEY")
		setString(&cfg.Chat.Model, "GEMINI_MODEL")
	}

	setString(&cfg.Embedding.APIKey, "EMBEDDING_MODEL_API_KEY")
	setString(&cfg.Embedding.BaseURL, "EMBEDDING_MODEL_BASE_URL")
	setString(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	setInt(&cfg.Embedding.BatchSize, "EMBEDDING_BATCH_SIZE")
	setInt(&cfg.Embedding.Dimension, "VECTOR_DIM")

	setString(&cfg.Store.Type, "VECTOR_STORE")
	setString(&cfg.Store.PersistDir, "VECTOR_DIR")
	setString(&cfg.Store.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Store.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Store.Redis.DB, "REDIS_DB")
	setInt(&cfg.Store.Redis.PoolSize, "REDIS_POOL_SIZE")
	setString(&cfg.Store.Redis.IndexName, "VECTOR_INDEX_NAME")
	setInt(&cfg.Store.Redis.EFConstruction, "HNSW_EF_CONSTRUCTION")
	setInt(&cfg.Store.Redis.M, "HNSW_M")

	setInt(&cfg.Chunk.Size, "CHUNK_SIZE")
	setInt(&cfg.Chunk.Overlap, "CHUNK_OVERLAP")

	setInt(&cfg.Retrieval.K, "RETRIEVAL_K")
	setInt(&cfg.Retrieval.FetchK, "RETRIEVAL_FETCH_K")
	setFloat64(&cfg.Retrieval.LambdaMult, "RETRIEVAL_LAMBDA")
	setFloat64(&cfg.Retrieval.ScoreThreshold, "RETRIEVAL_SCORE_THRESHOLD")

	setString(&cfg.Ingest.SourceDir, "SOURCE_DIR")
	setInt(&cfg.Ingest.Workers, "INGEST_WORKERS")

	setBool(&cfg.Memory.Enabled, "MEMORY_ENABLED")
	setInt(&cfg.Memory.MaxTurns, "MEMORY_MAX_TURNS")

	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setString(&cfg.Log.Level, "LOG_LEVEL")

	setString(&cfg.Trace.CozeLoopAPIToken, "COZE_LOOP_API_TOKEN")
	setString(&cfg.Trace.CozeLoopWorkspaceID, "COZELOOP_WORKSPACE_ID")
}

func setString(dst *string, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			*dst = f
		}
	}
}

func setFloat32(dst *float32, key string) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 32); err == nil {
			*dst = float32(f)
		}
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			*dst = b
		}
	}
}
