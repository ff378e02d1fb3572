// Package config loads and validates service configuration.
//
// Configuration is environment-driven. An optional .env file is loaded
// first (via godotenv), then an optional YAML file can overlay defaults,
// and finally environment variables take highest priority. Every numeric
// setting is clamped against documented bounds at load time so the rest of
// the codebase never re-validates.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Bounds for validated settings.
const (
	MinVectorSize = 64
	MaxVectorSize = 4096

	MinChunkSize = 50
	MaxChunkSize = 10000

	MinChunkOverlap = 0
	MaxChunkOverlap = 1000

	MinMinChunkSize = 10
	MaxMinChunkSize = 1000

	MinSearchLimit = 1
	MaxSearchLimit = 100

	MinRerankTopN = 1
	MaxRerankTopN = 50

	MinRerankCandidates = 1
	MaxRerankCandidates = 20

	MinLLMTimeoutMs = 1000
	MaxLLMTimeoutMs = 300000
)

// Config is the complete service configuration.
type Config struct {
	Qdrant       QdrantConfig       `yaml:"qdrant"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Storage      StorageConfig      `yaml:"storage"`
	Chunking     ChunkingConfig     `yaml:"chunking"`
	Search       SearchConfig       `yaml:"search"`
	Reranking    RerankingConfig    `yaml:"reranking"`
	Features     FeatureConfig      `yaml:"features"`
	Verification VerificationConfig `yaml:"verification"`
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// QdrantConfig configures the vector store.
type QdrantConfig struct {
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
	// VectorSize is the embedding dimension D. All vectors written to or
	// read from the store must have exactly this dimension.
	VectorSize int `yaml:"vector_size"`
	// Backend selects "qdrant" (default) or "memory" (in-process HNSW,
	// used for air-gapped deployments and tests).
	Backend string `yaml:"backend"`
}

// GatewayConfig configures the OpenAI-compatible inference gateway
// (LiteLLM) used for embeddings, chat completions, and reranking.
type GatewayConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	EmbeddingModel string        `yaml:"embedding_model"`
	LLMModel       string        `yaml:"llm_model"`
	RerankerModel  string        `yaml:"reranker_model"`
	Timeout        time.Duration `yaml:"timeout"`
}

// StorageConfig configures on-disk persistence.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	UploadDir  string `yaml:"upload_dir"`
	// AllowedDirs optionally restricts ingestion to these base directories.
	AllowedDirs []string `yaml:"allowed_dirs"`
}

// ChunkingConfig configures the chunker defaults.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	MinChunkSize int `yaml:"min_chunk_size"`
}

// SearchConfig configures retrieval defaults.
type SearchConfig struct {
	Limit     int     `yaml:"limit"`
	Threshold float64 `yaml:"threshold"`
}

// RerankingConfig configures the cross-encoder reranker.
type RerankingConfig struct {
	Enabled bool `yaml:"enabled"`
	TopN    int  `yaml:"top_n"`
	// CandidateMultiplier widens the ANN candidate set before reranking.
	CandidateMultiplier int `yaml:"candidate_multiplier"`
}

// FeatureConfig toggles optional pipeline enhancements.
type FeatureConfig struct {
	QueryExpansion bool `yaml:"query_expansion"`
	HyDE           bool `yaml:"hyde"`
	AutoSummary    bool `yaml:"auto_summary"`
	AutoTags       bool `yaml:"auto_tags"`
}

// VerificationConfig configures the answer verification pipeline.
type VerificationConfig struct {
	Enabled            bool          `yaml:"enabled"`
	RelevanceThreshold float64       `yaml:"relevance_threshold"`
	GroundingThreshold float64       `yaml:"grounding_threshold"`
	MaxParallelCalls   int           `yaml:"max_parallel_calls"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RatePerMinute caps index/search/ask requests per minute per client key.
	RatePerMinute int `yaml:"rate_per_minute"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// Default returns the built-in defaults, before env overrides.
func Default() Config {
	return Config{
		Qdrant: QdrantConfig{
			URL:        "http://localhost:6334",
			Collection: "scribe_chunks",
			VectorSize: 1024,
			Backend:    "qdrant",
		},
		Gateway: GatewayConfig{
			BaseURL:        "http://localhost:4000",
			EmbeddingModel: "bge-m3",
			LLMModel:       "gpt-4o-mini",
			RerankerModel:  "bge-reranker-v2-m3",
			Timeout:        30 * time.Second,
		},
		Storage: StorageConfig{
			SQLitePath: "scribe.db",
			UploadDir:  "uploads",
		},
		Chunking: ChunkingConfig{
			ChunkSize:    512,
			ChunkOverlap: 50,
			MinChunkSize: 100,
		},
		Search: SearchConfig{
			Limit:     10,
			Threshold: 0.5,
		},
		Reranking: RerankingConfig{
			Enabled:             true,
			TopN:                10,
			CandidateMultiplier: 4,
		},
		Features: FeatureConfig{
			QueryExpansion: true,
			HyDE:           true,
			AutoSummary:    true,
			AutoTags:       true,
		},
		Verification: VerificationConfig{
			Enabled:            true,
			RelevanceThreshold: 0.6,
			GroundingThreshold: 0.7,
			MaxParallelCalls:   3,
			CacheTTL:           5 * time.Minute,
		},
		Server: ServerConfig{
			Addr:          ":8080",
			RatePerMinute: 60,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration: defaults, optional YAML file (path from
// SCRIBE_CONFIG), then environment variables, then bounds validation.
// A .env file in the working directory is loaded first if present.
func Load() (Config, error) {
	// Missing .env is not an error.
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("SCRIBE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the config.
func (c *Config) applyEnv() {
	setString(&c.Qdrant.URL, "QDRANT_URL")
	setString(&c.Qdrant.Collection, "QDRANT_COLLECTION")
	setInt(&c.Qdrant.VectorSize, "VECTOR_SIZE")
	setString(&c.Qdrant.Backend, "VECTOR_BACKEND")

	setString(&c.Gateway.APIKey, "LITELLM_API_KEY")
	setString(&c.Gateway.BaseURL, "LITELLM_BASE_URL")
	setString(&c.Gateway.EmbeddingModel, "EMBEDDING_MODEL")
	setString(&c.Gateway.LLMModel, "LLM_MODEL")
	setString(&c.Gateway.RerankerModel, "RERANKER_MODEL")
	if ms, ok := lookupInt("LITELLM_TIMEOUT"); ok {
		c.Gateway.Timeout = time.Duration(ms) * time.Millisecond
	}

	setString(&c.Storage.SQLitePath, "SQLITE_PATH")
	setString(&c.Storage.UploadDir, "UPLOAD_DIR")
	if dirs := os.Getenv("ALLOWED_DIRS"); dirs != "" {
		c.Storage.AllowedDirs = strings.Split(dirs, string(os.PathListSeparator))
	}

	setInt(&c.Chunking.ChunkSize, "CHUNK_SIZE")
	setInt(&c.Chunking.ChunkOverlap, "CHUNK_OVERLAP")
	setInt(&c.Chunking.MinChunkSize, "MIN_CHUNK_SIZE")

	setInt(&c.Search.Limit, "SEARCH_LIMIT")
	setFloat(&c.Search.Threshold, "SEARCH_THRESHOLD")

	setBool(&c.Reranking.Enabled, "RERANKING_ENABLED")
	setInt(&c.Reranking.TopN, "RERANK_TOP_N")
	setInt(&c.Reranking.CandidateMultiplier, "RERANK_CANDIDATES")

	setBool(&c.Features.QueryExpansion, "QUERY_EXPANSION")
	setBool(&c.Features.HyDE, "HYDE_ENABLED")
	setBool(&c.Features.AutoSummary, "AUTO_SUMMARY")
	setBool(&c.Features.AutoTags, "AUTO_TAGS")

	setBool(&c.Verification.Enabled, "VERIFICATION_ENABLED")
	setFloat(&c.Verification.RelevanceThreshold, "RELEVANCE_THRESHOLD")
	setFloat(&c.Verification.GroundingThreshold, "GROUNDING_THRESHOLD")
	setInt(&c.Verification.MaxParallelCalls, "MAX_PARALLEL_CALLS")
	if ms, ok := lookupInt("VERIFICATION_CACHE_TTL"); ok {
		c.Verification.CacheTTL = time.Duration(ms) * time.Millisecond
	}

	setString(&c.Server.Addr, "SERVER_ADDR")
	setInt(&c.Server.RatePerMinute, "RATE_PER_MINUTE")

	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.FilePath, "LOG_FILE")
}

// Validate checks required settings and documented bounds.
func (c *Config) Validate() error {
	if c.Gateway.APIKey == "" {
		return fmt.Errorf("LITELLM_API_KEY is required")
	}
	if err := inRange("VECTOR_SIZE", c.Qdrant.VectorSize, MinVectorSize, MaxVectorSize); err != nil {
		return err
	}
	if err := inRange("CHUNK_SIZE", c.Chunking.ChunkSize, MinChunkSize, MaxChunkSize); err != nil {
		return err
	}
	if err := inRange("CHUNK_OVERLAP", c.Chunking.ChunkOverlap, MinChunkOverlap, MaxChunkOverlap); err != nil {
		return err
	}
	if err := inRange("MIN_CHUNK_SIZE", c.Chunking.MinChunkSize, MinMinChunkSize, MaxMinChunkSize); err != nil {
		return err
	}
	if err := inRange("SEARCH_LIMIT", c.Search.Limit, MinSearchLimit, MaxSearchLimit); err != nil {
		return err
	}
	if err := inRange("RERANK_TOP_N", c.Reranking.TopN, MinRerankTopN, MaxRerankTopN); err != nil {
		return err
	}
	if err := inRange("RERANK_CANDIDATES", c.Reranking.CandidateMultiplier, MinRerankCandidates, MaxRerankCandidates); err != nil {
		return err
	}
	timeoutMs := int(c.Gateway.Timeout / time.Millisecond)
	if err := inRange("LITELLM_TIMEOUT", timeoutMs, MinLLMTimeoutMs, MaxLLMTimeoutMs); err != nil {
		return err
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	switch c.Qdrant.Backend {
	case "qdrant", "memory":
	default:
		return fmt.Errorf("VECTOR_BACKEND must be qdrant or memory, got %q", c.Qdrant.Backend)
	}
	return nil
}

func inRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s must be in [%d, %d], got %d", name, lo, hi, v)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookupInt(key); ok {
		*dst = v
	}
}

func lookupInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
