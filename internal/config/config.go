// Package config loads and validates DocQuill configuration.
//
// Configuration errors are reported at load time, never at query time: a
// pipeline that starts is a pipeline with a valid budget and valid group
// bounds.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Granularity is the level of detail at which a retrieved unit is rendered
// into the answer context.
type Granularity string

const (
	GranularitySummary Granularity = "summary"
	GranularityDigest  Granularity = "digest"
	GranularityFull    Granularity = "full"
)

// Config is the complete DocQuill configuration.
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Groups     GroupsConfig     `yaml:"groups"`
	Budget     BudgetConfig     `yaml:"budget"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Rerank     RerankConfig     `yaml:"rerank"`
	LLM        LLMConfig        `yaml:"llm"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// DataDir holds per-document index artifacts and the metadata database.
	DataDir string `yaml:"data_dir"`
}

// GroupsConfig configures semantic grouping of adjacent chunks.
type GroupsConfig struct {
	// Enabled turns semantic grouping on. When false the assembler operates
	// directly on chunks (the GROUPS_DISABLED fallback path, not an error).
	Enabled bool `yaml:"enabled"`

	// TargetChars is the character count a group aims for.
	TargetChars int `yaml:"target_chars"`

	// MinChars is the lower bound below which a trailing group is merged
	// backward into its predecessor.
	MinChars int `yaml:"min_chars"`

	// MaxChars is the hard upper bound on group size.
	MaxChars int `yaml:"max_chars"`
}

// BudgetConfig configures the context token budget.
type BudgetConfig struct {
	// MaxTokens is the total token budget for prompt context plus answer.
	MaxTokens int `yaml:"max_tokens"`

	// ReserveForAnswer is the token slice held back for the generated answer.
	ReserveForAnswer int `yaml:"reserve_for_answer"`

	// DefaultGranularity is the granularity the assembler tries first.
	DefaultGranularity Granularity `yaml:"default_granularity"`
}

// RetrievalConfig configures lexical/vector search and fusion.
type RetrievalConfig struct {
	// K1 is the BM25 term frequency saturation parameter.
	K1 float64 `yaml:"k1"`

	// B is the BM25 length normalization parameter.
	B float64 `yaml:"b"`

	// RRFConstant is the reciprocal rank fusion smoothing term.
	// 60 is the industry standard (Azure AI Search, OpenSearch).
	RRFConstant int `yaml:"rrf_constant"`

	// LexicalBackend selects the lexical index backend: "memory" (default)
	// or "sqlite" (FTS5, concurrent multi-process access).
	LexicalBackend string `yaml:"lexical_backend"`

	// ChunkSize is the character window for ingest chunking.
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is the character overlap between adjacent chunks.
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "ollama" or "static".
	Provider string `yaml:"provider"`

	// Model is the embedding model identifier.
	Model string `yaml:"model"`

	// Host is the embedding API endpoint for the ollama provider.
	Host string `yaml:"host"`

	// Dimensions is the embedding dimension (0 = auto-detect).
	Dimensions int `yaml:"dimensions"`

	// CacheSize is the LRU cache size for the cached embedder wrapper.
	CacheSize int `yaml:"cache_size"`
}

// RerankConfig configures cross-encoder reranking.
type RerankConfig struct {
	// Mode selects the reranker: "off", "local", or "remote".
	Mode string `yaml:"mode"`

	// Model is the rerank model identifier.
	Model string `yaml:"model"`

	// Endpoint is the remote rerank API endpoint.
	Endpoint string `yaml:"endpoint"`

	// APIKeyEnv names the environment variable holding the rerank API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// TopN is how many fused candidates are passed to the reranker.
	TopN int `yaml:"top_n"`
}

// LLMConfig configures the text-generation backend.
type LLMConfig struct {
	// Provider identifies the generation provider. Unknown identifiers fall
	// back to the default OpenAI-compatible provider.
	Provider string `yaml:"provider"`

	// Model is the generation model identifier.
	Model string `yaml:"model"`

	// BaseURL is the provider API base URL.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Timeout bounds a single generation request.
	Timeout time.Duration `yaml:"timeout"`

	// Retries is the number of retry attempts after the initial call.
	Retries int `yaml:"retries"`

	// RetryDelay is the wait between retry attempts.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// StreamBufferChars merges consecutive stream fragments up to this many
	// characters before forwarding. 0 disables buffering (pass-through).
	StreamBufferChars int `yaml:"stream_buffer_chars"`

	// BreakerEnabled wires a circuit breaker into the invoker middleware chain.
	BreakerEnabled bool `yaml:"breaker_enabled"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// Default returns the default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Paths: PathsConfig{
			DataDir: filepath.Join(home, ".docquill"),
		},
		Groups: GroupsConfig{
			Enabled:     true,
			TargetChars: 1200,
			MinChars:    300,
			MaxChars:    2000,
		},
		Budget: BudgetConfig{
			MaxTokens:          4096,
			ReserveForAnswer:   1024,
			DefaultGranularity: GranularityFull,
		},
		Retrieval: RetrievalConfig{
			K1:             1.5,
			B:              0.75,
			RRFConstant:    60,
			LexicalBackend: "memory",
			ChunkSize:      800,
			ChunkOverlap:   80,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			Host:      "http://localhost:11434",
			CacheSize: 2048,
		},
		Rerank: RerankConfig{
			Mode: "off",
			TopN: 20,
		},
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			BaseURL:           "https://api.openai.com/v1",
			APIKeyEnv:         "DOCQUILL_API_KEY",
			Timeout:           120 * time.Second,
			Retries:           2,
			RetryDelay:        2 * time.Second,
			StreamBufferChars: 64,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, applies env overrides, and validates.
// A missing file yields defaults, not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies DOCQUILL_* environment overrides for the knobs
// that are commonly tuned per-invocation.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCQUILL_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("DOCQUILL_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Budget.MaxTokens = n
		}
	}
	if v := os.Getenv("DOCQUILL_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("DOCQUILL_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("DOCQUILL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks configuration invariants. It fails fast so that a query
// never observes an invalid budget or malformed group bounds.
func (c *Config) Validate() error {
	if c.Budget.MaxTokens <= 0 {
		return fmt.Errorf("config: budget.max_tokens must be positive, got %d", c.Budget.MaxTokens)
	}
	if c.Budget.ReserveForAnswer < 0 {
		return fmt.Errorf("config: budget.reserve_for_answer must be non-negative, got %d", c.Budget.ReserveForAnswer)
	}
	if c.Budget.ReserveForAnswer >= c.Budget.MaxTokens {
		return fmt.Errorf("config: budget.reserve_for_answer (%d) must be below budget.max_tokens (%d)",
			c.Budget.ReserveForAnswer, c.Budget.MaxTokens)
	}
	switch c.Budget.DefaultGranularity {
	case GranularitySummary, GranularityDigest, GranularityFull:
	default:
		return fmt.Errorf("config: budget.default_granularity must be summary, digest, or full, got %q",
			c.Budget.DefaultGranularity)
	}
	if c.Groups.MinChars <= 0 || c.Groups.TargetChars <= 0 || c.Groups.MaxChars <= 0 {
		return fmt.Errorf("config: group bounds must be positive (min=%d target=%d max=%d)",
			c.Groups.MinChars, c.Groups.TargetChars, c.Groups.MaxChars)
	}
	if c.Groups.MinChars > c.Groups.TargetChars {
		return fmt.Errorf("config: groups.min_chars (%d) exceeds groups.target_chars (%d)",
			c.Groups.MinChars, c.Groups.TargetChars)
	}
	if c.Groups.TargetChars > c.Groups.MaxChars {
		return fmt.Errorf("config: groups.target_chars (%d) exceeds groups.max_chars (%d)",
			c.Groups.TargetChars, c.Groups.MaxChars)
	}
	if c.Retrieval.K1 <= 0 || c.Retrieval.B < 0 || c.Retrieval.B > 1 {
		return fmt.Errorf("config: invalid BM25 parameters k1=%g b=%g", c.Retrieval.K1, c.Retrieval.B)
	}
	if c.Retrieval.RRFConstant <= 0 {
		return fmt.Errorf("config: retrieval.rrf_constant must be positive, got %d", c.Retrieval.RRFConstant)
	}
	switch c.Retrieval.LexicalBackend {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("config: unknown lexical backend %q (valid: memory, sqlite)", c.Retrieval.LexicalBackend)
	}
	if c.Retrieval.ChunkSize <= 0 {
		return fmt.Errorf("config: retrieval.chunk_size must be positive, got %d", c.Retrieval.ChunkSize)
	}
	if c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("config: retrieval.chunk_overlap (%d) must be in [0, chunk_size)", c.Retrieval.ChunkOverlap)
	}
	switch c.Rerank.Mode {
	case "", "off", "local", "remote":
	default:
		return fmt.Errorf("config: unknown rerank mode %q (valid: off, local, remote)", c.Rerank.Mode)
	}
	if c.LLM.Retries < 0 {
		return fmt.Errorf("config: llm.retries must be non-negative, got %d", c.LLM.Retries)
	}
	if c.LLM.StreamBufferChars < 0 {
		return fmt.Errorf("config: llm.stream_buffer_chars must be non-negative, got %d", c.LLM.StreamBufferChars)
	}
	return nil
}

// APIKey resolves the generation API key from the configured environment
// variable. Empty when unset.
func (c *LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}
