package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration. Values come from defaults, then the
// optional YAML file, then the environment.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Auth for write and query routes; empty disables it.
	APIKey string `yaml:"api_key"`

	// Origins allowed by CORS. "*" allows any origin without credentials.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// Vector index
	VectorIndex  string `yaml:"vector_index"` // memory|sqlite|postgres|qdrant
	Collection   string `yaml:"collection"`
	SQLitePath   string `yaml:"sqlite_path"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	QdrantURL    string `yaml:"qdrant_url"`
	QdrantAPIKey string `yaml:"qdrant_api_key"`

	// Embeddings
	EmbeddingProvider  string  `yaml:"embedding_provider"` // ollama|openai
	EmbeddingModel     string  `yaml:"embedding_model"`
	EmbeddingDimension int     `yaml:"embedding_dimension"`
	EmbeddingRPS       float64 `yaml:"embedding_rps"`

	// Generation
	LLMProvider    string        `yaml:"llm_provider"` // openai|anthropic|ollama
	LLMTemperature float64       `yaml:"llm_temperature"`
	LLMTimeout     time.Duration `yaml:"llm_timeout"`

	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIModel   string `yaml:"openai_model"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`

	OllamaURL       string `yaml:"ollama_url"`
	OllamaChatModel string `yaml:"ollama_chat_model"`

	// Parent store
	ParentStore     string `yaml:"parent_store"` // none|memory|pathstore
	PathstoreURL    string `yaml:"pathstore_url"`
	PathstoreAPIKey string `yaml:"pathstore_api_key"`

	// Chunking and retrieval
	ParentMaxChars    int `yaml:"parent_max_chars"`
	ChildMaxChars     int `yaml:"child_max_chars"`
	ChildOverlapChars int `yaml:"child_overlap_chars"`
	RetrievalChildren int `yaml:"retrieval_children"`
	MaxParents        int `yaml:"max_parents"`
	ContextMaxChars   int `yaml:"context_max_chars"`

	// Upload pipeline
	WorkerCount    int           `yaml:"worker_count"`
	MaxQueueSize   int           `yaml:"max_queue_size"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	JobTTL         time.Duration `yaml:"job_ttl"`

	// PDF
	PDFFallbackPdftotext bool `yaml:"pdf_fallback_pdftotext"`

	OTelEnabled bool `yaml:"otel_enabled"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:     "8003",
		LogLevel: "info",

		CORSAllowedOrigins: []string{"*"},

		VectorIndex: "memory",
		Collection:  "parent_child_chunks",
		SQLitePath:  "parentdoc.db",
		QdrantURL:   "http://localhost:6333",

		EmbeddingProvider:  "ollama",
		EmbeddingModel:     "all-minilm",
		EmbeddingDimension: 384,

		LLMProvider:    "openai",
		LLMTemperature: 0.2,
		LLMTimeout:     30 * time.Second,

		OpenAIBaseURL: "https://api.openai.com/v1",
		OpenAIModel:   "gpt-4.1-mini",

		AnthropicModel: "claude-sonnet-4-5-20250929",

		OllamaURL:       "http://localhost:11434",
		OllamaChatModel: "llama3.2",

		ParentStore:  "none",
		PathstoreURL: "http://localhost:8080",

		ParentMaxChars:    2000,
		ChildMaxChars:     400,
		ChildOverlapChars: 100,
		RetrievalChildren: 30,
		MaxParents:        4,
		ContextMaxChars:   8000,

		WorkerCount:    4,
		MaxQueueSize:   100,
		MaxUploadBytes: 52428800, // 50MB
		JobTTL:         1 * time.Hour,

		PDFFallbackPdftotext: true,
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded first; it never overrides variables already set. path names an
// optional YAML file; when empty CONFIG_FILE is used.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = envOr("PORT", c.Port)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.APIKey = envOr("API_KEY", c.APIKey)
	c.CORSAllowedOrigins = envList("CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)

	c.VectorIndex = envOr("VECTOR_INDEX", c.VectorIndex)
	c.Collection = envOr("COLLECTION_NAME", c.Collection)
	c.SQLitePath = envOr("SQLITE_PATH", c.SQLitePath)
	c.PostgresDSN = envOr("POSTGRES_DSN", c.PostgresDSN)
	c.QdrantURL = envOr("QDRANT_URL", c.QdrantURL)
	c.QdrantAPIKey = envOr("QDRANT_API_KEY", c.QdrantAPIKey)

	c.EmbeddingProvider = envOr("EMBEDDING_PROVIDER", c.EmbeddingProvider)
	c.EmbeddingModel = envOr("EMBEDDING_MODEL", c.EmbeddingModel)
	c.EmbeddingDimension = envInt("EMBEDDING_DIMENSION", c.EmbeddingDimension)
	c.EmbeddingRPS = envFloat("EMBEDDING_RPS", c.EmbeddingRPS)

	c.LLMProvider = envOr("LLM_PROVIDER", c.LLMProvider)
	c.LLMTemperature = envFloat("LLM_TEMPERATURE", c.LLMTemperature)
	c.LLMTimeout = envDuration("LLM_TIMEOUT", c.LLMTimeout)

	c.OpenAIAPIKey = envOr("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = envOr("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIModel = envOr("OPENAI_MODEL", c.OpenAIModel)

	c.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.AnthropicModel = envOr("ANTHROPIC_MODEL", c.AnthropicModel)

	c.OllamaURL = envOr("OLLAMA_URL", c.OllamaURL)
	c.OllamaChatModel = envOr("OLLAMA_CHAT_MODEL", c.OllamaChatModel)

	c.ParentStore = envOr("PARENT_STORE", c.ParentStore)
	c.PathstoreURL = envOr("PATHSTORE_URL", c.PathstoreURL)
	c.PathstoreAPIKey = envOr("PATHSTORE_API_KEY", c.PathstoreAPIKey)

	c.ParentMaxChars = envInt("PARENT_MAX_CHARS", c.ParentMaxChars)
	c.ChildMaxChars = envInt("CHILD_MAX_CHARS", c.ChildMaxChars)
	c.ChildOverlapChars = envInt("CHILD_OVERLAP_CHARS", c.ChildOverlapChars)
	c.RetrievalChildren = envInt("RETRIEVAL_CHILDREN", c.RetrievalChildren)
	c.MaxParents = envInt("MAX_PARENTS", c.MaxParents)
	c.ContextMaxChars = envInt("CONTEXT_MAX_CHARS", c.ContextMaxChars)

	c.WorkerCount = envInt("WORKER_COUNT", c.WorkerCount)
	c.MaxQueueSize = envInt("MAX_QUEUE_SIZE", c.MaxQueueSize)
	c.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", c.MaxUploadBytes)
	c.JobTTL = envDuration("JOB_TTL", c.JobTTL)

	c.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", c.PDFFallbackPdftotext)
	c.OTelEnabled = envBool("OTEL_ENABLED", c.OTelEnabled)
}

// applyDefaults restores defaults for operational values that cannot be
// meaningful when non-positive. Segment sizes are left for Validate to reject.
func (c *Config) applyDefaults() {
	d := Default()
	if c.EmbeddingDimension <= 0 {
		c.EmbeddingDimension = d.EmbeddingDimension
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = d.LLMTimeout
	}
	if c.RetrievalChildren <= 0 {
		c.RetrievalChildren = d.RetrievalChildren
	}
	if c.MaxParents <= 0 {
		c.MaxParents = d.MaxParents
	}
	if c.ContextMaxChars <= 0 {
		c.ContextMaxChars = d.ContextMaxChars
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = d.MaxUploadBytes
	}
	if c.JobTTL <= 0 {
		c.JobTTL = d.JobTTL
	}
	if len(c.CORSAllowedOrigins) == 0 {
		c.CORSAllowedOrigins = d.CORSAllowedOrigins
	}
}

func (c Config) Validate() error {
	switch c.VectorIndex {
	case "memory", "sqlite", "qdrant":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for VECTOR_INDEX=postgres")
		}
	default:
		return fmt.Errorf("unknown VECTOR_INDEX %q", c.VectorIndex)
	}
	switch c.EmbeddingProvider {
	case "ollama":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for EMBEDDING_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	}
	switch c.LLMProvider {
	case "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	switch c.ParentStore {
	case "none", "memory":
	case "pathstore":
		if c.PathstoreAPIKey == "" {
			return fmt.Errorf("PATHSTORE_API_KEY is required for PARENT_STORE=pathstore")
		}
	default:
		return fmt.Errorf("unknown PARENT_STORE %q", c.ParentStore)
	}
	if c.ParentMaxChars <= 0 {
		return fmt.Errorf("PARENT_MAX_CHARS must be positive, got %d", c.ParentMaxChars)
	}
	if c.ChildMaxChars <= 0 {
		return fmt.Errorf("CHILD_MAX_CHARS must be positive, got %d", c.ChildMaxChars)
	}
	if c.ChildOverlapChars < 0 {
		return fmt.Errorf("CHILD_OVERLAP_CHARS must not be negative, got %d", c.ChildOverlapChars)
	}
	if c.ChildOverlapChars >= c.ChildMaxChars {
		return fmt.Errorf("CHILD_OVERLAP_CHARS (%d) must be less than CHILD_MAX_CHARS (%d)", c.ChildOverlapChars, c.ChildMaxChars)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	return lvl, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
