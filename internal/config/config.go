package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgallion1/regcheck/internal/llm"
	"github.com/dgallion1/regcheck/internal/vectorstore"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Documents loaded at startup and on reload
	DocumentPaths []string
	LoadOnStart   bool

	// Vector store
	VectorBackend    string
	DataDir          string
	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantCollection string
	QdrantTLS        bool

	// Model providers
	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingBatchSize  int
	CompletionProvider  string
	CompletionModel     string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	AnthropicAPIKey     string
	OllamaURL           string
	ProviderTimeout     time.Duration
	ProviderRPS         float64

	// Chunking
	ChunkSize     int
	ChunkOverlap  int
	MinChunkChars int

	// Retrieval and assessment
	RetrievalK   int
	MinResults   int
	PromptBudget int
	ExcerptChars int
	Temperature  float64
	MaxTokens    int

	// Worker pool
	WorkerCount         int
	MaxQueueSize        int
	MaxConcurrentIngest int

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration

	// PDF
	PDFFallbackPdftotext bool

	LogLevel slog.Level
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8080"),

		APIKey: os.Getenv("REGCHECK_API_KEY"),

		DocumentPaths: envList("DOCUMENT_PATHS", []string{"Instructions.pdf", "Rules.pdf"}),
		LoadOnStart:   envBool("LOAD_ON_START", true),

		VectorBackend:    envOr("VECTOR_BACKEND", vectorstore.BackendSQLite),
		DataDir:          envOr("DATA_DIR", "./data"),
		QdrantHost:       envOr("QDRANT_HOST", "localhost"),
		QdrantPort:       envInt("QDRANT_PORT", 6334),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantCollection: envOr("QDRANT_COLLECTION", "regulatory_documents"),
		QdrantTLS:        envBool("QDRANT_TLS", false),

		EmbeddingProvider:   envOr("EMBEDDING_PROVIDER", llm.ProviderOpenAI),
		EmbeddingModel:      envOr("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 1536),
		EmbeddingBatchSize:  envInt("EMBEDDING_BATCH_SIZE", 64),
		CompletionProvider:  envOr("COMPLETION_PROVIDER", llm.ProviderOpenAI),
		CompletionModel:     envOr("COMPLETION_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:       envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		OllamaURL:           envOr("OLLAMA_URL", "http://localhost:11434"),
		ProviderTimeout:     envDuration("PROVIDER_TIMEOUT", 60*time.Second),
		ProviderRPS:         envFloat("PROVIDER_RPS", 0),

		ChunkSize:     envInt("CHUNK_SIZE", 1000),
		ChunkOverlap:  envInt("CHUNK_OVERLAP", 200),
		MinChunkChars: envInt("MIN_CHUNK_CHARS", 50),

		RetrievalK:   envInt("RETRIEVAL_K", 10),
		MinResults:   envInt("MIN_RESULTS", 5),
		PromptBudget: envInt("PROMPT_BUDGET", 8000),
		ExcerptChars: envInt("EXCERPT_CHARS", 500),
		Temperature:  envFloat("TEMPERATURE", 0.1),
		MaxTokens:    envInt("MAX_TOKENS", 1500),

		WorkerCount:         envInt("WORKER_COUNT", 2),
		MaxQueueSize:        envInt("MAX_QUEUE_SIZE", 100),
		MaxConcurrentIngest: envInt("MAX_CONCURRENT_INGEST", 4),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 104857600), // 100MB

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		PDFFallbackPdftotext: envBool("PDFTOTEXT_FALLBACK", true),

		LogLevel: envLevel("LOG_LEVEL", slog.LevelInfo),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentIngest <= 0 {
		cfg.MaxConcurrentIngest = 4
	}
	if cfg.EmbeddingBatchSize <= 0 {
		cfg.EmbeddingBatchSize = 64
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 104857600
	}
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = 10
	}
	if cfg.MinResults <= 0 {
		cfg.MinResults = 5
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE)")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("TEMPERATURE must be in [0, 2]")
	}

	switch c.VectorBackend {
	case vectorstore.BackendSQLite, vectorstore.BackendChromem:
	case vectorstore.BackendQdrant:
		if c.EmbeddingDimensions <= 0 {
			return fmt.Errorf("EMBEDDING_DIMENSIONS is required for qdrant")
		}
	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q", c.VectorBackend)
	}

	switch c.EmbeddingProvider {
	case llm.ProviderOpenAI:
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "https://api.openai.com/v1" {
			return fmt.Errorf("OPENAI_API_KEY is required for openai embeddings")
		}
	case llm.ProviderOllama:
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	}

	switch c.CompletionProvider {
	case llm.ProviderOpenAI:
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "https://api.openai.com/v1" {
			return fmt.Errorf("OPENAI_API_KEY is required for openai completions")
		}
	case llm.ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required")
		}
	default:
		return fmt.Errorf("unknown COMPLETION_PROVIDER %q", c.CompletionProvider)
	}
	return nil
}

// LLMSettings maps the provider fields onto llm.Settings.
func (c Config) LLMSettings() llm.Settings {
	return llm.Settings{
		EmbeddingProvider:  c.EmbeddingProvider,
		EmbeddingModel:     c.EmbeddingModel,
		CompletionProvider: c.CompletionProvider,
		CompletionModel:    c.CompletionModel,
		OpenAIKey:          c.OpenAIAPIKey,
		OpenAIBaseURL:      c.OpenAIBaseURL,
		AnthropicKey:       c.AnthropicAPIKey,
		OllamaURL:          c.OllamaURL,
		Timeout:            c.ProviderTimeout,
		RPS:                c.ProviderRPS,
	}
}

// StoreConfig maps the vector store fields onto vectorstore.Config.
func (c Config) StoreConfig() vectorstore.Config {
	return vectorstore.Config{
		Backend:          c.VectorBackend,
		DataDir:          c.DataDir,
		QdrantHost:       c.QdrantHost,
		QdrantPort:       c.QdrantPort,
		QdrantAPIKey:     c.QdrantAPIKey,
		QdrantTLS:        c.QdrantTLS,
		QdrantCollection: c.QdrantCollection,
		Dimensions:       c.EmbeddingDimensions,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
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

// envList splits a comma-separated value, dropping blanks.
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

func envLevel(key string, fallback slog.Level) slog.Level {
	var lvl slog.Level
	if v := os.Getenv(key); v != "" {
		if err := lvl.UnmarshalText([]byte(v)); err == nil {
			return lvl
		}
	}
	return fallback
}
