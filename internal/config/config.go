package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"groundplane-sources"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	// Embedding provider: "openai" or "gemini".
	EmbeddingProvider   string `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	GeminiAPIKey        string `envconfig:"GEMINI_API_KEY"`

	// Chat completion endpoint. BaseURL may point at any OpenAI-compatible
	// service; empty means api.openai.com.
	ChatAPIKey  string `envconfig:"CHAT_API_KEY"`
	ChatBaseURL string `envconfig:"CHAT_BASE_URL"`
	ChatModel   string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`

	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"150"`
	ContextChars int `envconfig:"CONTEXT_MAX_CHARS" default:"6000"`
	RetrievalTopK int `envconfig:"RETRIEVAL_TOP_K" default:"4"`

	IngestWorkers       int `envconfig:"INGEST_WORKERS" default:"4"`
	IngestPollSeconds   int `envconfig:"INGEST_POLL_SECONDS" default:"10"`
	FetchTimeoutSeconds int `envconfig:"FETCH_TIMEOUT_SECONDS" default:"10"`

	SessionTTLSeconds int `envconfig:"SESSION_TTL_SECONDS" default:"600"`

	// Storage quota limits per tier, in megabytes / file counts.
	FreeStorageMB int `envconfig:"FREE_STORAGE_LIMIT_MB" default:"2"`
	PaidStorageMB int `envconfig:"PAID_STORAGE_LIMIT_MB" default:"50"`
	ProStorageMB  int `envconfig:"PRO_STORAGE_LIMIT_MB" default:"100"`
	FreeFiles     int `envconfig:"FREE_FILES_LIMIT" default:"5"`
	PaidFiles     int `envconfig:"PAID_FILES_LIMIT" default:"50"`
	ProFiles      int `envconfig:"PRO_FILES_LIMIT" default:"999999"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("GROUNDPLANE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasEmbeddings() bool {
	switch c.EmbeddingProvider {
	case "gemini":
		return c.GeminiAPIKey != ""
	default:
		return c.OpenAIAPIKey != ""
	}
}

func (c *Config) HasChat() bool {
	return c.ChatAPIKey != ""
}
