// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (prefix AETHERCELL_, plus DATABASE_URL)
//  2. Config file (~/.aethercell/config.yaml)
//  3. Default values
//
// Sensitive data (the PostgreSQL password) is never logged.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidEmbedderModel indicates the embedder model name is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidChunking indicates chunk size/overlap are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidWorkers indicates the ingest worker configuration is invalid.
	ErrInvalidWorkers = errors.New("invalid ingest worker configuration")
)

// Defaults for the retrieval pipeline.
const (
	// DefaultEmbedderModel is the default Ollama embedding model.
	// nomic-embed-text outputs 768 dimensions; the vector_records schema
	// must match (see db/migrations).
	DefaultEmbedderModel = "nomic-embed-text"

	// DefaultGeneratorModel is the model used for upload acknowledgments.
	DefaultGeneratorModel = "llama3.2"

	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the overlap between adjacent chunks.
	DefaultChunkOverlap = 200

	// DefaultIngestWorkers bounds concurrent background ingestion jobs.
	DefaultIngestWorkers = 4

	// DefaultIngestQueueSize bounds the pending background job queue.
	DefaultIngestQueueSize = 64
)

// Config stores application configuration.
type Config struct {
	// Storage configuration (PostgreSQL + pgvector)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Embedding / acknowledgment backend
	OllamaHost     string `mapstructure:"ollama_host"`
	EmbedderModel  string `mapstructure:"embedder_model"`
	EmbeddingDim   int    `mapstructure:"embedding_dim"`
	GeneratorModel string `mapstructure:"generator_model"`

	// Chunking
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`

	// Background ingestion
	IngestWorkers   int `mapstructure:"ingest_workers"`
	IngestQueueSize int `mapstructure:"ingest_queue_size"`

	// HTTP surface
	ListenAddr string `mapstructure:"listen_addr"`

	// Logging
	LogJSON bool `mapstructure:"log_json"`
}

// Load reads configuration from file, environment, and defaults.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AETHERCELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if dir, err := configDir(); err == nil {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// No config file is fine; defaults + env apply.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "aethercell")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db_name", "aethercell")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedding_dim", 768)
	v.SetDefault("generator_model", DefaultGeneratorModel)

	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)

	v.SetDefault("ingest_workers", DefaultIngestWorkers)
	v.SetDefault("ingest_queue_size", DefaultIngestQueueSize)

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_json", false)
}

// configDir returns ~/.aethercell, creating it with restricted permissions.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".aethercell")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if !strings.HasPrefix(c.OllamaHost, "http://") && !strings.HasPrefix(c.OllamaHost, "https://") {
		return fmt.Errorf("%w: %q must start with http:// or https://", ErrInvalidOllamaHost, c.OllamaHost)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidEmbedderModel)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}
	if c.IngestWorkers < 1 {
		return fmt.Errorf("%w: ingest_workers must be positive, got %d", ErrInvalidWorkers, c.IngestWorkers)
	}
	if c.IngestQueueSize < 1 {
		return fmt.Errorf("%w: ingest_queue_size must be positive, got %d", ErrInvalidWorkers, c.IngestQueueSize)
	}
	return nil
}
