package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig
	Mongo    MongoConfig
	Chroma   ChromaConfig
	Ollama   OllamaConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Port string
	Host string
}

// MongoConfig holds document-store configuration.
type MongoConfig struct {
	URL      string
	Database string
}

// ChromaConfig holds vector-store configuration.
type ChromaConfig struct {
	Host string
	Port string
}

// OllamaConfig holds embedding-service configuration.
type OllamaConfig struct {
	URL            string
	EmbeddingModel string
}

// StorageConfig holds on-disk roots for staged archives, extraction
// trees, and uploaded-file attachments.
type StorageConfig struct {
	DataDir     string
	FileStorage string
}

// PipelineConfig holds the ingestion pipeline's concurrency and batching
// parameters.
type PipelineConfig struct {
	WorkerPoolSize  int
	ImportBatchSize int
	TrainBatchSize  int
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", ""),
		},
		Mongo: MongoConfig{
			URL:      getEnv("MONGO_URL", "mongodb://localhost:27017"),
			Database: getEnv("MONGO_DB", "slack_corpus"),
		},
		Chroma: ChromaConfig{
			Host: getEnv("CHROMA_HOST", "localhost"),
			Port: getEnv("CHROMA_PORT", "8000"),
		},
		Ollama: OllamaConfig{
			URL:            getEnv("OLLAMA_URL", "http://localhost:11434"),
			EmbeddingModel: getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
		},
		Storage: StorageConfig{
			DataDir:     getEnv("DATA_DIR", "./data"),
			FileStorage: getEnv("FILE_STORAGE", "./data/files"),
		},
		Pipeline: PipelineConfig{
			WorkerPoolSize:  getEnvInt("PIPELINE_WORKERS", runtime.NumCPU()),
			ImportBatchSize: getEnvInt("IMPORT_BATCH_SIZE", 500),
			TrainBatchSize:  getEnvInt("TRAIN_BATCH_SIZE", 64),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port != "" {
		port, err := strconv.Atoi(c.Server.Port)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid port: %s", c.Server.Port)
		}
	}

	if c.Mongo.URL == "" {
		return fmt.Errorf("MONGO_URL is required")
	}
	if c.Mongo.Database == "" {
		return fmt.Errorf("MONGO_DB is required")
	}

	if c.Chroma.Host == "" {
		return fmt.Errorf("CHROMA_HOST is required")
	}
	if port, err := strconv.Atoi(c.Chroma.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid CHROMA_PORT: %s", c.Chroma.Port)
	}

	if c.Ollama.URL == "" {
		return fmt.Errorf("OLLAMA_URL is required")
	}
	if c.Ollama.EmbeddingModel == "" {
		return fmt.Errorf("OLLAMA_EMBEDDING_MODEL is required")
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}

	if c.Pipeline.WorkerPoolSize < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be at least 1")
	}
	if c.Pipeline.ImportBatchSize < 1 {
		return fmt.Errorf("IMPORT_BATCH_SIZE must be at least 1")
	}
	if c.Pipeline.TrainBatchSize < 1 {
		return fmt.Errorf("TRAIN_BATCH_SIZE must be at least 1")
	}

	return nil
}

// getEnv gets an environment variable with a fallback default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a fallback default.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
