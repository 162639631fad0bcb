package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MONGO_URL", "")
	t.Setenv("CHROMA_HOST", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Mongo.Database != "slack_corpus" {
		t.Errorf("expected default MONGO_DB 'slack_corpus', got %q", cfg.Mongo.Database)
	}
	if cfg.Chroma.Port != "8000" {
		t.Errorf("expected default CHROMA_PORT '8000', got %q", cfg.Chroma.Port)
	}
	if cfg.Ollama.EmbeddingModel != "nomic-embed-text" {
		t.Errorf("expected default embedding model 'nomic-embed-text', got %q", cfg.Ollama.EmbeddingModel)
	}
	if cfg.Pipeline.WorkerPoolSize < 1 {
		t.Errorf("expected WorkerPoolSize >= 1, got %d", cfg.Pipeline.WorkerPoolSize)
	}
	if cfg.Pipeline.ImportBatchSize != 500 {
		t.Errorf("expected default ImportBatchSize 500, got %d", cfg.Pipeline.ImportBatchSize)
	}
	if cfg.Pipeline.TrainBatchSize != 64 {
		t.Errorf("expected default TrainBatchSize 64, got %d", cfg.Pipeline.TrainBatchSize)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Port: "not-a-port"},
		Mongo:   MongoConfig{URL: "mongodb://localhost:27017", Database: "db"},
		Chroma:  ChromaConfig{Host: "localhost", Port: "8000"},
		Ollama:  OllamaConfig{URL: "http://localhost:11434", EmbeddingModel: "nomic-embed-text"},
		Storage: StorageConfig{DataDir: "./data"},
		Pipeline: PipelineConfig{
			WorkerPoolSize:  1,
			ImportBatchSize: 500,
			TrainBatchSize:  64,
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidateRequiresChromaPort(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Port: "8080"},
		Mongo:   MongoConfig{URL: "mongodb://localhost:27017", Database: "db"},
		Chroma:  ChromaConfig{Host: "localhost", Port: "not-a-port"},
		Ollama:  OllamaConfig{URL: "http://localhost:11434", EmbeddingModel: "nomic-embed-text"},
		Storage: StorageConfig{DataDir: "./data"},
		Pipeline: PipelineConfig{
			WorkerPoolSize:  1,
			ImportBatchSize: 500,
			TrainBatchSize:  64,
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid CHROMA_PORT, got nil")
	}
}

func TestValidateRequiresPositivePipelineSizes(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Port: "8080"},
		Mongo:   MongoConfig{URL: "mongodb://localhost:27017", Database: "db"},
		Chroma:  ChromaConfig{Host: "localhost", Port: "8000"},
		Ollama:  OllamaConfig{URL: "http://localhost:11434", EmbeddingModel: "nomic-embed-text"},
		Storage: StorageConfig{DataDir: "./data"},
		Pipeline: PipelineConfig{
			WorkerPoolSize:  0,
			ImportBatchSize: 500,
			TrainBatchSize:  64,
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero WorkerPoolSize, got nil")
	}
}
