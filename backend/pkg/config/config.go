package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// App
	Port        string
	Env         string
	FrontendURL string
	UploadDir   string

	// LLM (OpenAI-compatible endpoint)
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	Model          string
	EmbeddingModel string

	// TTS (GPT-SoVITS)
	TTSBaseURL string

	// Graph memory
	GraphMemoryEnabled  bool
	Neo4jURI            string
	Neo4jUser           string
	Neo4jPassword       string
	Neo4jDatabase       string
	SimilarityThreshold float64 // cosine score cutoff for vector recall
	VectorSearchK       int     // nearest neighbours requested per vector query
	GraphDepthLimit     int     // hard cap on visualization traversal depth

	// History (relational transcript store, optional)
	DatabaseURL string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8000"),
		Env:         getEnv("ENV", "development"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
		UploadDir:   getEnv("UPLOAD_DIR", "uploads/audio"),

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		Model:          getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),

		TTSBaseURL: getEnv("GPT_SOVITS_BASE_URL", "http://127.0.0.1:9880"),

		GraphMemoryEnabled:  getEnvBool("GRAPH_MEMORY_ENABLED", false),
		Neo4jURI:            getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:           getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword:       getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase:       getEnv("NEO4J_DATABASE", "neo4j"),
		SimilarityThreshold: getEnvFloat("MEMORY_SIMILARITY_THRESHOLD", 0.70),
		VectorSearchK:       getEnvInt("MEMORY_VECTOR_K", 5),
		GraphDepthLimit:     getEnvInt("GRAPH_DEPTH_LIMIT", 5),

		DatabaseURL: getEnv("DATABASE_URL", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.GraphMemoryEnabled {
		if c.Neo4jURI == "" {
			return fmt.Errorf("NEO4J_URI is required when graph memory is enabled")
		}
		if c.Neo4jPassword == "" {
			return fmt.Errorf("NEO4J_PASSWORD is required when graph memory is enabled")
		}
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("MEMORY_SIMILARITY_THRESHOLD must be within [0, 1]")
	}
	if c.VectorSearchK < 1 {
		return fmt.Errorf("MEMORY_VECTOR_K must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch os.Getenv(key) {
	case "1", "true", "TRUE", "True", "yes":
		return true
	case "0", "false", "FALSE", "False", "no":
		return false
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
