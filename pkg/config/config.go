package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	GoogleApiKey   string
	TavilyApiKey   string
	DatabaseURL    string
	ReasoningModel string
	FastModel      string
	EmbeddingModel string
	Port           string

	MemoryTable        string
	EmbeddingDimension int

	MaxIterations int
	TokenBudget   int
	SearchTimeout time.Duration
	MaxResults    int
}

func Load() *Config {
	return &Config{
		GoogleApiKey:   getEnv("GOOGLE_API_KEY", ""),
		TavilyApiKey:   getEnv("TAVILY_API_KEY", ""),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		ReasoningModel: getEnv("REASONING_MODEL", "gemini-3-pro-preview"),
		FastModel:      getEnv("FAST_MODEL", "gemini-3-flash-preview"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		Port:           getEnv("PORT", "3000"),

		MemoryTable:        getEnv("MEMORY_TABLE", "memories"),
		EmbeddingDimension: getEnvAsInt("EMBEDDING_DIMENSION", 1536),

		MaxIterations: getEnvAsInt("MAX_ITERATIONS", 3),
		TokenBudget:   getEnvAsInt("TOKEN_BUDGET", 8000),
		SearchTimeout: getEnvAsDuration("SEARCH_TIMEOUT", 30*time.Second),
		MaxResults:    getEnvAsInt("MAX_RESULTS", 5),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
