package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	LLM      LLMConfig
	Context  ContextConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret    string
	APIKeyHeader string
	APIKeys      []string
}

type LLMConfig struct {
	OpenAIKey        string
	AnthropicKey     string
	DefaultProvider  string
	DefaultModel     string
	FallbackProvider string
	EmbeddingModel   string
	MaxRetries       int
}

// ContextConfig tunes the context engine: scoring weights, reduction
// aggressiveness, and the result cache.
type ContextConfig struct {
	RecencyWeight      float64
	QualityWeight      float64
	QueryMatchWeight   float64
	ImportanceWeight   float64
	FrequencyWeight    float64
	CrossRefWeight     float64
	RelevanceThreshold float64
	Aggressiveness     string
	CacheTTL           time.Duration
	CacheCapacity      int
	SweepInterval      time.Duration
	MemoryLimit        int
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxRetries, err := getEnvInt("LLM_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid LLM_MAX_RETRIES: %w", err)
	}

	ctxCfg, err := loadContextConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			APIKeyHeader: getEnv("API_KEY_HEADER", "X-API-Key"),
			APIKeys:      splitList(getEnv("API_KEYS", "")),
		},
		LLM: LLMConfig{
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			DefaultProvider:  getEnv("LLM_DEFAULT_PROVIDER", "openai"),
			DefaultModel:     getEnv("LLM_DEFAULT_MODEL", "gpt-4"),
			FallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", ""),
			EmbeddingModel:   getEnv("LLM_EMBEDDING_MODEL", "text-embedding-3-small"),
			MaxRetries:       maxRetries,
		},
		Context: ctxCfg,
	}

	return cfg, nil
}

func loadContextConfig() (ContextConfig, error) {
	var c ContextConfig
	var err error

	if c.RecencyWeight, err = getEnvFloat("CONTEXT_WEIGHT_RECENCY", 0.25); err != nil {
		return c, fmt.Errorf("invalid CONTEXT_WEIGHT_RECENCY: %w", err)
	}
	if c.QualityWeight, err = getEnvFloat("CONTEXT_WEIGHT_QUALITY", 0.25); err != nil {
		return c, fmt.Errorf("invalid CONTEXT_WEIGHT_QUALITY: %w", err)
	}
	if c.QueryMatchWeight, err = getEnvFloat("CONTEXT_WEIGHT_QUERY_MATCH", 0.20); err != nil {
		return c, fmt.Errorf("invalid CONTEXT_WEIGHT_QUERY_MATCH: %w", err)
	}
	if c.ImportanceWeight, err = getEnvFloat("CONTEXT_WEIGHT_IMPORTANCE", 0.15); err != nil {
		return c, fmt.Errorf("invalid CONTEXT_WEIGHT_IMPORTANCE: %w", err)
	}
	if c.FrequencyWeight, err = getEnvFloat("CONTEXT_WEIGHT_FREQUENCY", 0.10); err != nil {
		return c, fmt.Errorf("invalid CONTEXT_WEIGHT_FREQUENCY: %w", err)
	}
	if c.CrossRefWeight, err = getEnvFloat("CONTEXT_WEIGHT_CROSS_REF", 0.05); err != nil {
		return c, fmt.Errorf("invalid CONTEXT_WEIGHT_CROSS_REF: %w", err)
	}
	if c.RelevanceThreshold, err = getEnvFloat("CONTEXT_RELEVANCE_THRESHOLD", 0.5); err != nil {
		return c, fmt.Errorf("invalid CONTEXT_RELEVANCE_THRESHOLD: %w", err)
	}
	if c.CacheTTL, err = getEnvDuration("CONTEXT_CACHE_TTL", 10*time.Minute); err != nil {
		return c, fmt.Errorf("invalid CONTEXT_CACHE_TTL: %w", err)
	}
	if c.SweepInterval, err = getEnvDuration("CONTEXT_CACHE_SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return c, fmt.Errorf("invalid CONTEXT_CACHE_SWEEP_INTERVAL: %w", err)
	}
	if c.CacheCapacity, err = getEnvInt("CONTEXT_CACHE_CAPACITY", 512); err != nil {
		return c, fmt.Errorf("invalid CONTEXT_CACHE_CAPACITY: %w", err)
	}
	if c.MemoryLimit, err = getEnvInt("CONTEXT_MEMORY_LIMIT", 20); err != nil {
		return c, fmt.Errorf("invalid CONTEXT_MEMORY_LIMIT: %w", err)
	}
	c.Aggressiveness = getEnv("CONTEXT_AGGRESSIVENESS", "standard")

	return c, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
