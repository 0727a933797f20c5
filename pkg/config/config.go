package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Typesense     TypesenseConfig
	Sources       []SourceConfig
	Consolidation ConsolidationConfig
	OTEL          OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// TypesenseConfig holds Typesense configuration
type TypesenseConfig struct {
	URL    string
	APIKey string
}

// SourceConfig describes one external procurement data source.
// A source with RequiresCredentials=true and an empty APIKey is treated as
// disabled so the engine never burns a timeout on a request that cannot
// succeed.
type SourceConfig struct {
	Code                string
	BaseURL             string
	Enabled             bool
	Priority            int
	TimeoutSeconds      int
	RateLimitRPS        float64
	RequiresCredentials bool
	APIKey              string
}

// ConsolidationConfig holds tuning knobs for the consolidation engine
type ConsolidationConfig struct {
	PerSourceTimeout  time.Duration
	DegradedTimeout   time.Duration
	GlobalTimeout     time.Duration
	FailOnAllErrors   bool
	FailureThreshold  int
	BreakerCooldown   time.Duration
	MemoryCacheTTL    time.Duration
	DurableCacheTTL   time.Duration
	SessionStaleAfter time.Duration
	UseMockSources    bool
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "licitahub"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Typesense: TypesenseConfig{
			URL:    getEnv("TYPESENSE_URL", "http://localhost:8108"),
			APIKey: getEnv("TYPESENSE_API_KEY", "xyz"),
		},
		Sources:       loadSources(),
		Consolidation: loadConsolidation(),
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "licitahub-backend"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}, nil
}

func loadConsolidation() ConsolidationConfig {
	return ConsolidationConfig{
		PerSourceTimeout:  time.Duration(getEnvAsInt("CONSOLIDATION_SOURCE_TIMEOUT_SECONDS", 25)) * time.Second,
		DegradedTimeout:   time.Duration(getEnvAsInt("CONSOLIDATION_DEGRADED_TIMEOUT_SECONDS", 45)) * time.Second,
		GlobalTimeout:     time.Duration(getEnvAsInt("CONSOLIDATION_GLOBAL_TIMEOUT_SECONDS", 60)) * time.Second,
		FailOnAllErrors:   getEnvAsBool("CONSOLIDATION_FAIL_ON_ALL_ERRORS", true),
		FailureThreshold:  getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 8),
		BreakerCooldown:   time.Duration(getEnvAsInt("BREAKER_COOLDOWN_SECONDS", 120)) * time.Second,
		MemoryCacheTTL:    time.Duration(getEnvAsInt("RESULT_CACHE_MEMORY_TTL_MINUTES", 30)) * time.Minute,
		DurableCacheTTL:   time.Duration(getEnvAsInt("RESULT_CACHE_DURABLE_TTL_HOURS", 6)) * time.Hour,
		SessionStaleAfter: time.Duration(getEnvAsInt("SESSION_STALE_AFTER_MINUTES", 10)) * time.Minute,
		UseMockSources:    getEnvAsBool("MOCK_SOURCES", false),
	}
}

// loadSources builds the source registration list. Defaults cover the three
// national sources; each can be tuned or disabled via environment variables
// keyed by the source code (e.g. SOURCE_PNCP_ENABLED, SOURCE_PNCP_BASE_URL).
func loadSources() []SourceConfig {
	defaults := []SourceConfig{
		{
			Code:         "pncp",
			BaseURL:      "https://pncp.gov.br/api/consulta",
			Enabled:      true,
			Priority:     1,
			RateLimitRPS: 5,
		},
		{
			Code:         "comprasgov",
			BaseURL:      "https://dadosabertos.compras.gov.br",
			Enabled:      true,
			Priority:     2,
			RateLimitRPS: 3,
		},
		{
			Code:                "transparencia",
			BaseURL:             "https://api.portaldatransparencia.gov.br/api-de-dados",
			Enabled:             true,
			Priority:            3,
			RateLimitRPS:        2,
			RequiresCredentials: true,
		},
	}

	sources := make([]SourceConfig, 0, len(defaults))
	for _, src := range defaults {
		prefix := "SOURCE_" + strings.ToUpper(src.Code)
		src.BaseURL = getEnv(prefix+"_BASE_URL", src.BaseURL)
		src.Enabled = getEnvAsBool(prefix+"_ENABLED", src.Enabled)
		src.Priority = getEnvAsInt(prefix+"_PRIORITY", src.Priority)
		src.TimeoutSeconds = getEnvAsInt(prefix+"_TIMEOUT_SECONDS", 25)
		src.RateLimitRPS = getEnvAsFloat(prefix+"_RATE_LIMIT_RPS", src.RateLimitRPS)
		src.APIKey = getEnv(prefix+"_API_KEY", "")
		sources = append(sources, src)
	}
	return sources
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
