// Package config loads runtime settings from the environment and sets up logging.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider names an LLM backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGroq      Provider = "groq"
	ProviderBedrock   Provider = "bedrock"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendSurreal  = "surreal"
)

// Config holds all configuration values.
type Config struct {
	// Persistence
	StoreBackend string
	SQLitePath   string
	PostgresDSN  string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// LLM
	LLMProvider     Provider
	LLMModel        string
	TitleModel      string
	FallbackModel   string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GroqAPIKey      string
	AWSRegion       string

	// Research agent
	AgentTimeout        time.Duration
	AgentMaxSteps       int
	CompactionThreshold int
	CompactionKeepLast  int

	// Search providers
	TavilyAPIKey          string
	TavilyURL             string
	SemanticScholarURL    string
	SemanticScholarAPIKey string
	OpenAlexURL           string
	OpenAlexMailto        string
	SearchTimeout         time.Duration

	// Retry policy for outbound calls
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64

	// Logging
	LogFile  string
	LogLevel slog.Level

	// HTTP server
	ServerAddr  string
	TurnHistory int

	// CLI identity
	UserEmail string
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite)),
		SQLitePath:   getEnv("MEDRESEARCH_SQLITE_PATH", defaultSQLitePath()),
		PostgresDSN:  getEnv("MEDRESEARCH_POSTGRES_DSN", ""),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "medresearch"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "research"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LLMProvider:     Provider(strings.ToLower(getEnv("MEDRESEARCH_LLM_PROVIDER", string(ProviderOllama)))),
		LLMModel:        getEnv("MEDRESEARCH_LLM_MODEL", "qwen3:8b"),
		TitleModel:      getEnv("MEDRESEARCH_TITLE_MODEL", ""),
		FallbackModel:   getEnv("MEDRESEARCH_FALLBACK_MODEL", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GroqAPIKey:      getEnv("GROQ_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		AgentTimeout:        getEnvDuration("MEDRESEARCH_AGENT_TIMEOUT", 3*time.Minute),
		AgentMaxSteps:       getEnvInt("MEDRESEARCH_AGENT_MAX_STEPS", 8),
		CompactionThreshold: getEnvInt("MEDRESEARCH_COMPACTION_THRESHOLD", 40),
		CompactionKeepLast:  getEnvInt("MEDRESEARCH_COMPACTION_KEEP_LAST", 20),

		TavilyAPIKey:          getEnv("TAVILY_API_KEY", ""),
		TavilyURL:             getEnv("MEDRESEARCH_TAVILY_URL", "https://api.tavily.com"),
		SemanticScholarURL:    getEnv("MEDRESEARCH_SEMANTIC_SCHOLAR_URL", "https://api.semanticscholar.org/graph/v1"),
		SemanticScholarAPIKey: getEnv("SEMANTIC_SCHOLAR_API_KEY", ""),
		OpenAlexURL:           getEnv("MEDRESEARCH_OPENALEX_URL", "https://api.openalex.org"),
		OpenAlexMailto:        getEnv("MEDRESEARCH_OPENALEX_MAILTO", ""),
		SearchTimeout:         getEnvDuration("MEDRESEARCH_SEARCH_TIMEOUT", 15*time.Second),

		RetryMaxAttempts:     getEnvInt("MEDRESEARCH_RETRY_MAX_ATTEMPTS", 3),
		RetryInitialInterval: getEnvDuration("MEDRESEARCH_RETRY_INITIAL_INTERVAL", 500*time.Millisecond),
		RetryMaxInterval:     getEnvDuration("MEDRESEARCH_RETRY_MAX_INTERVAL", 10*time.Second),
		RetryMultiplier:      getEnvFloat("MEDRESEARCH_RETRY_MULTIPLIER", 2.0),

		LogFile:  getEnv("MEDRESEARCH_LOG_FILE", "/tmp/medresearch.log"),
		LogLevel: parseLogLevel(getEnv("MEDRESEARCH_LOG_LEVEL", "INFO")),

		ServerAddr:  getEnv("MEDRESEARCH_ADDR", ":8484"),
		TurnHistory: getEnvInt("MEDRESEARCH_TURN_HISTORY", 200),

		UserEmail: getEnv("MEDRESEARCH_USER", ""),
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendMemory, BackendSQLite, BackendSurreal:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("MEDRESEARCH_POSTGRES_DSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.LLMProvider {
	case ProviderOllama, ProviderBedrock:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider"))
		}
	case ProviderGroq:
		if c.GroqAPIKey == "" {
			errs = append(errs, errors.New("GROQ_API_KEY is required for the groq provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM provider %q", c.LLMProvider))
	}

	if c.AgentTimeout <= 0 {
		errs = append(errs, errors.New("agent timeout must be positive"))
	}
	if c.AgentMaxSteps < 1 {
		errs = append(errs, errors.New("agent max steps must be at least 1"))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}
	if c.CompactionThreshold > 0 && c.CompactionKeepLast >= c.CompactionThreshold {
		errs = append(errs, errors.New("compaction keep-last must be below the threshold"))
	}

	return errors.Join(errs...)
}

// TitleModelName returns the model used for dialog titles, defaulting to the chat model.
func (c Config) TitleModelName() string {
	if c.TitleModel != "" {
		return c.TitleModel
	}
	return c.LLMModel
}

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "medresearch.db"
	}
	return home + "/.medresearch/medresearch.db"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
