// Package config provides environment configuration for the Locrit services.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends understood by STORE_BACKEND.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreNATS   = "nats"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Storage
	StoreBackend string
	SQLitePath   string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Locrit backend
	LocritAPIURL string
	LocritWSURL  string
	LocritsFile  string

	// LLM settings
	LLMProvider     string
	LLMModel        string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string

	// Scheduled conversations
	Scheduled ScheduledDefaults

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// CORS
	CORSAllowedOrigins []string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// ScheduledDefaults fills unset scheduled conversation fields and bounds the
// number of live runs.
type ScheduledDefaults struct {
	Duration         int
	MessageFrequency int
	MaxMessages      int
	Style            string
	MaxActive        int
	TemplatesFile    string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),

		// Storage
		StoreBackend: getEnv("STORE_BACKEND", StoreMemory),
		SQLitePath:   getEnv("SQLITE_PATH", "data/locrit.db"),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Locrit backend
		LocritAPIURL: getEnv("LOCRIT_API_URL", ""),
		LocritWSURL:  getEnv("LOCRIT_WS_URL", "ws://localhost:5000/ws"),
		LocritsFile:  getEnv("LOCRITS_FILE", ""),

		// LLM
		LLMProvider:     getEnv("LLM_PROVIDER", "template"),
		LLMModel:        getEnv("LLM_MODEL", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		// Scheduled conversations
		Scheduled: ScheduledDefaults{
			Duration:         getIntEnv("SCHEDULED_DEFAULT_DURATION", 5),
			MessageFrequency: getIntEnv("SCHEDULED_DEFAULT_FREQUENCY", 10),
			MaxMessages:      getIntEnv("SCHEDULED_DEFAULT_MAX_MESSAGES", 20),
			Style:            getEnv("SCHEDULED_DEFAULT_STYLE", "casual"),
			MaxActive:        getIntEnv("SCHEDULED_MAX_ACTIVE", 10),
			TemplatesFile:    getEnv("SCHEDULED_TEMPLATES_FILE", ""),
		},

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// CORS
		CORSAllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS"),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
