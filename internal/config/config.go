// Package config provides environment configuration for the orchestrator.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Durable store
	DatabasePath string

	// Session lifecycle
	SessionTTL time.Duration

	// Agent platform settings
	AgentAPIURL         string
	AgentAPIKey         string
	ProductAgentID      string
	SalesAgentID        string
	AgentRequestTimeout time.Duration
	AgentPollInterval   time.Duration
	AgentMaxAttempts    int
	AgentErrorBudget    int
	AgentInitMessage    string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings (ops API)
	JWTSecret string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 150*time.Second),

		// Store
		DatabasePath: getEnv("DATABASE_PATH", "data/orchestrator.db"),

		// Sessions
		SessionTTL: getDurationEnv("SESSION_TTL", 30*time.Minute),

		// Agent platform
		AgentAPIURL:         getEnv("AGENT_API_URL", "https://agent-prod.studio.lyzr.ai/v3/inference/chat/"),
		AgentAPIKey:         getEnv("AGENT_API_KEY", ""),
		ProductAgentID:      getEnv("PRODUCT_AGENT_ID", ""),
		SalesAgentID:        getEnv("SALES_AGENT_ID", ""),
		AgentRequestTimeout: getDurationEnv("AGENT_REQUEST_TIMEOUT", 60*time.Second),
		AgentPollInterval:   getDurationEnv("AGENT_POLL_INTERVAL", time.Second),
		AgentMaxAttempts:    getIntEnv("AGENT_MAX_ATTEMPTS", 90),
		AgentErrorBudget:    getIntEnv("AGENT_ERROR_BUDGET", 5),
		AgentInitMessage:    getEnv("AGENT_INIT_MESSAGE", "HI"),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

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
