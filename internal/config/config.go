package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds infrastructure-level configuration for the intent service.
type Config struct {
	// Database
	PostgresDSN string

	// Server
	Port int

	// Intent lifecycle
	IntentTTL           time.Duration
	ExpirySweepInterval time.Duration

	// Agent authentication
	AuthMaxSkew time.Duration

	// Requirement selection policy
	SupportedNetworks []string
	SupportedAssets   []string

	// Human authorization channel (bcrypt hash of the app secret)
	AppSecretHash string

	// Rate limiting
	RateLimitRPS     int
	RateLimitBurst   int
	RateLimitEnabled bool
}

// Load loads configuration from environment variables. A .env file, when
// present, fills in variables not already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		PostgresDSN:         getEnv("POSTGRES_DSN", ""),
		Port:                getEnvInt("PORT", 8080),
		IntentTTL:           getEnvDuration("INTENT_TTL", 10*time.Minute),
		ExpirySweepInterval: getEnvDuration("EXPIRY_SWEEP_INTERVAL", 30*time.Second),
		AuthMaxSkew:         getEnvDuration("AUTH_MAX_SKEW", 5*time.Minute),
		SupportedNetworks:   getEnvList("SUPPORTED_NETWORKS", []string{"eip155:8453"}),
		SupportedAssets:     getEnvList("SUPPORTED_ASSETS", []string{"USDC"}),
		AppSecretHash:       getEnv("APP_SECRET_HASH", ""),
		RateLimitRPS:        getEnvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:      getEnvInt("RATE_LIMIT_BURST", 40),
		RateLimitEnabled:    getEnvBool("RATE_LIMIT_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	if c.IntentTTL <= 0 {
		return fmt.Errorf("INTENT_TTL must be positive")
	}

	if c.AuthMaxSkew <= 0 {
		return fmt.Errorf("AUTH_MAX_SKEW must be positive")
	}

	if len(c.SupportedNetworks) == 0 || len(c.SupportedAssets) == 0 {
		return fmt.Errorf("SUPPORTED_NETWORKS and SUPPORTED_ASSETS must not be empty")
	}

	if c.AppSecretHash == "" {
		return fmt.Errorf("APP_SECRET_HASH is required")
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
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

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(valueStr)
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

// getEnvDuration gets a duration environment variable (Go duration syntax,
// e.g. "5m") with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
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

// getEnvList gets a comma-separated environment variable with a default value
func getEnvList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
