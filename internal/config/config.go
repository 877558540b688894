package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"binledger/internal/core"
)

type Config struct {
	// HTTP Server
	Port           string
	CORSOrigins    []string
	CookieSecure   bool
	TrustedProxies []string

	// Backend selection
	DataBackend  string
	SQLiteDBPath string

	// AMQP change notifications, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Identity
	CredentialDomain  string
	MinPasswordLength int
	BcryptCost        int
	Card1Name         string
	Card2Name         string
	ProfileCacheSize  int
	ProfileCacheTTL   time.Duration

	// Sessions
	JWTSecret     string
	TokenTTL      time.Duration
	AuthRateLimit int

	// GitHub OAuth, disabled when GitHubClientID is empty
	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string

	// Watcher
	WatchUsername string
	WatchPassword string
	WatchInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "8081"),
		CORSOrigins:    getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"}),
		CookieSecure:   getEnvBool("COOKIE_SECURE", false),
		TrustedProxies: getEnvList("TRUSTED_PROXIES", nil),

		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/binledger.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "binledger"),
		AMQPQueue:    getEnv("AMQP_QUEUE", ""),

		CredentialDomain:  getEnv("CREDENTIAL_DOMAIN", "users.binledger.local"),
		MinPasswordLength: getEnvInt("MIN_PASSWORD_LENGTH", 6),
		BcryptCost:        getEnvInt("BCRYPT_COST", 10),
		Card1Name:         getEnv("CARD1_NAME", "Card 1"),
		Card2Name:         getEnv("CARD2_NAME", "Card 2"),
		ProfileCacheSize:  getEnvInt("PROFILE_CACHE_SIZE", 1000),
		ProfileCacheTTL:   getEnvDuration("PROFILE_CACHE_TTL", 10*time.Minute),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		TokenTTL:      getEnvDuration("TOKEN_TTL", 24*time.Hour),
		AuthRateLimit: getEnvInt("AUTH_RATE_LIMIT", 20),

		GitHubClientID:     getEnv("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),
		GitHubCallbackURL:  getEnv("GITHUB_CALLBACK_URL", ""),

		WatchUsername: getEnv("WATCH_USERNAME", ""),
		WatchPassword: getEnv("WATCH_PASSWORD", ""),
		WatchInterval: getEnvDuration("WATCH_INTERVAL", time.Minute),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	return cfg
}

// CardNames returns the default display names of the two cards.
func (c *Config) CardNames() map[core.Card]string {
	return map[core.Card]string{
		core.Card1: c.Card1Name,
		core.Card2: c.Card2Name,
	}
}

// GitHubEnabled reports whether GitHub sign-in is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.CredentialDomain == "" || strings.ContainsAny(c.CredentialDomain, "@ ") {
		errors = append(errors, fmt.Sprintf("invalid credential domain '%s'", c.CredentialDomain))
	}
	if c.MinPasswordLength < 6 || c.MinPasswordLength > 72 {
		errors = append(errors, fmt.Sprintf("invalid minimum password length %d: must be between 6 and 72", c.MinPasswordLength))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errors = append(errors, fmt.Sprintf("invalid bcrypt cost %d: must be between 4 and 31", c.BcryptCost))
	}
	for card, name := range c.CardNames() {
		if strings.TrimSpace(name) == "" {
			errors = append(errors, fmt.Sprintf("default name of %s cannot be empty", card))
		}
	}
	if c.ProfileCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid profile cache size %d: must be at least 1", c.ProfileCacheSize))
	}
	if c.ProfileCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid profile cache TTL %v: must be at least 1 second", c.ProfileCacheTTL))
	}

	if len(c.JWTSecret) < 16 {
		errors = append(errors, "JWT secret must be at least 16 characters")
	}
	if c.TokenTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid token TTL %v: must be at least 1 minute", c.TokenTTL))
	} else if c.TokenTTL > 30*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid token TTL %v: must be at most 30 days", c.TokenTTL))
	}
	if c.AuthRateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid auth rate limit %d: must be at least 1", c.AuthRateLimit))
	}

	if c.GitHubClientID != "" || c.GitHubClientSecret != "" {
		if c.GitHubClientID == "" || c.GitHubClientSecret == "" || c.GitHubCallbackURL == "" {
			errors = append(errors, "GITHUB_CLIENT_ID, GITHUB_CLIENT_SECRET and GITHUB_CALLBACK_URL must be set together")
		} else if u, err := url.Parse(c.GitHubCallbackURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid GitHub callback URL '%s'", c.GitHubCallbackURL))
		}
	}

	if c.WatchInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid watch interval %v: must be at least 1 second", c.WatchInterval))
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}
	if !slices.Contains([]string{"text", "json", "pretty"}, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text, json or pretty", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateWatch checks the settings only the watcher needs.
func (c *Config) ValidateWatch() error {
	if c.WatchUsername == "" || c.WatchPassword == "" {
		return fmt.Errorf("WATCH_USERNAME and WATCH_PASSWORD are required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
