package backend

import (
	"fmt"
	"time"

	"binledger/internal/config"
	"binledger/internal/services"
)

// BackendType selects the document store.
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string

	// AMQP is optional; empty AMQPURL disables change notifications.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	BcryptCost        int
	MinPasswordLength int

	Identity         services.IdentityConfig
	ProfileCacheSize int
	ProfileCacheTTL  time.Duration
}

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type:              backendType,
		SQLiteDBPath:      appConfig.SQLiteDBPath,
		AMQPURL:           appConfig.AMQPURL,
		AMQPExchange:      appConfig.AMQPExchange,
		AMQPQueue:         appConfig.AMQPQueue,
		BcryptCost:        appConfig.BcryptCost,
		MinPasswordLength: appConfig.MinPasswordLength,
		Identity: services.IdentityConfig{
			CredentialDomain: appConfig.CredentialDomain,
			CardNames:        appConfig.CardNames(),
		},
		ProfileCacheSize: appConfig.ProfileCacheSize,
		ProfileCacheTTL:  appConfig.ProfileCacheTTL,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Type == SQLiteBackend && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required for sqlite backend")
	}
	if c.AMQPURL != "" && c.AMQPExchange == "" {
		return fmt.Errorf("AMQP exchange is required when AMQP URL is set")
	}
	return nil
}
