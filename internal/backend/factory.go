// Package backend assembles the document store, the auth provider and the
// services on top of them for a chosen storage backend.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"binledger/internal/amqp"
	"binledger/internal/authprovider"
	"binledger/internal/authprovider/local"
	"binledger/internal/cache"
	"binledger/internal/core"
	"binledger/internal/docstore"
	"binledger/internal/docstore/memory"
	"binledger/internal/docstore/sqlite"
	applog "binledger/internal/log"
	"binledger/internal/metrics"
	"binledger/internal/services"
)

// CleanupFunc releases backend resources.
type CleanupFunc func() error

// Backend is everything a process needs to serve the ledger.
type Backend struct {
	// Raw is the unguarded store. Only infrastructure (the change relay,
	// readiness checks) touches it directly.
	Raw docstore.Store
	// Store enforces per-account access and is what the services use.
	Store    *docstore.Guard
	Auth     authprovider.Provider
	Ledger   *services.LedgerService
	Identity *services.IdentityService
	// AMQP is nil when change notifications are disabled or the broker
	// was unreachable at startup.
	AMQP    *amqp.Client
	Caches  *cache.Manager
	Metrics *metrics.Metrics
}

// BackendResult contains the backend instance and its cleanup function
type BackendResult struct {
	Backend *Backend
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

type DefaultFactory struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewFactory creates a new backend factory. m may be nil.
func NewFactory(logger *slog.Logger, m *metrics.Metrics) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger:  logger.With(applog.FieldComponent, applog.ComponentBackend),
		metrics: m,
	}
}

func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	raw, err := f.openStore(config)
	if err != nil {
		return nil, err
	}

	guarded := docstore.NewGuard(raw)
	provider := local.New(raw, local.Options{
		BcryptCost:        config.BcryptCost,
		MinPasswordLength: config.MinPasswordLength,
	})

	var client *amqp.Client
	var notifier services.ChangeNotifier
	if config.AMQPURL != "" {
		client, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without change notifications", applog.FieldError, err)
			client = nil
		} else {
			notifier = client
			f.logger.InfoContext(ctx, "Initialized AMQP client", "exchange", config.AMQPExchange)
		}
	}

	size := config.ProfileCacheSize
	if size < 1 {
		size = 1000
	}
	ttl := config.ProfileCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	profiles := cache.NewLRUCache[core.Profile](size, ttl)
	caches := cache.NewManager()
	caches.Register("profiles", profiles)

	b := &Backend{
		Raw:      raw,
		Store:    guarded,
		Auth:     provider,
		Ledger:   services.NewLedgerService(guarded, notifier, f.metrics),
		Identity: services.NewIdentityService(guarded, provider, config.Identity, profiles, f.metrics),
		AMQP:     client,
		Caches:   caches,
		Metrics:  f.metrics,
	}

	f.logger.InfoContext(ctx, "Initialized backend",
		"type", config.Type.String(),
		"amqp_enabled", client != nil)

	cleanup := func() error {
		caches.Stop()
		var errs []error
		if client != nil {
			errs = append(errs, client.Close())
		}
		errs = append(errs, raw.Close())
		return errors.Join(errs...)
	}
	return &BackendResult{Backend: b, Cleanup: cleanup}, nil
}

func (f *DefaultFactory) openStore(config Config) (docstore.Store, error) {
	switch config.Type {
	case SQLiteBackend:
		s, err := sqlite.Open(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		f.logger.Info("Opened SQLite store", "db_path", config.SQLiteDBPath)
		return s, nil
	case MemoryBackend:
		f.logger.Info("Using in-memory store; data is lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
