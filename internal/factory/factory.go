package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mcoot/partyrelay/internal/dependencies/clock"
	"github.com/mcoot/partyrelay/internal/dependencies/random"
	"github.com/mcoot/partyrelay/internal/hub"
	"github.com/mcoot/partyrelay/internal/relay"
	"github.com/mcoot/partyrelay/internal/services/auth"
	"github.com/mcoot/partyrelay/internal/services/catalog"
	"github.com/mcoot/partyrelay/internal/services/session"
	"github.com/mcoot/partyrelay/internal/storage"
	"github.com/mcoot/partyrelay/internal/storage/memory"
	redisstorage "github.com/mcoot/partyrelay/internal/storage/redis"
	sqlitestorage "github.com/mcoot/partyrelay/internal/storage/sqlite"
)

// Storage type constants
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
	StorageTypeSQLite = "sqlite"
)

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.Storage

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	Registry          *hub.Registry
	SessionController *session.Controller
	AuthService       *auth.Service
	CatalogService    *catalog.Service
	Relay             *relay.Router
}

// Config holds configuration for the application factory
type Config struct {
	// AuthConfig holds configuration for the auth service; Secret is required
	AuthConfig auth.Config
	// RelayConfig holds websocket settings (optional)
	// If nil, defaults to relay.DefaultConfig()
	RelayConfig *relay.Config
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory", "redis" or "sqlite")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// SQLitePath is the database file (required if StorageType is "sqlite")
	SQLitePath string
}

// New creates a new application with all dependencies wired
func New(ctx context.Context, cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	store, err := newStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Create external dependencies
	clk := clock.New()
	rnd := random.New()

	relayCfg := relay.DefaultConfig()
	if cfg.RelayConfig != nil {
		relayCfg = *cfg.RelayConfig
	}

	app, err := newWithDependencies(store, clk, rnd, cfg.AuthConfig, relayCfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

func newStorage(ctx context.Context, cfg Config, logger *slog.Logger) (storage.Storage, error) {
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		return memory.New(), nil
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		return redisstorage.New(ctx, *cfg.RedisConfig, logger)
	case StorageTypeSQLite:
		if cfg.SQLitePath == "" {
			return nil, errors.New("SQLitePath required when StorageType is sqlite")
		}
		return sqlitestorage.NewLocal(cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("invalid StorageType %q: must be 'memory', 'redis' or 'sqlite'", storageType)
	}
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(
	store storage.Storage,
	clk clock.Clock,
	rnd random.Random,
	authCfg auth.Config,
	relayCfg relay.Config,
	logger *slog.Logger,
) (*App, error) {
	authService, err := auth.New(authCfg, clk, rnd)
	if err != nil {
		return nil, err
	}

	registry := hub.NewRegistry(logger)
	sessionController := session.NewController(store, registry, clk, rnd, logger)
	catalogService := catalog.New(store, clk, logger)
	relayRouter := relay.NewRouter(sessionController, registry, authService, relayCfg, logger)

	return &App{
		Storage:           store,
		Clock:             clk,
		Random:            rnd,
		Registry:          registry,
		SessionController: sessionController,
		AuthService:       authService,
		CatalogService:    catalogService,
		Relay:             relayRouter,
	}, nil
}

// Close shuts every live connection and releases storage
func (a *App) Close() error {
	a.Registry.CloseAll()
	return a.Storage.Close()
}
