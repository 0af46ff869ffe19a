// Package app provides the application initialization and lifecycle management
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/tildaslashalef/tether/internal/config"
	"github.com/tildaslashalef/tether/internal/database"
	"github.com/tildaslashalef/tether/internal/element"
	"github.com/tildaslashalef/tether/internal/git"
	"github.com/tildaslashalef/tether/internal/github"
	"github.com/tildaslashalef/tether/internal/lock"
	"github.com/tildaslashalef/tether/internal/loggy"
	"github.com/tildaslashalef/tether/internal/sync"
	"github.com/urfave/cli/v2"
)

const metadataKey = "app"

// App represents the application instance with its dependencies
type App struct {
	Config   *config.Config
	Elements *element.Service
	Settings *config.SettingsService
	SyncLogs sync.LogRepository
	Adapters *sync.Registry
	Engine   *sync.Engine
	Locker   *lock.Locker
	Git      *git.Service
	Logger   *loggy.Logger
}

// New initializes a new application instance with all its dependencies
func New() (*App, error) {
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}

	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	loggy.Info("Application initializing",
		"version", os.Getenv("VERSION"),
		"log_level", cfg.Logging.Level,
	)

	if err := database.InitDB(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	app, err := initServices(cfg, db)
	if err != nil {
		return nil, err
	}

	loggy.Info("Application initialized successfully")
	return app, nil
}

// initConfig loads and sets up the application configuration
func initConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	config.Set(cfg)
	return cfg, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices initializes all application services
func initServices(cfg *config.Config, db *sql.DB) (*App, error) {
	logger := loggy.GetGlobalLogger()
	ctx := context.Background()

	settingsService := config.NewSettingsService(db, cfg, logger)
	if err := settingsService.LoadGitHubToken(ctx); err != nil {
		loggy.Warn("Failed to load GitHub token from database", "error", err)
	}

	elementService := element.NewService(element.NewSQLRepository(db, logger), logger)
	syncLogs := sync.NewSQLRepository(db, logger)

	adapters, err := initAdapters(cfg, logger)
	if err != nil {
		return nil, err
	}

	strategy, err := sync.ParseStrategy(cfg.Sync.DefaultStrategy)
	if err != nil {
		return nil, err
	}

	engine := sync.NewEngine(
		elementService.Repository(),
		adapters,
		logger,
		sync.WithCursorStore(settingsService),
		sync.WithLogRepository(syncLogs),
		sync.WithDefaultStrategy(strategy),
	)

	return &App{
		Config:   cfg,
		Elements: elementService,
		Settings: settingsService,
		SyncLogs: syncLogs,
		Adapters: adapters,
		Engine:   engine,
		Locker:   lock.New(cfg.Sync.LockDir, cfg.Sync.LockTimeout, logger),
		Git:      git.NewService(logger),
		Logger:   logger,
	}, nil
}

// initAdapters registers every provider that is configured. A provider
// without credentials is skipped so local commands keep working.
func initAdapters(cfg *config.Config, logger *loggy.Logger) (*sync.Registry, error) {
	registry := sync.NewRegistry()

	var overrides config.FieldMapFile
	if cfg.Sync.FieldMapFile != "" {
		var err error
		overrides, err = config.LoadFieldMapFile(cfg.Sync.FieldMapFile)
		if err != nil {
			return nil, err
		}
	}

	client, err := github.NewClient(&cfg.GitHub, logger)
	if err != nil {
		loggy.Warn("GitHub provider disabled", "error", err)
		return registry, nil
	}
	fieldMap, err := github.FieldMapFromConfig(cfg, overrides)
	if err != nil {
		return nil, fmt.Errorf("building GitHub field map: %w", err)
	}
	registry.Register(github.NewAdapter(client, fieldMap, logger))

	return registry, nil
}

// Shutdown gracefully shuts down the application
func (app *App) Shutdown() error {
	loggy.Info("Shutting down application")

	if err := database.CloseDB(); err != nil {
		loggy.Error("Error closing database connection", "error", err)
	}

	return nil
}

// FromContext returns the App stored in the CLI context, initializing it on
// first use so commands such as init can run before a config exists
func FromContext(c *cli.Context) (*App, error) {
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}

	if app, ok := c.App.Metadata[metadataKey].(*App); ok {
		return app, nil
	}

	app, err := New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	c.App.Metadata[metadataKey] = app
	return app, nil
}

// Loaded returns the App if a command initialized one
func Loaded(c *cli.Context) (*App, bool) {
	if c.App.Metadata == nil {
		return nil, false
	}
	app, ok := c.App.Metadata[metadataKey].(*App)
	return app, ok
}
