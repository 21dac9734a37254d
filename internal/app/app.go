package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/gridstone/gridstone/internal/config"
	"github.com/gridstone/gridstone/internal/server"
	"github.com/gridstone/gridstone/internal/store"
	"github.com/gridstone/gridstone/internal/timeline"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *config.Config
	appCfg *Config
	store  *store.Store
	runner *timeline.Runner
	server *server.Server
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger, an open store,
// and the HTTP server constructed but not yet listening. The caller must
// Close the app when done.
func NewApp(outW io.Writer, errW io.Writer, appCfg *Config) (*App, error) {
	logger := newLogger(appCfg.LogLevel, appCfg.LogFormat, errW)
	logger.Debug("Logger configured successfully.")

	cfg, err := config.Load(appCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debug("Configuration loaded.", "path", appCfg.ConfigPath)

	st, err := store.Open(store.Config{
		Path:     cfg.Database.Path,
		PoolSize: cfg.Database.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	runner := timeline.NewRunner(st)
	srv := server.New(server.Config{
		Store:            st,
		Runner:           runner,
		Logger:           logger,
		AnalyticsURL:     cfg.Analytics.BaseURL,
		AnalyticsTimeout: cfg.Analytics.Timeout,
	})

	return &App{
		outW:   outW,
		logger: logger,
		cfg:    cfg,
		appCfg: appCfg,
		store:  st,
		runner: runner,
		server: srv,
	}, nil
}

// Close releases the app's resources.
func (a *App) Close() error {
	return a.store.Close()
}

// Store returns the application's store. This is primarily for testing.
func (a *App) Store() *store.Store {
	return a.store
}
