// Package app wires the query engine together for one process: logging,
// observability providers, the instrumented database handle, schema
// discovery, and the planner/finder pair built on top of it. Resources are
// released through an explicit cleanup stack in reverse acquisition order.
package app

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"relquery/internal/config"
	"relquery/internal/dbexec"
	"relquery/internal/finder"
	"relquery/internal/logging"
	"relquery/internal/observability"
	"relquery/internal/planner"
	"relquery/internal/relmeta"
)

// App owns runtime resources for the engine lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	effectiveDatabase string
	databaseSource    string
	dsnPresent        bool

	meterProvider  *observability.MeterProvider
	engineMetrics  *observability.EngineMetrics
	tracerProvider *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	executor dbexec.QueryExecutor
	schema   *relmeta.Schema
	analyzer *relmeta.Analyzer
	planner  *planner.Planner
	finder   *finder.Finder

	cleanup cleanupStack

	stateMu     sync.Mutex
	initialized bool

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	effectiveDatabase, databaseSource, err := cfg.Database.EffectiveDatabaseName()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve effective database configuration: %w", err)
	}

	return &App{
		cfg:               cfg,
		logger:            logger,
		effectiveDatabase: effectiveDatabase,
		databaseSource:    databaseSource,
		dsnPresent:        strings.TrimSpace(cfg.Database.ConnectionString) != "",
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Schema returns the discovered entity model. Init must have completed.
func (a *App) Schema() *relmeta.Schema {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.schema
}

// Planner returns the query planner. Init must have completed.
func (a *App) Planner() *planner.Planner {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.planner
}

// Finder returns the find executor. Init must have completed.
func (a *App) Finder() *finder.Finder {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.finder
}

// Gatherer returns the Prometheus gatherer fed by the engine's meter
// provider, or nil when metrics are disabled.
func (a *App) Gatherer() prometheus.Gatherer {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.meterProvider == nil {
		return nil
	}
	return a.meterProvider.Gatherer()
}
