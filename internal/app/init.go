package app

import (
	"context"
	"fmt"
	"log/slog"

	"relquery/internal/dbexec"
	"relquery/internal/finder"
	"relquery/internal/planner"
	"relquery/internal/relmeta"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, engineMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	a.logger.Info("connecting to database",
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.Port),
		slog.String("database_effective", a.effectiveDatabase),
		slog.String("database_source", a.databaseSource),
		slog.Bool("dsn_present", a.dsnPresent),
	)

	db, dbStatsReg, err := connectDB(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.push("database", func(_ context.Context) error {
		if dbStatsReg != nil {
			if err := dbStatsReg.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})

	if err := configureDatabase(ctx, a.cfg, a.logger, db, a.effectiveDatabase, a.databaseSource, a.dsnPresent); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}

	schema, err := discoverSchema(ctx, a.cfg, a.logger, db, a.effectiveDatabase, engineMetrics)
	if err != nil {
		return fmt.Errorf("failed to discover schema: %w", err)
	}

	analyzer := relmeta.NewAnalyzer(schema, relmeta.WithMaxDepth(a.cfg.Engine.MaxRelationDepth))
	queryPlanner := planner.New(analyzer, planner.WithLimits(planner.Limits{
		DefaultLimit: a.cfg.Engine.DefaultLimit,
		MaxLimit:     a.cfg.Engine.MaxLimit,
	}))

	executor := dbexec.QueryExecutor(dbexec.NewStandardExecutor(db))

	finderOpts := []finder.Option{
		finder.WithLogger(a.logger.WithComponent("finder").Logger),
	}
	if engineMetrics != nil {
		finderOpts = append(finderOpts, finder.WithMetrics(engineMetrics))
	}
	engineFinder := finder.New(executor, queryPlanner, finderOpts...)

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.engineMetrics = engineMetrics
	a.tracerProvider = tracerProvider
	a.db = db
	a.dbStatsReg = dbStatsReg
	a.executor = executor
	a.schema = schema
	a.analyzer = analyzer
	a.planner = queryPlanner
	a.finder = engineFinder
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
