package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"relquery/internal/config"
	"relquery/internal/introspection"
	"relquery/internal/logging"
	"relquery/internal/naming"
	"relquery/internal/observability"
	"relquery/internal/relmeta"
	"relquery/internal/schemafilter"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          logsConfig.Endpoint,
			Protocol:          logsConfig.Protocol,
			Insecure:          logsConfig.Insecure,
			TLSCertFile:       logsConfig.TLSCertFile,
			TLSClientCertFile: logsConfig.TLSClientCertFile,
			TLSClientKeyFile:  logsConfig.TLSClientKeyFile,
			Headers:           logsConfig.Headers,
			Timeout:           logsConfig.Timeout,
			Compression:       logsConfig.Compression,
			RetryEnabled:      logsConfig.RetryEnabled,
			RetryMaxAttempts:  logsConfig.RetryMaxAttempts,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info("OpenTelemetry logging initialized successfully")

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.EngineMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLPConfig:     observability.OTLPExporterConfig{},
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info("OpenTelemetry metrics initialized successfully")

	engineMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return nil, nil, err
	}

	return meterProvider, engineMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Bool("insecure", tracesConfig.Insecure),
	)

	tracerProvider, err := observability.InitTracerProvider(observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          tracesConfig.Endpoint,
			Protocol:          tracesConfig.Protocol,
			Insecure:          tracesConfig.Insecure,
			TLSCertFile:       tracesConfig.TLSCertFile,
			TLSClientCertFile: tracesConfig.TLSClientCertFile,
			TLSClientKeyFile:  tracesConfig.TLSClientKeyFile,
			Headers:           tracesConfig.Headers,
			Timeout:           tracesConfig.Timeout,
			Compression:       tracesConfig.Compression,
			RetryEnabled:      tracesConfig.RetryEnabled,
			RetryMaxAttempts:  tracesConfig.RetryMaxAttempts,
		},
	})
	if err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry tracing initialized successfully")

	return tracerProvider, nil
}

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	var db *sql.DB
	var dbStatsReg interface{ Unregister() error }

	// Register custom TLS configuration if needed (for verify-ca/verify-full modes)
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	dsn := cfg.Database.DSN()

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		opts := []otelsql.Option{
			otelsql.WithAttributes(semconv.DBSystemMySQL),
		}

		if cfg.Observability.TracingEnabled {
			opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
				DisableErrSkip: true,
			}))
		}

		if cfg.Observability.SQLCommenterEnabled && cfg.Observability.TracingEnabled {
			opts = append(opts, otelsql.WithSQLCommenter(true))
			logger.Info("SQLCommenter enabled - trace context will be injected into SQL queries")
		} else if cfg.Observability.SQLCommenterEnabled && !cfg.Observability.TracingEnabled {
			logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
		}

		var err error
		db, err = otelsql.Open("mysql", dsn, opts...)
		if err != nil {
			return nil, nil, err
		}

		if cfg.Observability.MetricsEnabled {
			dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL))
			if err != nil {
				logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
			}
		}

		logger.Info("database instrumentation enabled",
			slog.Bool("metrics", cfg.Observability.MetricsEnabled),
			slog.Bool("tracing", cfg.Observability.TracingEnabled),
			slog.Bool("sqlcommenter", cfg.Observability.SQLCommenterEnabled && cfg.Observability.TracingEnabled),
		)
		return db, dbStatsReg, nil
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, err
	}
	return db, nil, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, effectiveDatabase string, databaseSource string, dsnPresent bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("database_effective", effectiveDatabase),
		slog.String("database_source", databaseSource),
		slog.Bool("dsn_present", dsnPresent),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return nil
}

func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval

	// If timeout is 0, try once and fail immediately
	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		err := db.PingContext(ctx)

		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		time.Sleep(interval)

		// Exponential backoff, capped at 30s
		interval = min(interval*2, 30*time.Second)
	}
}

func discoverSchema(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, databaseName string, metrics *observability.EngineMetrics) (*relmeta.Schema, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	schema, err := introspection.Discover(ctx, db, databaseName,
		introspection.WithFilter(schemafilter.New(cfg.SchemaFilters)),
		introspection.WithNamer(naming.New(cfg.Naming, logger.WithComponent("naming").Logger)),
		introspection.WithUUIDColumns(cfg.TypeMappings.UUIDColumns),
		introspection.WithLogger(logger.WithComponent("introspection").Logger),
	)
	if metrics != nil {
		entities := 0
		if schema != nil {
			entities = len(schema.Entities)
		}
		metrics.RecordDiscovery(ctx, time.Since(start), int64(entities), err != nil)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("schema discovered",
		slog.String("database", databaseName),
		slog.Int("entities", len(schema.Entities)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return schema, nil
}
