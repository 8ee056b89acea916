package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds custom metrics for query engine operations
type EngineMetrics struct {
	planDuration     metric.Float64Histogram
	executeDuration  metric.Float64Histogram
	queryCounter     metric.Int64Counter
	errorCounter     metric.Int64Counter
	resultRows       metric.Int64Histogram
	probeKeys        metric.Int64Histogram
	discoverDuration metric.Float64Histogram
	discoverEntities metric.Int64Histogram
}

// InitEngineMetrics initializes query-engine-specific metrics
func InitEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("relquery")

	planDuration, err := meter.Float64Histogram(
		"engine.plan.duration",
		metric.WithDescription("Duration of query planning in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan duration histogram: %w", err)
	}

	executeDuration, err := meter.Float64Histogram(
		"engine.execute.duration",
		metric.WithDescription("Duration of query execution in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execute duration histogram: %w", err)
	}

	queryCounter, err := meter.Int64Counter(
		"engine.queries.total",
		metric.WithDescription("Total number of engine operations by plan mode"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"engine.errors.total",
		metric.WithDescription("Total number of engine operation errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	resultRows, err := meter.Int64Histogram(
		"engine.results.count",
		metric.WithDescription("Number of records returned by find operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create result rows histogram: %w", err)
	}

	probeKeys, err := meter.Int64Histogram(
		"engine.probe.keys",
		metric.WithDescription("Number of root keys selected by two-phase probes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe keys histogram: %w", err)
	}

	discoverDuration, err := meter.Float64Histogram(
		"engine.discover.duration",
		metric.WithDescription("Duration of schema discovery in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discover duration histogram: %w", err)
	}

	discoverEntities, err := meter.Int64Histogram(
		"engine.discover.entities",
		metric.WithDescription("Number of entities produced by schema discovery"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discover entities histogram: %w", err)
	}

	return &EngineMetrics{
		planDuration:     planDuration,
		executeDuration:  executeDuration,
		queryCounter:     queryCounter,
		errorCounter:     errorCounter,
		resultRows:       resultRows,
		probeKeys:        probeKeys,
		discoverDuration: discoverDuration,
		discoverEntities: discoverEntities,
	}, nil
}

// RecordPlan records one plan build with its duration and outcome
func (m *EngineMetrics) RecordPlan(ctx context.Context, duration time.Duration, entity string, hasErrors bool) {
	m.planDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.Bool("has_errors", hasErrors),
	))
}

// RecordExecution records one executed operation with its duration, plan
// mode, and outcome
func (m *EngineMetrics) RecordExecution(ctx context.Context, duration time.Duration, entity, mode string, hasErrors bool) {
	attrs := []attribute.KeyValue{
		attribute.String("entity", entity),
		attribute.String("mode", mode),
		attribute.Bool("has_errors", hasErrors),
	}

	m.executeDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.queryCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if hasErrors {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("mode", mode),
		))
	}
}

// RecordResultRows records the number of records returned by a find
func (m *EngineMetrics) RecordResultRows(ctx context.Context, count int64, entity string) {
	m.resultRows.Record(ctx, count, metric.WithAttributes(
		attribute.String("entity", entity),
	))
}

// RecordProbeKeys records the number of root keys a two-phase probe selected
func (m *EngineMetrics) RecordProbeKeys(ctx context.Context, count int64, entity string) {
	m.probeKeys.Record(ctx, count, metric.WithAttributes(
		attribute.String("entity", entity),
	))
}

// RecordDiscovery records one schema discovery run
func (m *EngineMetrics) RecordDiscovery(ctx context.Context, duration time.Duration, entities int64, hasErrors bool) {
	m.discoverDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.Bool("has_errors", hasErrors),
	))
	if !hasErrors {
		m.discoverEntities.Record(ctx, entities)
	}
}

// InitMetrics initializes all custom metrics and returns the EngineMetrics instance
func InitMetrics(logger *slog.Logger) (*EngineMetrics, error) {
	metrics, err := InitEngineMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine metrics: %w", err)
	}

	logger.Info("custom engine metrics initialized")
	return metrics, nil
}
