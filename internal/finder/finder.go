// Package finder runs find requests end to end: it compiles them through
// the planner, executes the resulting statements, and folds the flat joined
// rows back into nested records. Two-phase plans run their key probe first
// and skip the fetch entirely when the probe page comes back empty.
package finder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relquery/internal/dbexec"
	"relquery/internal/observability"
	"relquery/internal/planner"
)

// Record is one mapped result row: scalar values keyed by field name, plus
// nested to-one Records and to-many []Record keyed by relation name.
type Record map[string]interface{}

// FindResult is one page of find results with its pagination summary.
type FindResult struct {
	Records  []Record         `json:"records"`
	PageInfo planner.PageInfo `json:"pageInfo"`
}

// Finder executes find requests against a database.
type Finder struct {
	executor dbexec.QueryExecutor
	planner  *planner.Planner
	logger   *slog.Logger
	metrics  *observability.EngineMetrics
}

// Option configures a Finder.
type Option func(*Finder)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Finder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics attaches engine metrics recording.
func WithMetrics(metrics *observability.EngineMetrics) Option {
	return func(f *Finder) {
		f.metrics = metrics
	}
}

// New creates a Finder that plans with p and executes on executor.
func New(executor dbexec.QueryExecutor, p *planner.Planner, opts ...Option) *Finder {
	f := &Finder{
		executor: executor,
		planner:  p,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Find plans and executes one find request and returns the mapped records.
// The result is never nil; an empty page maps to an empty slice.
func (f *Finder) Find(ctx context.Context, input planner.FindInput) ([]Record, error) {
	ctx, span := startSpan(ctx, "finder.find",
		attribute.String("entity", input.Entity))
	defer span.End()

	plan, err := f.plan(ctx, input)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("plan.mode", plan.Mode.String()))

	records, err := f.execute(ctx, plan)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("result.records", len(records)))
	return records, nil
}

// FindAndCount executes the find and the matching unpaginated count in one
// call, deriving the page arithmetic from the plan's window.
func (f *Finder) FindAndCount(ctx context.Context, input planner.FindInput) (*FindResult, error) {
	ctx, span := startSpan(ctx, "finder.find_and_count",
		attribute.String("entity", input.Entity))
	defer span.End()

	plan, err := f.plan(ctx, input)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("plan.mode", plan.Mode.String()))

	records, err := f.execute(ctx, plan)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	total, err := f.Count(ctx, input.Entity, input.Where)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	return &FindResult{
		Records:  records,
		PageInfo: plan.PageInfo(total),
	}, nil
}

// Count executes the unpaginated total for an entity filter.
func (f *Finder) Count(ctx context.Context, entity string, where planner.Where) (int, error) {
	ctx, span := startSpan(ctx, "finder.count",
		attribute.String("entity", entity))
	defer span.End()

	stmt, err := f.planner.BuildCount(entity, where)
	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}

	start := time.Now()
	total, err := f.scanCount(ctx, stmt)
	if f.metrics != nil {
		f.metrics.RecordExecution(ctx, time.Since(start), entity, "count", err != nil)
	}
	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("result.total", total))
	return total, nil
}

func (f *Finder) plan(ctx context.Context, input planner.FindInput) (*planner.FindPlan, error) {
	start := time.Now()
	plan, err := f.planner.Build(input)
	if f.metrics != nil {
		f.metrics.RecordPlan(ctx, time.Since(start), input.Entity, err != nil)
	}
	return plan, err
}

func (f *Finder) execute(ctx context.Context, plan *planner.FindPlan) ([]Record, error) {
	start := time.Now()
	records, err := f.executePlan(ctx, plan)
	if f.metrics != nil {
		f.metrics.RecordExecution(ctx, time.Since(start), plan.Entity, plan.Mode.String(), err != nil)
		if err == nil {
			f.metrics.RecordResultRows(ctx, int64(len(records)), plan.Entity)
		}
	}
	if err != nil {
		return nil, err
	}
	f.logger.Debug("find executed",
		"entity", plan.Entity,
		"mode", plan.Mode.String(),
		"records", len(records))
	return records, nil
}

func (f *Finder) executePlan(ctx context.Context, plan *planner.FindPlan) ([]Record, error) {
	if plan.Mode != planner.PlanTwoPhase {
		return f.queryRecords(ctx, plan, plan.Query)
	}

	keys, err := f.probeKeys(ctx, plan)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		// An empty probe page is the whole answer; the fetch never runs.
		return []Record{}, nil
	}
	fetch, err := plan.FetchByKeys(keys)
	if err != nil {
		return nil, err
	}
	return f.queryRecords(ctx, plan, fetch)
}

// probeKeys runs the key probe of a two-phase plan and returns the root
// primary key tuples in result order.
func (f *Finder) probeKeys(ctx context.Context, plan *planner.FindPlan) ([]planner.KeyTuple, error) {
	ctx, span := startSpan(ctx, "finder.probe",
		attribute.String("entity", plan.Entity))
	defer span.End()

	rows, err := f.executor.QueryContext(ctx, plan.Probe.SQL, plan.Probe.Args...)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	width := len(plan.ProbeKeys)
	if len(columns) < width {
		err := integrityf("probe returned %d columns, expected at least %d", len(columns), width)
		recordSpanError(span, err)
		return nil, err
	}

	// The probe selects the key columns first; order columns carried for
	// the DISTINCT come after them, so two rows can still share a key
	// tuple. The first occurrence wins.
	var keys []planner.KeyTuple
	seen := make(map[string]struct{})
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		tuple := planner.KeyTuple{Values: values[:width]}
		fingerprint := valuesKey(tuple.Values)
		if _, ok := seen[fingerprint]; ok {
			continue
		}
		seen[fingerprint] = struct{}{}
		keys = append(keys, tuple)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	if f.metrics != nil {
		f.metrics.RecordProbeKeys(ctx, int64(len(keys)), plan.Entity)
	}
	span.SetAttributes(attribute.Int("probe.keys", len(keys)))
	return keys, nil
}

func (f *Finder) queryRecords(ctx context.Context, plan *planner.FindPlan, stmt *planner.SQLQuery) ([]Record, error) {
	mapper, err := newRowMapper(plan, f.planner.Analyzer().Schema())
	if err != nil {
		return nil, err
	}

	rows, err := f.executor.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	return mapper.consume(rows)
}

func (f *Finder) scanCount(ctx context.Context, stmt *planner.SQLQuery) (int, error) {
	rows, err := f.executor.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, integrityf("count query returned no rows")
	}
	var total int64
	if err := rows.Scan(&total); err != nil {
		return 0, err
	}
	return int(total), rows.Err()
}

func integrityf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", planner.ErrQueryIntegrity, fmt.Sprintf(format, args...))
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("relquery/finder")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
