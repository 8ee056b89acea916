package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"relquery/internal/app"
	"relquery/internal/config"
	"relquery/internal/planner"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

const shutdownTimeout = 10 * time.Second

const (
	modeSchema  = "schema"
	modeExplain = "explain"
	modeRun     = "run"
)

func main() {
	if err := run(); err != nil {
		slog.Error("relquery error", slog.String("error", err.Error()))
		if errors.Is(err, planner.ErrInvalidInput) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	pflag.Bool("version", false, "Print version and exit")
	mode := pflag.String("mode", modeRun, "Operation: schema, explain, or run")
	entity := pflag.String("entity", "", "Entity to query")
	whereJSON := pflag.String("where", "", "Filter tree as JSON")
	orderByJSON := pflag.String("order-by", "", "Ordering as JSON")
	relations := pflag.String("relations", "", "Comma-separated relation paths to eager-load")
	skip := pflag.Int("skip", 0, "Rows to skip (offset form)")
	take := pflag.Int("take", 0, "Rows to return (offset form)")
	page := pflag.Int("page", 0, "1-based page number (page form)")
	limit := pflag.Int("limit", 0, "Page size (page form)")
	inputPath := pflag.String("input", "", "JSON find request file bundling entity/where/orderBy/relations/pagination; - reads stdin")
	dumpMetrics := pflag.Bool("dump-metrics", false, "Print gathered metric families on exit")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if showVersion, _ := pflag.CommandLine.GetBool("version"); showVersion {
		fmt.Printf("relquery %s (%s)\n", Version, Commit)
		return nil
	}

	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	if *mode != modeSchema && *mode != modeExplain && *mode != modeRun {
		return invalidf("unknown mode %q (want %s, %s, or %s)", *mode, modeSchema, modeExplain, modeRun)
	}

	// The request is assembled before anything dials the database so input
	// mistakes fail fast.
	var input planner.FindInput
	if *mode != modeSchema {
		if *inputPath != "" {
			for _, name := range []string{"entity", "where", "order-by", "relations", "skip", "take", "page", "limit"} {
				if pflag.CommandLine.Changed(name) {
					return invalidf("--input bundles the whole find request; drop --%s", name)
				}
			}
		}
		flags := requestFlags{
			Entity:      *entity,
			WhereJSON:   *whereJSON,
			OrderByJSON: *orderByJSON,
			Relations:   *relations,
			InputPath:   *inputPath,
		}
		if pflag.CommandLine.Changed("skip") {
			flags.Skip = skip
		}
		if pflag.CommandLine.Changed("take") {
			flags.Take = take
		}
		if pflag.CommandLine.Changed("page") {
			flags.Page = page
		}
		if pflag.CommandLine.Changed("limit") {
			flags.Limit = limit
		}
		input, err = parseRequest(flags, os.Stdin)
		if err != nil {
			return err
		}
	}

	logger, loggerProvider, err := app.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	engine, err := app.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	engine.AttachLoggerProvider(loggerProvider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Init(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = engine.Shutdown(shutdownCtx)
	}()
	if *dumpMetrics {
		// Deferred after Shutdown's defer so the families are gathered
		// before the meter provider stops.
		defer dumpMetricFamilies(engine.Gatherer(), os.Stderr, logger)
	}

	switch *mode {
	case modeSchema:
		return printJSON(os.Stdout, newSchemaView(engine.Schema()))
	case modeExplain:
		plan, err := engine.Planner().Build(input)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, newPlanView(plan))
	default:
		runCtx := ctx
		if cfg.Engine.QueryTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, cfg.Engine.QueryTimeout)
			defer cancel()
		}
		result, err := engine.Finder().FindAndCount(runCtx, input)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, result)
	}
}
