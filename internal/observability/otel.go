// Package observability wires the OpenTelemetry providers the engine
// reports through: OTLP exporters (gRPC and HTTP) for traces and logs, and
// a Prometheus registry for metrics that the CLI gathers at exit.
package observability

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// Config identifies the service and carries the exporter settings for one
// signal.
type Config struct {
	ServiceName      string
	ServiceVersion   string
	Environment      string
	TraceSampleRatio float64
	OTLPConfig       OTLPExporterConfig
}

// OTLPExporterConfig holds the transport settings of one OTLP exporter.
type OTLPExporterConfig struct {
	Endpoint          string
	Protocol          string
	Insecure          bool
	TLSCertFile       string
	TLSClientCertFile string
	TLSClientKeyFile  string
	Headers           map[string]string
	Timeout           time.Duration
	Compression       string
	RetryEnabled      bool
	RetryMaxAttempts  int
}

const providerShutdownTimeout = 5 * time.Second

// Retry window shared by every OTLP exporter.
const (
	retryInitialInterval = 1 * time.Second
	retryMaxInterval     = 5 * time.Second
	retryMaxElapsed      = 30 * time.Second
)

// serviceResource merges the service identity into the default resource.
// The merge drops the schema URL so SDK and semconv versions cannot clash.
func serviceResource(cfg Config) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func shutdownProvider(ctx context.Context, logger *slog.Logger, name string, shutdown func(context.Context) error) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, providerShutdownTimeout)
	defer cancel()

	if err := shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown "+name, slog.String("error", err.Error()))
		return err
	}
	logger.Info(name + " shutdown successfully")
	return nil
}

// MeterProvider wraps the OpenTelemetry meter provider and the Prometheus
// registry its exporter feeds.
type MeterProvider struct {
	provider *metric.MeterProvider
	registry *prometheus.Registry
}

// InitMeterProvider initializes metrics with a Prometheus exporter backed by
// a private registry, and installs the provider globally.
func InitMeterProvider(cfg Config) (*MeterProvider, error) {
	res, err := serviceResource(cfg)
	if err != nil {
		return nil, err
	}

	// A dedicated registry lets callers gather exactly the metrics this
	// process produced.
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	return &MeterProvider{provider: provider, registry: registry}, nil
}

// Shutdown flushes and stops the meter provider.
func (mp *MeterProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownProvider(ctx, logger, "meter provider", mp.provider.Shutdown)
}

// Gatherer returns the Prometheus registry backing the exporter.
func (mp *MeterProvider) Gatherer() prometheus.Gatherer {
	return mp.registry
}

type otlpProtocol string

const (
	otlpProtocolGRPC otlpProtocol = "grpc"
	otlpProtocolHTTP otlpProtocol = "http/protobuf"
)

func parseOTLPProtocol(value string) (otlpProtocol, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(otlpProtocolGRPC):
		return otlpProtocolGRPC, nil
	case "http", string(otlpProtocolHTTP):
		return otlpProtocolHTTP, nil
	default:
		return "", fmt.Errorf("unsupported OTLP protocol %q (use grpc or http/protobuf)", value)
	}
}

func buildTLSConfig(cfg OTLPExporterConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TLSCertFile != "" {
		certPool := x509.NewCertPool()
		caCert, err := os.ReadFile(cfg.TLSCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read OTLP TLS CA file: %w", err)
		}
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse OTLP TLS CA file")
		}
		tlsConfig.RootCAs = certPool
	}

	if cfg.TLSClientCertFile != "" || cfg.TLSClientKeyFile != "" {
		if cfg.TLSClientCertFile == "" || cfg.TLSClientKeyFile == "" {
			return nil, fmt.Errorf("OTLP TLS client cert and key must both be set")
		}
		cert, err := tls.LoadX509KeyPair(cfg.TLSClientCertFile, cfg.TLSClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load OTLP TLS client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func isHTTPEndpointURL(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}

func wantRetry(cfg OTLPExporterConfig) bool {
	return cfg.RetryEnabled && cfg.RetryMaxAttempts > 0
}

// grpcExporterOptions assembles the gRPC exporter settings shared by traces
// and logs. The otlptracegrpc and otlploggrpc option types are distinct, so
// the per-signal constructors receive the pieces through callbacks.
type grpcExporterOptions[T any] struct {
	endpoint       func(string) T
	insecure       func() T
	tlsCredentials func(credentials.TransportCredentials) T
	headers        func(map[string]string) T
	timeout        func(time.Duration) T
	compressor     func(string) T
	retry          func() T
}

func buildGRPCOptions[T any](cfg OTLPExporterConfig, build grpcExporterOptions[T]) ([]T, error) {
	opts := []T{build.endpoint(cfg.Endpoint)}

	if cfg.Insecure {
		opts = append(opts, build.insecure())
	} else {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, build.tlsCredentials(credentials.NewTLS(tlsConfig)))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, build.headers(cfg.Headers))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, build.timeout(cfg.Timeout))
	}
	if cfg.Compression == "gzip" {
		opts = append(opts, build.compressor("gzip"))
	}
	if wantRetry(cfg) {
		opts = append(opts, build.retry())
	}
	return opts, nil
}

// httpExporterOptions mirrors grpcExporterOptions for the HTTP transports.
type httpExporterOptions[T any] struct {
	endpointURL func(string) T
	endpoint    func(string) T
	insecure    func() T
	tlsConfig   func(*tls.Config) T
	headers     func(map[string]string) T
	timeout     func(time.Duration) T
	gzip        func() T
	retry       func() T
}

func buildHTTPOptions[T any](cfg OTLPExporterConfig, build httpExporterOptions[T]) ([]T, error) {
	var opts []T
	if isHTTPEndpointURL(cfg.Endpoint) {
		opts = append(opts, build.endpointURL(cfg.Endpoint))
	} else {
		opts = append(opts, build.endpoint(cfg.Endpoint))
	}

	if cfg.Insecure {
		opts = append(opts, build.insecure())
	} else {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, build.tlsConfig(tlsConfig))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, build.headers(cfg.Headers))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, build.timeout(cfg.Timeout))
	}
	if cfg.Compression == "gzip" {
		opts = append(opts, build.gzip())
	}
	if wantRetry(cfg) {
		opts = append(opts, build.retry())
	}
	return opts, nil
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

func newTraceExporter(ctx context.Context, cfg OTLPExporterConfig) (sdktrace.SpanExporter, error) {
	protocol, err := parseOTLPProtocol(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	switch protocol {
	case otlpProtocolGRPC:
		opts, err := buildGRPCOptions(cfg, grpcExporterOptions[otlptracegrpc.Option]{
			endpoint:       otlptracegrpc.WithEndpoint,
			insecure:       otlptracegrpc.WithInsecure,
			tlsCredentials: otlptracegrpc.WithTLSCredentials,
			headers:        otlptracegrpc.WithHeaders,
			timeout:        otlptracegrpc.WithTimeout,
			compressor:     otlptracegrpc.WithCompressor,
			retry: func() otlptracegrpc.Option {
				return otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
					Enabled:         true,
					InitialInterval: retryInitialInterval,
					MaxInterval:     retryMaxInterval,
					MaxElapsedTime:  retryMaxElapsed,
				})
			},
		})
		if err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		opts, err := buildHTTPOptions(cfg, httpExporterOptions[otlptracehttp.Option]{
			endpointURL: otlptracehttp.WithEndpointURL,
			endpoint:    otlptracehttp.WithEndpoint,
			insecure:    otlptracehttp.WithInsecure,
			tlsConfig:   otlptracehttp.WithTLSClientConfig,
			headers:     otlptracehttp.WithHeaders,
			timeout:     otlptracehttp.WithTimeout,
			gzip: func() otlptracehttp.Option {
				return otlptracehttp.WithCompression(otlptracehttp.GzipCompression)
			},
			retry: func() otlptracehttp.Option {
				return otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
					Enabled:         true,
					InitialInterval: retryInitialInterval,
					MaxInterval:     retryMaxInterval,
					MaxElapsedTime:  retryMaxElapsed,
				})
			},
		})
		if err != nil {
			return nil, err
		}
		return otlptracehttp.New(ctx, opts...)
	}
}

// InitTracerProvider initializes tracing with an OTLP exporter and installs
// the provider globally.
func InitTracerProvider(cfg Config) (*TracerProvider, error) {
	res, err := serviceResource(cfg)
	if err != nil {
		return nil, err
	}

	exporter, err := newTraceExporter(context.Background(), cfg.OTLPConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(traceSamplerForRatio(cfg.TraceSampleRatio)),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider}, nil
}

func traceSamplerForRatio(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample()
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// Shutdown flushes and stops the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownProvider(ctx, logger, "tracer provider", tp.provider.Shutdown)
}

// LoggerProvider wraps the OpenTelemetry logger provider feeding the slog
// bridge.
type LoggerProvider struct {
	provider *log.LoggerProvider
}

func newLogExporter(ctx context.Context, cfg OTLPExporterConfig) (log.Exporter, error) {
	protocol, err := parseOTLPProtocol(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	switch protocol {
	case otlpProtocolGRPC:
		opts, err := buildGRPCOptions(cfg, grpcExporterOptions[otlploggrpc.Option]{
			endpoint:       otlploggrpc.WithEndpoint,
			insecure:       otlploggrpc.WithInsecure,
			tlsCredentials: otlploggrpc.WithTLSCredentials,
			headers:        otlploggrpc.WithHeaders,
			timeout:        otlploggrpc.WithTimeout,
			compressor:     otlploggrpc.WithCompressor,
			retry: func() otlploggrpc.Option {
				return otlploggrpc.WithRetry(otlploggrpc.RetryConfig{
					Enabled:         true,
					InitialInterval: retryInitialInterval,
					MaxInterval:     retryMaxInterval,
					MaxElapsedTime:  retryMaxElapsed,
				})
			},
		})
		if err != nil {
			return nil, err
		}
		return otlploggrpc.New(ctx, opts...)
	default:
		opts, err := buildHTTPOptions(cfg, httpExporterOptions[otlploghttp.Option]{
			endpointURL: otlploghttp.WithEndpointURL,
			endpoint:    otlploghttp.WithEndpoint,
			insecure:    otlploghttp.WithInsecure,
			tlsConfig:   otlploghttp.WithTLSClientConfig,
			headers:     otlploghttp.WithHeaders,
			timeout:     otlploghttp.WithTimeout,
			gzip: func() otlploghttp.Option {
				return otlploghttp.WithCompression(otlploghttp.GzipCompression)
			},
			retry: func() otlploghttp.Option {
				return otlploghttp.WithRetry(otlploghttp.RetryConfig{
					Enabled:         true,
					InitialInterval: retryInitialInterval,
					MaxInterval:     retryMaxInterval,
					MaxElapsedTime:  retryMaxElapsed,
				})
			},
		})
		if err != nil {
			return nil, err
		}
		return otlploghttp.New(ctx, opts...)
	}
}

// InitLoggerProvider initializes log export with an OTLP exporter.
func InitLoggerProvider(cfg Config) (*LoggerProvider, error) {
	res, err := serviceResource(cfg)
	if err != nil {
		return nil, err
	}

	exporter, err := newLogExporter(context.Background(), cfg.OTLPConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	provider := log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(log.NewBatchProcessor(exporter)),
	)

	return &LoggerProvider{provider: provider}, nil
}

// Shutdown flushes and stops the logger provider.
func (lp *LoggerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownProvider(ctx, logger, "logger provider", lp.provider.Shutdown)
}

// Provider returns the underlying logger provider.
func (lp *LoggerProvider) Provider() *log.LoggerProvider {
	return lp.provider
}
