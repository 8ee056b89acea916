package config

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"

	"relquery/internal/naming"
	"relquery/internal/schemafilter"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	// Validate database config
	c.Database.validate(result)

	// Validate engine config
	c.Engine.validate(result)

	// Validate observability config
	c.Observability.validate(result)

	// Validate explicit type mappings
	c.TypeMappings.validate(result)

	// Validate schema filters
	validateSchemaFilters(result, c.SchemaFilters)

	// Validate naming config
	validateNamingConfig(result, c.Naming)

	return result
}

func (e *EngineConfig) validate(result *ValidationResult) {
	if e.MaxRelationDepth < 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "engine.max_relation_depth",
			Message: "max_relation_depth must be at least 1",
		})
	}
	if e.MaxRelationDepth > 5 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "engine.max_relation_depth",
			Message: fmt.Sprintf("max_relation_depth %d expands the relation graph combinatorially", e.MaxRelationDepth),
			Hint:    "depths above 5 slow analysis and rarely help; 2-3 covers most schemas",
		})
	}

	if e.DefaultLimit <= 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "engine.default_limit",
			Message: "default_limit must be greater than 0",
		})
	}
	if e.MaxLimit <= 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "engine.max_limit",
			Message: "max_limit must be greater than 0",
		})
	}
	if e.DefaultLimit > e.MaxLimit && e.MaxLimit > 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "engine.default_limit",
			Message: "default_limit is greater than max_limit",
			Hint:    "pages requested without a limit will clamp to max_limit",
		})
	}

	if e.QueryTimeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "engine.query_timeout",
			Message: "query_timeout cannot be negative",
		})
	}
}

func (t *TypeMappingsConfig) validate(result *ValidationResult) {
	validatePatternMap(result, "type_mappings.uuid_columns", t.UUIDColumns)
}

func validateSchemaFilters(result *ValidationResult, filters schemafilter.Config) {
	validateGlobList(result, "schema_filters.allow_tables", filters.AllowTables)
	validateGlobList(result, "schema_filters.deny_tables", filters.DenyTables)
	validatePatternMap(result, "schema_filters.allow_columns", filters.AllowColumns)
	validatePatternMap(result, "schema_filters.deny_columns", filters.DenyColumns)
}

func validateNamingConfig(result *ValidationResult, cfg naming.Config) {
	validateOverrideMap(result, "naming.plural_overrides", cfg.PluralOverrides)
	validateOverrideMap(result, "naming.singular_overrides", cfg.SingularOverrides)
}

func validateOverrideMap(result *ValidationResult, field string, overrides map[string]string) {
	for from, to := range overrides {
		if strings.TrimSpace(from) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: "override key cannot be empty",
			})
			continue
		}
		if strings.TrimSpace(to) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("override for %q cannot be empty", from),
			})
		}
	}
}

func validatePatternMap(result *ValidationResult, field string, patternMap map[string][]string) {
	for tablePattern, columnPatterns := range patternMap {
		if strings.TrimSpace(tablePattern) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: "table pattern cannot be empty",
			})
			continue
		}
		if _, err := path.Match(strings.ToLower(tablePattern), "probe"); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid table glob pattern %q: %v", tablePattern, err),
			})
		}
		for _, columnPattern := range columnPatterns {
			if strings.TrimSpace(columnPattern) == "" {
				result.Errors = append(result.Errors, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("column pattern for table pattern %q cannot be empty", tablePattern),
				})
				continue
			}
			if _, err := path.Match(strings.ToLower(columnPattern), "probe"); err != nil {
				result.Errors = append(result.Errors, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("invalid column glob pattern %q for table pattern %q: %v", columnPattern, tablePattern, err),
				})
			}
		}
	}
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	// Port range validation (only if not using connection string)
	if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port),
		})
	}

	// Validate TLS configuration
	d.TLS.validate(result)

	// Connection pool validation
	if d.Pool.MaxOpen < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_open",
			Message: "max_open cannot be negative",
		})
	}
	if d.Pool.MaxIdle < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_idle",
			Message: "max_idle cannot be negative",
		})
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.pool.max_idle",
			Message: "max_idle is greater than max_open",
			Hint:    "idle connections will be limited to max_open",
		})
	}

	// Connection retry validation
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval is greater than connection_timeout",
			Hint:    "only one connection attempt will be made",
		})
	}
	if d.ConnectionRetryInterval < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval cannot be negative",
		})
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval must be greater than 0 when connection_timeout is set",
			Hint:    "set a retry interval such as 2s, or set connection_timeout to 0 to disable retries",
		})
	}
	if d.ConnectionTimeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_timeout",
			Message: "connection_timeout cannot be negative",
		})
	}

	effectiveDatabase, _, err := resolveEffectiveDatabaseName(d.Database, d.ConnectionString)
	if err != nil {
		switch {
		case strings.HasPrefix(err.Error(), "database.dsn"):
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.dsn",
				Message: err.Error(),
				Hint:    "set a valid MySQL DSN in database.dsn/database.dsn_file",
			})
		case strings.Contains(err.Error(), "mismatch"):
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.database",
				Message: err.Error(),
				Hint:    "either remove database.database or set it to match the DSN database",
			})
		default:
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.database",
				Message: err.Error(),
				Hint:    "set database.database or include a /database in database.dsn/database.dsn_file",
			})
		}
		return
	}

	// Keep runtime behavior deterministic for callers that consume Database.Database.
	d.Database = effectiveDatabase
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	// Mode validation
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.mode",
			Message: fmt.Sprintf("invalid TLS mode %q", t.Mode),
			Hint:    "valid values are: off, skip-verify, verify-ca, verify-full",
		})
	}

	// CA file is required for verify-ca and verify-full
	caFile := t.resolveCAFile()
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && caFile == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.ca_file",
			Message: "CA file is required for verify-ca and verify-full modes",
			Hint:    "set ca_file or ca_file_env to specify the CA certificate",
		})
	}

	// Client cert and key must both be specified or neither
	certFile := t.resolveCertFile()
	keyFile := t.resolveKeyFile()
	if (certFile != "" && keyFile == "") || (certFile == "" && keyFile != "") {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.cert_file",
			Message: "both cert_file and key_file must be specified for client certificate authentication",
			Hint:    "provide both cert_file and key_file, or neither",
		})
	}

	// Warn about skip-verify
	if t.Mode == "skip-verify" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.tls.mode",
			Message: "skip-verify mode does not verify server certificates",
			Hint:    "use verify-ca or verify-full in production",
		})
	}
}

func validateGlobList(result *ValidationResult, field string, patterns []string) {
	for _, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: "glob pattern cannot be empty",
			})
			continue
		}
		if _, err := path.Match(strings.ToLower(pattern), "probe"); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid glob pattern %q: %v", pattern, err),
			})
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	// Log level validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("invalid log level %q", o.Logging.Level),
			Hint:    "valid values are: debug, info, warn, error",
		})
	}

	// Log format validation
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("invalid log format %q", o.Logging.Format),
			Hint:    "valid values are: json, text",
		})
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.trace_sample_ratio",
			Message: fmt.Sprintf("trace_sample_ratio %v is out of range", o.TraceSampleRatio),
			Hint:    "use a ratio between 0.0 and 1.0",
		})
	}

	// OTLP protocol validation
	o.OTLP.validate("observability.otlp", result)

	// Signal-specific OTLP validation
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
	if o.Metrics != nil {
		o.Metrics.validate("observability.metrics", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".protocol",
			Message: fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			Hint:    "valid values are: grpc, http/protobuf",
		})
	}

	if o.Protocol == "http/protobuf" {
		if !validOTLPEndpoint(o.Endpoint) {
			result.Errors = append(result.Errors, ValidationError{
				Field:   prefix + ".endpoint",
				Message: fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
				Hint:    "use host:port or a full URL",
			})
		}
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".compression",
			Message: fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			Hint:    "valid values are: none, gzip",
		})
	}

	if o.RetryMaxAttempts < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".retry_max_attempts",
			Message: "retry_max_attempts cannot be negative",
		})
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
