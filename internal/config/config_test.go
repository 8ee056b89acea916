package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "basic DSN",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Password: "password",
				Database: "test",
			},
			expected: "root:password@tcp(localhost:3306)/test?parseTime=true&loc=UTC",
		},
		{
			name: "with special characters in password",
			config: DatabaseConfig{
				Host:     "db.example.com",
				Port:     3306,
				User:     "admin",
				Password: "p@ss:w0rd!",
				Database: "mydb",
			},
			expected: "admin:p@ss:w0rd!@tcp(db.example.com:3306)/mydb?parseTime=true&loc=UTC",
		},
		{
			name: "empty password",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     4000,
				User:     "root",
				Password: "",
				Database: "test",
			},
			expected: "root:@tcp(localhost:4000)/test?parseTime=true&loc=UTC",
		},
		{
			name: "connection string passes through with parseTime appended",
			config: DatabaseConfig{
				ConnectionString: "root:secret@tcp(db:3306)/orders",
			},
			expected: "root:secret@tcp(db:3306)/orders?parseTime=true&loc=UTC",
		},
		{
			name: "connection string keeps existing params",
			config: DatabaseConfig{
				ConnectionString: "root:secret@tcp(db:3306)/orders?parseTime=true&loc=Local",
			},
			expected: "root:secret@tcp(db:3306)/orders?parseTime=true&loc=Local",
		},
		{
			name: "tls mode off maps to tls=false",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Database: "test",
				TLS:      DatabaseTLSConfig{Mode: "off"},
			},
			expected: "root:@tcp(localhost:3306)/test?parseTime=true&loc=UTC&tls=false",
		},
		{
			name: "tls mode verify-full uses registered config name",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Database: "test",
				TLS:      DatabaseTLSConfig{Mode: "verify-full", CAFile: "/tmp/ca.pem"},
			},
			expected: "root:@tcp(localhost:3306)/test?parseTime=true&loc=UTC&tls=relquery-custom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.config.DSN()
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDatabaseConfig_EffectiveDatabaseName(t *testing.T) {
	t.Run("discrete database wins when DSN has none", func(t *testing.T) {
		d := DatabaseConfig{Database: "orders"}
		name, source, err := d.EffectiveDatabaseName()
		assert.NoError(t, err)
		assert.Equal(t, "orders", name)
		assert.Equal(t, "database.database", source)
	})

	t.Run("DSN database used when discrete is empty", func(t *testing.T) {
		d := DatabaseConfig{ConnectionString: "root:pw@tcp(db:3306)/orders"}
		name, source, err := d.EffectiveDatabaseName()
		assert.NoError(t, err)
		assert.Equal(t, "orders", name)
		assert.Equal(t, "dsn", source)
	})

	t.Run("mismatch between discrete and DSN errors", func(t *testing.T) {
		d := DatabaseConfig{
			Database:         "orders",
			ConnectionString: "root:pw@tcp(db:3306)/billing",
		}
		_, _, err := d.EffectiveDatabaseName()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch")
	})

	t.Run("no database anywhere errors", func(t *testing.T) {
		d := DatabaseConfig{ConnectionString: "root:pw@tcp(db:3306)/"}
		_, _, err := d.EffectiveDatabaseName()
		assert.Error(t, err)
	})

	t.Run("invalid DSN errors", func(t *testing.T) {
		d := DatabaseConfig{ConnectionString: "this is not a dsn"}
		_, _, err := d.EffectiveDatabaseName()
		assert.Error(t, err)
	})
}

// TestLoad_WithEnvVars tests configuration loading from environment variables
func TestLoad_WithEnvVars(t *testing.T) {
	// Save original env vars
	origHost := os.Getenv("RELQUERY_DATABASE_HOST")
	origPort := os.Getenv("RELQUERY_DATABASE_PORT")
	origUser := os.Getenv("RELQUERY_DATABASE_USER")

	// Clean up after test
	t.Cleanup(func() {
		os.Setenv("RELQUERY_DATABASE_HOST", origHost)
		os.Setenv("RELQUERY_DATABASE_PORT", origPort)
		os.Setenv("RELQUERY_DATABASE_USER", origUser)
		os.Unsetenv("RELQUERY_DATABASE_PASSWORD")
		os.Unsetenv("RELQUERY_DATABASE_DATABASE")
		os.Unsetenv("RELQUERY_ENGINE_MAX_LIMIT")
	})

	// Set test environment variables
	os.Setenv("RELQUERY_DATABASE_HOST", "envhost")
	os.Setenv("RELQUERY_DATABASE_PORT", "5000")
	os.Setenv("RELQUERY_DATABASE_USER", "envuser")
	os.Setenv("RELQUERY_DATABASE_PASSWORD", "envpass")
	os.Setenv("RELQUERY_DATABASE_DATABASE", "envdb")
	os.Setenv("RELQUERY_ENGINE_MAX_LIMIT", "500")

	// Verify env var naming convention
	assert.Equal(t, "envhost", os.Getenv("RELQUERY_DATABASE_HOST"))
	assert.Equal(t, "5000", os.Getenv("RELQUERY_DATABASE_PORT"))
	assert.Equal(t, "envuser", os.Getenv("RELQUERY_DATABASE_USER"))
}

// Note: Full integration tests for Load() should be done in integration tests
// because Load() relies on global state (pflag.CommandLine) which is difficult
// to test in isolation without causing conflicts between tests.

func TestConfig_Validate(t *testing.T) {
	// Helper to create a valid base config
	validConfig := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Database: "test",
				TLS: DatabaseTLSConfig{
					Mode: "off",
				},
				Pool: PoolConfig{
					MaxOpen: 25,
					MaxIdle: 5,
				},
			},
			Engine: EngineConfig{
				MaxRelationDepth: 2,
				DefaultLimit:     25,
				MaxLimit:         100,
			},
			Observability: ObservabilityConfig{
				Logging: LoggingConfig{
					Level:  "info",
					Format: "json",
				},
				OTLP: OTLPConfig{
					Protocol:    "grpc",
					Compression: "gzip",
				},
			},
		}
	}

	t.Run("valid config passes validation", func(t *testing.T) {
		cfg := validConfig()
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Empty(t, result.Errors)
	})

	t.Run("invalid database port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = 0
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.port")
	})

	t.Run("invalid database port high", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = 70000
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.port")
	})

	t.Run("port ignored when DSN is set", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = 0
		cfg.Database.ConnectionString = "root:pw@tcp(db:3306)/test"
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
	})

	t.Run("invalid TLS mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.TLS.Mode = "invalid"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.tls.mode")
	})

	t.Run("valid TLS modes", func(t *testing.T) {
		for _, mode := range []string{"", "off", "skip-verify", "verify-ca", "verify-full"} {
			cfg := validConfig()
			if mode == "verify-ca" || mode == "verify-full" {
				cfg.Database.TLS.CAFile = "/path/to/ca.pem"
			}
			cfg.Database.TLS.Mode = mode
			result := cfg.Validate()
			assert.False(t, result.HasErrors(), "TLS mode %q should be valid", mode)
		}
	})

	t.Run("verify-ca requires CA file", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.TLS.Mode = "verify-ca"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.tls.ca_file")
	})

	t.Run("client cert without key errors", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.TLS.CertFile = "/path/to/client.pem"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.tls.cert_file")
	})

	t.Run("missing database name", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Database = ""
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.database")
	})

	t.Run("database from DSN backfills discrete field", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Database = ""
		cfg.Database.ConnectionString = "root:pw@tcp(db:3306)/orders"
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Equal(t, "orders", cfg.Database.Database)
	})

	t.Run("invalid relation depth", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.MaxRelationDepth = 0
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "engine.max_relation_depth")
	})

	t.Run("deep relation depth warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.MaxRelationDepth = 8
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0].Field, "max_relation_depth")
	})

	t.Run("invalid engine limits", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.DefaultLimit = 0
		cfg.Engine.MaxLimit = -1
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "engine.default_limit")
		assert.Contains(t, result.Error(), "engine.max_limit")
	})

	t.Run("default limit above max limit warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.DefaultLimit = 200
		cfg.Engine.MaxLimit = 100
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0].Message, "max_limit")
	})

	t.Run("negative query timeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.QueryTimeout = -1
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "engine.query_timeout")
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.Logging.Level = "invalid"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.logging.level")
	})

	t.Run("invalid log format", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.Logging.Format = "xml"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.logging.format")
	})

	t.Run("invalid trace sample ratio", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.TraceSampleRatio = 1.5
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.trace_sample_ratio")
	})

	t.Run("invalid OTLP protocol", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTLP.Protocol = "http"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.otlp.protocol")
	})

	t.Run("valid OTLP protocols", func(t *testing.T) {
		for _, protocol := range []string{"", "grpc", "http/protobuf"} {
			cfg := validConfig()
			cfg.Observability.OTLP.Protocol = protocol
			if protocol == "http/protobuf" {
				cfg.Observability.OTLP.Endpoint = "localhost:4318"
			}
			result := cfg.Validate()
			assert.False(t, result.HasErrors(), "protocol %q should be valid", protocol)
		}
	})

	t.Run("invalid OTLP http/protobuf endpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTLP.Protocol = "http/protobuf"
		cfg.Observability.OTLP.Endpoint = "localhost"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.otlp.endpoint")
	})

	t.Run("signal override validated with its own prefix", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.Traces = &OTLPConfig{Protocol: "carrier-pigeon"}
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.traces.protocol")
	})

	t.Run("max_idle greater than max_open warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Pool.MaxOpen = 10
		cfg.Database.Pool.MaxIdle = 20
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0].Message, "max_idle")
	})

	t.Run("retry interval required with connection timeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.ConnectionTimeout = 30_000_000_000 // 30s
		cfg.Database.ConnectionRetryInterval = 0
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "connection_retry_interval")
	})

	t.Run("invalid uuid column glob", func(t *testing.T) {
		cfg := validConfig()
		cfg.TypeMappings.UUIDColumns = map[string][]string{"orders": {"[bad"}}
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "type_mappings.uuid_columns")
	})

	t.Run("invalid schema filter glob", func(t *testing.T) {
		cfg := validConfig()
		cfg.SchemaFilters.AllowTables = []string{"[oops"}
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "schema_filters.allow_tables")
	})

	t.Run("empty naming override value", func(t *testing.T) {
		cfg := validConfig()
		cfg.Naming.PluralOverrides = map[string]string{"person": ""}
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "naming.plural_overrides")
	})

	t.Run("multiple errors collected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = 0
		cfg.Engine.DefaultLimit = 0
		cfg.Observability.Logging.Level = "invalid"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Len(t, result.Errors, 3)
	})
}

func TestValidationError_Error(t *testing.T) {
	t.Run("with hint", func(t *testing.T) {
		err := ValidationError{
			Field:   "test.field",
			Message: "test message",
			Hint:    "try this",
		}
		assert.Equal(t, "test.field: test message (hint: try this)", err.Error())
	})

	t.Run("without hint", func(t *testing.T) {
		err := ValidationError{
			Field:   "test.field",
			Message: "test message",
		}
		assert.Equal(t, "test.field: test message", err.Error())
	})
}
