package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// tlsConfigName registers the custom TLS config with the MySQL driver.
const tlsConfigName = "relquery-custom"

// DSN returns the MySQL data source name. An explicit connection string is
// used as-is, normalized to carry parseTime and a UTC location; otherwise
// the DSN is assembled from the discrete fields. The TLS parameter is
// appended per the configured mode unless the DSN already sets one.
func (d *DatabaseConfig) DSN() string {
	dsn := d.ConnectionString
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.Database)
	} else {
		if !strings.Contains(dsn, "parseTime") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
		if !strings.Contains(dsn, "loc=") {
			dsn += "&loc=UTC"
		}
	}

	if tlsParam := d.effectiveTLSParam(); tlsParam != "" && !strings.Contains(dsn, "tls=") {
		dsn += "&tls=" + tlsParam
	}
	return dsn
}

// EffectiveDatabaseName returns the database name schema introspection
// targets, and where it came from.
func (d *DatabaseConfig) EffectiveDatabaseName() (name string, source string, err error) {
	return resolveEffectiveDatabaseName(d.Database, d.ConnectionString)
}

func resolveEffectiveDatabaseName(databaseName string, connectionString string) (name string, source string, err error) {
	configDatabase := strings.TrimSpace(databaseName)
	dsnDatabase, parseErr := parseDSNDatabaseName(strings.TrimSpace(connectionString))
	if parseErr != nil {
		return "", "", parseErr
	}

	switch {
	case configDatabase != "" && dsnDatabase != "" && configDatabase != dsnDatabase:
		return "", "", fmt.Errorf(
			"database mismatch: database.database=%q but database.dsn targets %q",
			configDatabase, dsnDatabase)
	case configDatabase != "":
		return configDatabase, "database.database", nil
	case dsnDatabase != "":
		return dsnDatabase, "dsn", nil
	default:
		return "", "", fmt.Errorf(
			"no effective database name configured: set database.database or include /<database> in database.dsn/database.dsn_file")
	}
}

func parseDSNDatabaseName(connectionString string) (string, error) {
	if connectionString == "" {
		return "", nil
	}
	parsed, err := mysql.ParseDSN(connectionString)
	if err != nil {
		return "", fmt.Errorf("database.dsn is invalid: %w", err)
	}
	return strings.TrimSpace(parsed.DBName), nil
}

// effectiveTLSParam maps the TLS mode to the driver's tls= parameter value.
// verify-ca and verify-full need the registered custom config; an empty mode
// adds no parameter.
func (d *DatabaseConfig) effectiveTLSParam() string {
	switch mode := d.TLS.Mode; mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		// Unknown mode, let the driver reject it.
		return mode
	}
}

// RegisterTLS registers the custom TLS configuration with the MySQL driver.
// Must run before the connection opens when the mode is verify-ca or
// verify-full; other modes need no registration.
func (d *DatabaseConfig) RegisterTLS() error {
	if mode := d.TLS.Mode; mode != "verify-ca" && mode != "verify-full" {
		return nil
	}

	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	caFile := d.TLS.resolveCAFile()
	certFile := d.TLS.resolveCertFile()
	keyFile := d.TLS.resolveKeyFile()

	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", caFile, err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", caFile)
		}
		tlsCfg.RootCAs = certPool
	}

	switch {
	case certFile != "" && keyFile != "":
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	case certFile != "" || keyFile != "":
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	// verify-ca validates the chain only; verify-full also checks the
	// hostname, optionally overridden.
	if d.TLS.Mode == "verify-full" && d.TLS.ServerName != "" {
		tlsCfg.ServerName = d.TLS.ServerName
	}
	return tlsCfg, nil
}

// resolveFile returns the path from the env var indirection when set,
// falling back to the literal path.
func resolveFile(envName, path string) string {
	if envName != "" {
		if fromEnv := os.Getenv(envName); fromEnv != "" {
			return fromEnv
		}
	}
	return path
}

func (t *DatabaseTLSConfig) resolveCAFile() string   { return resolveFile(t.CAFileEnv, t.CAFile) }
func (t *DatabaseTLSConfig) resolveCertFile() string { return resolveFile(t.CertFileEnv, t.CertFile) }
func (t *DatabaseTLSConfig) resolveKeyFile() string  { return resolveFile(t.KeyFileEnv, t.KeyFile) }
