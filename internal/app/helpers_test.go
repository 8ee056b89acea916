package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"relquery/internal/config"
)

func TestWaitForDatabase_RetriesUntilReady(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("not ready"))
	mock.ExpectPing().WillReturnError(errors.New("not ready"))
	mock.ExpectPing()

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			ConnectionTimeout:       5 * time.Second,
			ConnectionRetryInterval: time.Millisecond,
		},
	}

	if err := waitForDatabase(context.Background(), cfg, testLogger(), db); err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWaitForDatabase_ZeroTimeoutFailsImmediately(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("refused"))

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			ConnectionTimeout: 0,
		},
	}

	if err := waitForDatabase(context.Background(), cfg, testLogger(), db); err == nil {
		t.Fatalf("expected immediate failure with zero timeout")
	}
}

func TestWaitForDatabase_TimeoutExceeded(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	for i := 0; i < 20; i++ {
		mock.ExpectPing().WillReturnError(errors.New("still down"))
	}

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			ConnectionTimeout:       5 * time.Millisecond,
			ConnectionRetryInterval: time.Millisecond,
		},
	}

	err = waitForDatabase(context.Background(), cfg, testLogger(), db)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !strings.Contains(err.Error(), "database not available after") {
		t.Fatalf("expected timeout message, got %v", err)
	}
}

func TestWaitForDatabase_ContextCancelled(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	for i := 0; i < 20; i++ {
		mock.ExpectPing().WillReturnError(errors.New("still down"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			ConnectionTimeout:       time.Second,
			ConnectionRetryInterval: time.Millisecond,
		},
	}

	if err := waitForDatabase(ctx, cfg, testLogger(), db); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConnectDB_InvalidTLSConfigFails(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Host:     "localhost",
			Port:     3306,
			User:     "root",
			Database: "test",
			TLS: config.DatabaseTLSConfig{
				Mode:   "verify-ca",
				CAFile: "/nonexistent/ca.pem",
			},
		},
	}

	_, _, err := connectDB(cfg, testLogger())
	if err == nil {
		t.Fatalf("expected TLS registration failure")
	}
	if !strings.Contains(err.Error(), "failed to register database TLS config") {
		t.Fatalf("expected TLS config error, got %v", err)
	}
}
