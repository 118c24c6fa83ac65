package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("Expected :8080, got %s", cfg.Addr())
	}
	if !cfg.Ledger.StartingBalance.Equal(decimal.RequireFromString("10000")) {
		t.Errorf("Expected starting balance 10000, got %s", cfg.Ledger.StartingBalance)
	}
	if cfg.Redis.Addr != "" || cfg.Postgres.DSN != "" || len(cfg.Kafka.Brokers) != 0 {
		t.Error("Default must not depend on external services")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STARTING_BALANCE", "2500.50")
	t.Setenv("FEED_INTERVAL", "250ms")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("POSTGRES_DSN", "postgres://u:p@db/ledger")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("KAFKA_TOPIC", "trades")
	t.Setenv("SESSION_TTL", "1h")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Log.Level != "debug" {
		t.Errorf("Unexpected server/log config %+v %+v", cfg.Server, cfg.Log)
	}
	if !cfg.Ledger.StartingBalance.Equal(decimal.RequireFromString("2500.50")) {
		t.Errorf("Unexpected starting balance %s", cfg.Ledger.StartingBalance)
	}
	if cfg.Feed.Interval != 250*time.Millisecond || cfg.Session.TTL != time.Hour {
		t.Errorf("Unexpected durations %v %v", cfg.Feed.Interval, cfg.Session.TTL)
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"k1:9092", "k2:9092"}) || cfg.Kafka.Topic != "trades" {
		t.Errorf("Unexpected kafka config %+v", cfg.Kafka)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Postgres.DSN == "" {
		t.Errorf("Unexpected backends %+v %+v", cfg.Redis, cfg.Postgres)
	}
}

func TestFromEnv_DevelopmentLogging(t *testing.T) {
	t.Setenv("LOG_DEV", "true")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Log.Development || cfg.Log.Format != "console" || cfg.Log.Level != "warn" {
		t.Errorf("Unexpected log config %+v", cfg.Log)
	}
}

func TestFromEnv_Errors(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"PORT", "eighty", "PORT"},
		{"PORT", "70000", "out of range"},
		{"FEED_INTERVAL", "soon", "FEED_INTERVAL"},
		{"FEED_INTERVAL", "-1s", "feed interval"},
		{"STARTING_BALANCE", "lots", "STARTING_BALANCE"},
		{"STARTING_BALANCE", "-5", "negative"},
		{"LOG_FORMAT", "xml", "log format"},
		{"LOG_DEV", "maybe", "LOG_DEV"},
		{"FEED_MAX_MOVE", "1.5", "max move"},
		{"QUOTE_TTL", "5s", "quote ttl"},
		{"QUOTE_TTL", "0s", "quote ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := FromEnv()
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("QUOTE_TTL=90s\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QUOTE_TTL", "")
	os.Unsetenv("QUOTE_TTL")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cache.QuoteTTL != 90*time.Second {
		t.Errorf("Expected QUOTE_TTL from file, got %v", cfg.Cache.QuoteTTL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("A missing env file must not fail: %v", err)
	}
}
