package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"trade-ledger/pkg/logging"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is the server configuration. Every field can be set from the
// environment or a .env file.
type Config struct {
	Server   ServerConfig
	Log      logging.Config
	Ledger   LedgerConfig
	Feed     FeedConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig
	Session  SessionConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type LedgerConfig struct {
	StartingBalance decimal.Decimal
}

type FeedConfig struct {
	Interval time.Duration
	MaxMove  float64
}

type CacheConfig struct {
	// L1Size caps the in-process quote and session caches.
	L1Size int
	// QuoteTTL bounds how long a snapshot lives in the quote chain.
	QuoteTTL time.Duration
}

// RedisConfig enables the shared L2 cache when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PostgresConfig switches the ledger to PostgreSQL when DSN is set.
type PostgresConfig struct {
	DSN string
}

// KafkaConfig publishes trade events to Kafka when Brokers is set.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type SessionConfig struct {
	TTL time.Duration
}

// Default returns the configuration used when nothing is set: everything
// in memory, events to the log.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log:    logging.DefaultConfig(),
		Ledger: LedgerConfig{StartingBalance: decimal.RequireFromString("10000.00")},
		Feed:   FeedConfig{Interval: 5 * time.Second, MaxMove: 0.02},
		Cache:  CacheConfig{L1Size: 10000, QuoteTTL: time.Hour},
		Kafka:  KafkaConfig{Topic: "trade_executed"},
		Session: SessionConfig{
			TTL: 24 * time.Hour,
		},
	}
}

// Load reads files (default .env) into the environment, then builds the
// configuration from it. A missing .env file is not an error.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables over Default.
func FromEnv() (Config, error) {
	cfg := Default()
	var errs []error

	intVar(&cfg.Server.Port, "PORT", &errs)
	durationVar(&cfg.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT", &errs)

	stringVar(&cfg.Log.Level, "LOG_LEVEL")
	stringVar(&cfg.Log.Format, "LOG_FORMAT")
	if v, ok := lookup("LOG_DEV"); ok {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_DEV: %w", err))
		} else if dev {
			cfg.Log = logging.DevelopmentConfig()
			stringVar(&cfg.Log.Level, "LOG_LEVEL")
			stringVar(&cfg.Log.Format, "LOG_FORMAT")
		}
	}

	if v, ok := lookup("STARTING_BALANCE"); ok {
		d, err := decimal.NewFromString(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("STARTING_BALANCE: %w", err))
		} else {
			cfg.Ledger.StartingBalance = d
		}
	}

	durationVar(&cfg.Feed.Interval, "FEED_INTERVAL", &errs)
	if v, ok := lookup("FEED_MAX_MOVE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEED_MAX_MOVE: %w", err))
		} else {
			cfg.Feed.MaxMove = f
		}
	}

	intVar(&cfg.Cache.L1Size, "CACHE_L1_SIZE", &errs)
	durationVar(&cfg.Cache.QuoteTTL, "QUOTE_TTL", &errs)

	stringVar(&cfg.Redis.Addr, "REDIS_ADDR")
	stringVar(&cfg.Redis.Password, "REDIS_PASSWORD")
	intVar(&cfg.Redis.DB, "REDIS_DB", &errs)

	stringVar(&cfg.Postgres.DSN, "POSTGRES_DSN")

	if v, ok := lookup("KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitList(v)
	}
	stringVar(&cfg.Kafka.Topic, "KAFKA_TOPIC")

	durationVar(&cfg.Session.TTL, "SESSION_TTL", &errs)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Server.Port))
	}
	if c.Ledger.StartingBalance.IsNegative() {
		errs = append(errs, fmt.Errorf("starting balance %s is negative", c.Ledger.StartingBalance))
	}
	if c.Feed.Interval <= 0 {
		errs = append(errs, fmt.Errorf("feed interval %s must be positive", c.Feed.Interval))
	}
	if c.Feed.MaxMove <= 0 || c.Feed.MaxMove >= 1 {
		errs = append(errs, fmt.Errorf("feed max move %g must be between 0 and 1", c.Feed.MaxMove))
	}
	if c.Cache.QuoteTTL <= c.Feed.Interval {
		errs = append(errs, fmt.Errorf("quote ttl %s must exceed feed interval %s", c.Cache.QuoteTTL, c.Feed.Interval))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, fmt.Errorf("session ttl %s must be positive", c.Session.TTL))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka topic is required when brokers are set"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log format %q must be json or console", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func stringVar(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func intVar(dst *int, key string, errs *[]error) {
	if v, ok := lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func durationVar(dst *time.Duration, key string, errs *[]error) {
	if v, ok := lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
