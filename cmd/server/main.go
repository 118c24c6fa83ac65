package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"trade-ledger/pkg/api"
	"trade-ledger/pkg/auth"
	"trade-ledger/pkg/cache"
	"trade-ledger/pkg/cache/bloom"
	"trade-ledger/pkg/cache/memory"
	"trade-ledger/pkg/cache/redis"
	"trade-ledger/pkg/chain"
	"trade-ledger/pkg/config"
	"trade-ledger/pkg/events"
	"trade-ledger/pkg/events/kafka"
	"trade-ledger/pkg/feed"
	"trade-ledger/pkg/ledger"
	"trade-ledger/pkg/logging"
	promMetrics "trade-ledger/pkg/metrics/prometheus"
	"trade-ledger/pkg/quote"
	memstore "trade-ledger/pkg/store/memory"
	"trade-ledger/pkg/store/postgres"
	"trade-ledger/pkg/writer"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := promMetrics.NewPrometheusCollector("trade_ledger")
	if err := collector.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	// Shared L2, optional.
	var shared cache.Layer
	if cfg.Redis.Addr != "" {
		redisConfig := redis.DefaultRedisCacheConfig()
		redisConfig.Addr = cfg.Redis.Addr
		redisConfig.Password = cfg.Redis.Password
		redisConfig.DB = cfg.Redis.DB
		rc, err := redis.NewRedisCache(redisConfig)
		if err != nil {
			return err
		}
		shared = rc
		logger.Info("redis layer enabled", zap.String("addr", cfg.Redis.Addr))
	}

	// Quotes: memory L1, then Redis, behind a bloom filter of listed symbols.
	quoteLayers := []cache.Layer{memory.NewMemoryCache(memory.MemoryCacheConfig{
		Name:       "L1-quotes",
		MaxSize:    cfg.Cache.L1Size,
		DefaultTTL: cfg.Cache.QuoteTTL,
	})}
	if shared != nil {
		quoteLayers = append(quoteLayers, shared)
	}
	quoteChain, err := chain.NewWithConfig(chain.ChainConfig{Name: "quotes", Metrics: collector}, quoteLayers...)
	if err != nil {
		return err
	}
	defer quoteChain.Close()

	book := quote.NewBook(bloom.NewBloomLayer(quoteChain, 1000, 0.01), quote.BookConfig{
		TTL:    cfg.Cache.QuoteTTL,
		Logger: logger,
	})
	if err := book.Seed(ctx, time.Now()); err != nil {
		return err
	}

	// Sessions live in Redis when it is there so every instance sees them.
	sessionLayer := shared
	if sessionLayer == nil {
		sessionLayer = memory.NewMemoryCache(memory.MemoryCacheConfig{
			Name:    "sessions",
			MaxSize: cfg.Cache.L1Size,
		})
	}
	sessionChain, err := chain.NewWithConfig(chain.ChainConfig{Name: "sessions", Metrics: collector}, sessionLayer)
	if err != nil {
		return err
	}
	if shared == nil {
		defer sessionChain.Close()
	}

	var (
		store ledger.Store
		users auth.UserStore
	)
	if cfg.Postgres.DSN != "" {
		pgConfig := postgres.DefaultConfig()
		pgConfig.DSN = cfg.Postgres.DSN
		pg, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return err
		}
		store, users = pg, pg
		logger.Info("postgres store enabled")
	} else {
		store, users = memstore.New(), auth.NewMemoryUsers()
		logger.Warn("no POSTGRES_DSN, accounts are kept in memory")
	}
	defer store.Close()

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := kafka.NewPublisher(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return err
		}
		publisher = kp
		logger.Info("kafka publisher enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	eventWriter := writer.NewAsyncWriterWithMetrics(publisher, writer.AsyncWriterConfig{Name: "trade-events"}, collector)
	defer eventWriter.Close()

	l := ledger.New(store, book, ledger.Config{
		StartingBalance: cfg.Ledger.StartingBalance,
		Metrics:         collector,
		Logger:          logger,
		Events:          eventWriter,
	})
	sessions := auth.NewService(users, sessionChain, l, auth.Config{
		SessionTTL: cfg.Session.TTL,
		Logger:     logger,
	})

	simulator := feed.New(book, feed.Config{
		Interval: cfg.Feed.Interval,
		MaxMove:  cfg.Feed.MaxMove,
		Logger:   logger,
	})
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		simulator.Run(ctx)
	}()

	serverConfig := api.DefaultServerConfig()
	serverConfig.Address = cfg.Addr()
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	serverConfig.Logger = logger
	serverConfig.Status = func() map[string]string {
		states := make(map[string]string)
		for name, state := range quoteChain.States() {
			states["quotes/"+name] = state.String()
		}
		for name, state := range sessionChain.States() {
			states["sessions/"+name] = state.String()
		}
		return states
	}
	server, err := api.NewServer(l, book, sessions, serverConfig)
	if err != nil {
		return err
	}

	var serveErr error
	select {
	case serveErr = <-server.Start():
	case <-ctx.Done():
	}
	stop()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-feedDone
	if err := eventWriter.Flush(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("trade events not flushed", zap.Error(err))
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	logger.Info("server stopped gracefully")
	return nil
}
