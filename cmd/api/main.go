package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/punchamoorthee/accountledger/internal/api"
	"github.com/punchamoorthee/accountledger/internal/config"
	"github.com/punchamoorthee/accountledger/internal/domain"
	"github.com/punchamoorthee/accountledger/internal/events"
	"github.com/punchamoorthee/accountledger/internal/lock"
	"github.com/punchamoorthee/accountledger/internal/service"
	"github.com/punchamoorthee/accountledger/internal/store"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg, err := config.Load(".")
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx := context.Background()

	ledgerStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store setup failed", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer ledgerStore.Close()

	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		slog.Error("lock coordinator setup failed", "error", err)
		os.Exit(1)
	}
	defer closeLocker()

	publisher := newPublisher(cfg)
	defer publisher.Close()

	// Initialize Layers
	engine := service.NewLockedEngine(service.NewEngine(ledgerStore), locker)
	handler := api.NewHandler(
		service.NewAccountService(ledgerStore, service.NewNumberIssuer(ledgerStore), locker, publisher),
		service.NewTransactionService(engine, publisher),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "env", cfg.Env, "port", cfg.Port, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	slog.Info("server exited")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		s := store.NewMemoryStore()
		for i := 1; i <= cfg.MemorySeedOwners; i++ {
			owner := &domain.AccountOwner{Name: fmt.Sprintf("owner-%d", i)}
			if err := s.CreateOwner(ctx, owner); err != nil {
				return nil, err
			}
		}
		slog.Info("using in-memory store", "seeded_owners", cfg.MemorySeedOwners)
		return s, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	s, err := store.NewPostgresStore(connectCtx, cfg.DBSource, cfg.DBMaxConns)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(connectCtx); err != nil {
		s.Close()
		return nil, err
	}
	slog.Info("connected to postgres", "max_conns", cfg.DBMaxConns)
	return s, nil
}

func newLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		slog.Info("using in-process account locks")
		return lock.NewLocalLocker(cfg.LockWaitTimeout), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	slog.Info("using redis account locks", "prefix", cfg.LockKeyPrefix, "lease_ttl", cfg.LockLeaseTTL)
	locker := lock.NewRedisLocker(client, cfg.LockKeyPrefix, cfg.LockWaitTimeout, cfg.LockLeaseTTL)
	return locker, func() { client.Close() }, nil
}

func newPublisher(cfg *config.Config) events.Publisher {
	if cfg.RabbitMQURL == "" {
		return events.NoopPublisher{}
	}

	publisher, err := events.NewRabbitPublisher(cfg.RabbitMQURL, cfg.EventExchange)
	if err != nil {
		slog.Warn("rabbitmq unavailable, events will not be published", "error", err)
		return events.NoopPublisher{}
	}
	return publisher
}
