package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"swarmgate/admission"
	"swarmgate/authn"
	"swarmgate/banning"
	"swarmgate/config"
	"swarmgate/credentials"
	"swarmgate/gateway"
	"swarmgate/gateway/middleware"
	"swarmgate/kvstore"
	"swarmgate/lockout"
	"swarmgate/observability/logging"
	"swarmgate/storage"
)

const shutdownGrace = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the gated YAML configuration")
	env := flag.String("env", "production", "deployment environment tag attached to log lines")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Observability.ServiceName, *env, logging.Rotation{
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	if err := run(cfg, logger); err != nil {
		logger.Error("gated exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	kv, err := openKV(ctx, cfg.KV)
	if err != nil {
		return fmt.Errorf("open kv backend: %w", err)
	}
	defer kv.Close()

	accounts := storage.NewAccounts(db)
	torrents := storage.NewTorrents(db)
	bans := storage.NewBans(db)

	registry := banning.NewRegistry(bans, kv, banning.Config{
		AddressRefreshInterval: cfg.Bans.AddressRefreshInterval,
		AccountCacheTTL:        cfg.Bans.AccountCacheTTL,
	}, logger)

	guard, err := lockout.NewGuard(kv, lockout.Config{
		Limit:  cfg.Lockout.Limit,
		Window: cfg.Lockout.Window,
	})
	if err != nil {
		return fmt.Errorf("lockout guard: %w", err)
	}

	tokens, err := credentials.NewService(kv, credentials.Config{
		SigningSecret:    cfg.Auth.SigningSecret,
		SigningAlgorithm: cfg.Auth.SigningAlgorithm,
		Lifetime:         cfg.Auth.TokenLifetime,
		Issuer:           cfg.Auth.Issuer,
	})
	if err != nil {
		return fmt.Errorf("credential service: %w", err)
	}

	auth := authn.NewService(guard, accounts, authn.BcryptVerifier{}, tokens, logger)
	pipeline := admission.NewTrackerPipeline(registry, accounts, torrents, logger)

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, rl := range cfg.RateLimits {
		limits[rl.ID] = middleware.RateLimit{RatePerSecond: rl.RatePerSecond, Burst: rl.Burst}
	}

	server := gateway.NewServer(
		auth,
		pipeline,
		registry,
		accounts,
		middleware.NewAuthenticator(tokens, logger),
		middleware.NewRateLimiter(limits, logger),
		middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName:   cfg.Observability.ServiceName,
			MetricsPrefix: cfg.Observability.MetricsPrefix,
			LogRequests:   cfg.Observability.LogRequests,
		}, logger),
		logger,
	)

	sweeper := banning.NewSweeper(registry, cfg.Bans.SweepInterval, logger)
	go sweeper.Run(ctx)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      server,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gated listening", "address", cfg.ListenAddress, "kvBackend", kvBackendName(cfg.KV))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openKV(ctx context.Context, cfg config.KVConfig) (kvstore.Store, error) {
	switch kvBackendName(cfg) {
	case "redis":
		return kvstore.NewRedisStore(ctx, kvstore.RedisConfig{
			Address:   cfg.Address,
			Password:  cfg.Password,
			DB:        cfg.DB,
			OpTimeout: cfg.OpTimeout,
		})
	case "leveldb":
		return kvstore.NewLevelDBStore(cfg.Path, cfg.OpTimeout)
	default:
		return kvstore.NewMemoryStore(), nil
	}
}

func kvBackendName(cfg config.KVConfig) string {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		return "memory"
	}
	return backend
}
