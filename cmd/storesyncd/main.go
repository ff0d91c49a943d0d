// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

// storesyncd runs the sync engine as a standalone daemon: it keeps a local
// SQLite replica consistent with the authoritative service and exposes an
// optional local admin endpoint with Prometheus metrics and a status probe.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/commercekit/storesync/internal/auth"
	"github.com/commercekit/storesync/remotehttp"
	"github.com/commercekit/storesync/sqlitereplica"
	"github.com/commercekit/storesync/storesync"
	"github.com/commercekit/storesync/wsfeed"
)

func main() {
	configPath := flag.String("config", "storesyncd.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("Daemon exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlitereplica.Open(cfg.Replica.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open replica: %w", err)
	}
	defer store.Close()

	token := remotehttp.StaticSecretTokenSource(cfg.Remote.JWTSecret, cfg.TenantID, cfg.Remote.TokenTTL)

	var gateway storesync.RemoteGateway
	switch cfg.Remote.Kind {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Remote.PostgresDSN)
		if err != nil {
			return fmt.Errorf("failed to connect to authoritative postgres: %w", err)
		}
		defer pool.Close()
		gateway = remotehttp.NewPostgresGateway(pool, logger)
	default:
		gateway = remotehttp.NewGateway(cfg.Remote.BaseURL, token, logger)
	}

	transport := wsfeed.NewTransport(cfg.Remote.FeedURL, token, logger)

	engineCfg := storesync.DefaultConfig()
	engineCfg.SyncInterval = cfg.Sync.Interval
	engineCfg.GracePeriod = cfg.Sync.GracePeriod
	engineCfg.FetchTimeout = cfg.Sync.FetchTimeout
	engineCfg.CleanupTimeout = cfg.Sync.CleanupTimeout

	registry := prometheus.NewRegistry()
	engine := storesync.NewEngine(cfg.TenantID, gateway, store, transport, engineCfg,
		storesync.WithMetrics(storesync.NewMetrics(registry)),
		storesync.WithLogger(logger),
	)

	if cfg.Admin.Enabled {
		admin := newAdminServer(cfg, engine, registry, logger)
		go func() {
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Admin endpoint failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			admin.Shutdown(shutdownCtx)
		}()
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	logger.Info("Sync engine started", "tenant_id", cfg.TenantID, "replica", cfg.Replica.Path)

	<-ctx.Done()
	logger.Info("Shutting down")
	engine.Stop()
	return nil
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid logging level %q: %w", cfg.Level, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid logging format %q", cfg.Format)
	}
}

// newAdminServer serves /metrics openly and /status behind a bearer token.
func newAdminServer(cfg *Config, engine *storesync.Engine, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	authenticator := auth.NewAuthenticator(cfg.Admin.AdminSecret)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/status", authenticator.Middleware(statusHandler(engine)))

	logger.Info("Admin endpoint listening", "addr", cfg.Admin.Addr)
	return &http.Server{
		Addr:              cfg.Admin.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// statusHandler reports engine health along with the identity the caller
// authenticated as, so operators can confirm which token a probe is using.
func statusHandler(engine *storesync.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, _ := auth.TenantID(r.Context())
		replicaID, _ := auth.ReplicaID(r.Context())

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"tenant_id":      tenantID,
			"replica_id":     replicaID,
			"syncing":        engine.Syncing(),
			"last_synced_at": engine.LastSyncedAt(),
		})
	})
}
