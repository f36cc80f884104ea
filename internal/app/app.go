// Package app wires configuration, infrastructure, and domain services into
// a running gatekeeper process and owns its startup/shutdown sequence.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/keystone/internal/abuse"
	"github.com/wisbric/keystone/internal/admin"
	"github.com/wisbric/keystone/internal/autoblock"
	"github.com/wisbric/keystone/internal/blocklist"
	"github.com/wisbric/keystone/internal/config"
	"github.com/wisbric/keystone/internal/credential"
	"github.com/wisbric/keystone/internal/gateway"
	"github.com/wisbric/keystone/internal/httpserver"
	"github.com/wisbric/keystone/internal/platform"
	"github.com/wisbric/keystone/internal/ratelimit"
	"github.com/wisbric/keystone/internal/telemetry"
	"github.com/wisbric/keystone/internal/tenant"
	"github.com/wisbric/keystone/internal/usage"
)

// Run is the application entry point. It reads config, connects to
// infrastructure, wires every domain service, and serves HTTP until ctx is
// canceled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting keystone", "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL())
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL(), cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	// Domain stores and services.
	tenants := tenant.NewStore(db)
	credentials := credential.NewStore(db)
	limiter := ratelimit.New(rdb)
	blocks := blocklist.NewStore(rdb)

	usageStore := usage.NewStore(db)
	usageWriter := usage.NewWriter(usageStore, logger)
	usageWriter.Start(ctx)
	defer usageWriter.Close()

	abuseDetector := abuse.NewDetector(db, credentials)
	autoblockCtrl := autoblock.NewController(db, blocks)

	defaultLimit, defaultWindow := cfg.DefaultRateLimit()
	adminAPI := admin.New(admin.Config{
		AdminToken:          cfg.AdminToken,
		EnableAutoBlock:     cfg.EnableAutoBlock,
		AllowBlockLocalhost: cfg.AllowBlockLocalhost,
		DefaultRateLimit:    defaultLimit,
		DefaultRateWindow:   defaultWindow,
	}, tenants, credentials, usageStore, abuseDetector, blocks, autoblockCtrl)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)
	gateway.Mount(srv.Router, credentials, limiter, blocks, usageWriter)
	admin.Router(srv.Router, adminAPI)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
