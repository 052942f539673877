// Package app wires the control plane's dependencies together and runs the
// HTTP server and background schedules.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/penguintechinc/marchproxy-control/internal/audit"
	"github.com/penguintechinc/marchproxy-control/internal/auth"
	"github.com/penguintechinc/marchproxy-control/internal/config"
	"github.com/penguintechinc/marchproxy-control/internal/httpserver"
	"github.com/penguintechinc/marchproxy-control/internal/platform"
	"github.com/penguintechinc/marchproxy-control/internal/telemetry"
	"github.com/penguintechinc/marchproxy-control/pkg/certificate"
	"github.com/penguintechinc/marchproxy-control/pkg/cluster"
	"github.com/penguintechinc/marchproxy-control/pkg/configdist"
	"github.com/penguintechinc/marchproxy-control/pkg/fleetregistrar"
	"github.com/penguintechinc/marchproxy-control/pkg/license"
	"github.com/penguintechinc/marchproxy-control/pkg/mapping"
	"github.com/penguintechinc/marchproxy-control/pkg/service"
)

// Run connects to infrastructure, mounts every domain handler, and serves
// the control plane's HTTP API until ctx is canceled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting marchproxy-control", "listen", cfg.ListenAddr())

	pool, err := platform.NewPostgresPool(ctx, cfg.StoreURL)
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.StoreURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	return runAPI(ctx, cfg, logger, pool, rdb, metricsReg)
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = auth.GenerateDevSecret()
		logger.Info("session: using auto-generated dev secret (set MARCHPROXY_SESSION_SECRET in production)")
	}
	sessionMaxAge, err := time.ParseDuration(cfg.SessionMaxAge)
	if err != nil {
		return fmt.Errorf("parsing session max age %q: %w", cfg.SessionMaxAge, err)
	}
	sessionMgr, err := auth.NewSessionManager(sessionSecret, sessionMaxAge)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	rateLimiter := auth.NewRateLimiter(rdb, 10, 15*time.Minute)

	auditWriter := audit.NewWriter(pool, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	// Domain stores.
	clusterStore := cluster.NewStore(pool)
	serviceStore := service.NewStore(pool)
	mappingStore := mapping.NewStore(pool)
	certStore := certificate.NewStore(pool)

	// License Enforcer.
	issuer := license.NewHTTPIssuerClient(cfg.LicenseIssuerURL, http.DefaultClient)
	licenseSvc := license.New(cfg.LicenseKey, issuer, time.Hour)
	if _, err := licenseSvc.Validate(ctx, false); err != nil {
		logger.Warn("initial license validation failed, continuing with community defaults", "error", err)
	}

	// Fleet Registrar.
	staleThreshold := time.Duration(cfg.ProxyStaleSeconds) * time.Second
	retireThreshold := time.Duration(cfg.ProxyRetireSeconds) * time.Second
	registrar := fleetregistrar.New(pool, licenseSvc, staleThreshold, retireThreshold)

	// Config Distributor.
	renderer := configdist.NewRenderer(clusterStore, serviceStore, mappingStore, certStore)
	notifier := configdist.NewNotifier(rdb)
	configdistSvc := configdist.New(clusterStore, renderer, notifier)

	srv := httpserver.NewServer(cfg, logger, pool, rdb, metricsReg)

	auditHandler := audit.NewHandler(logger, pool)
	clusterHandler := cluster.NewHandler(logger, clusterStore, auditWriter)
	serviceHandler := service.NewHandler(logger, serviceStore, auditWriter, configdistSvc)
	mappingHandler := mapping.NewHandler(logger, mappingStore, auditWriter, configdistSvc)
	certHandler := certificate.NewHandler(logger, certStore, auditWriter, configdistSvc)
	fleetHandler := fleetregistrar.NewHandler(logger, registrar)
	configdistHandler := configdist.NewHandler(logger, configdistSvc)
	licenseHandler := license.NewHandler(logger, licenseSvc)

	// --- Auth routes (public, pre-authentication) ---
	localAdmin := auth.NewLocalAdminHandler(sessionMgr, cfg.AdminBootstrapPassword, logger, rateLimiter)
	srv.Router.Post("/auth/login", localAdmin.HandleLogin)
	srv.Router.Post("/auth/logout", localAdmin.HandleLogout)

	srv.Router.Get("/status", srv.HandleStatus)

	srv.OperatorRouter.Use(auth.Middleware(sessionMgr, logger))
	srv.OperatorRouter.Get("/auth/me", localAdmin.HandleMe)
	srv.OperatorRouter.Get("/status", srv.HandleStatus)

	srv.OperatorRouter.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Mount("/audit-log", auditHandler.Routes())
		r.Mount("/clusters", clusterHandler.Routes())
		r.Route("/clusters/{clusterID}", func(cr chi.Router) {
			cr.Mount("/services", serviceHandler.Routes())
			cr.Mount("/mappings", mappingHandler.Routes())
			cr.Mount("/certificates", certHandler.Routes())
		})
		fleetHandler.MountOperatorRoutes(r)
		licenseHandler.MountOperatorRoutes(r)
	})

	// --- Data-plane routes (cluster API-key auth) ---
	// Registered directly on ProxyRouter rather than via Mount, since chi
	// does not support mounting more than one sub-router at the same
	// pattern and these three packages' routes are all realm-root-relative.
	fleetHandler.MountProxyRoutes(srv.ProxyRouter)
	configdistHandler.MountProxyRoutes(srv.ProxyRouter)
	licenseHandler.MountProxyRoutes(srv.ProxyRouter)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 1m", func() {
		n, err := registrar.Reap(ctx, time.Now())
		if err != nil {
			logger.Error("fleet reap failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("reaped stale proxies", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("scheduling fleet reap: %w", err)
	}
	keepaliveInterval := time.Duration(cfg.KeepaliveIntervalSeconds) * time.Second
	if keepaliveInterval <= 0 {
		keepaliveInterval = time.Hour
	}
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", keepaliveInterval), func() {
		if !licenseSvc.ReadyForKeepalive() {
			logger.Warn("skipping license keepalive, backing off after prior failures", "next_delay", licenseSvc.NextKeepaliveDelay())
			return
		}
		if err := licenseSvc.Keepalive(ctx); err != nil {
			logger.Error("license keepalive failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling license keepalive: %w", err)
	}
	if _, err := scheduler.AddFunc("@every 24h", func() {
		due, err := certStore.ListDueForRotation(ctx, time.Now())
		if err != nil {
			logger.Error("listing certificates due for rotation", "error", err)
			return
		}
		for _, c := range due {
			logger.Info("certificate due for rotation", "certificate_id", c.ID, "cluster_id", c.ClusterID, "not_after", c.NotAfter)
		}
	}); err != nil {
		return fmt.Errorf("scheduling certificate rotation check: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

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
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
