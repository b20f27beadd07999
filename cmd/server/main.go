// Command server runs the LLMule broker: the HTTP surface clients use to
// submit chat completions and read their accounting history, and the
// websocket endpoint providers connect to for the Session Layer.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	_ "github.com/lib/pq" // postgres driver

	"github.com/llmule/broker/internal/api"
	"github.com/llmule/broker/internal/auth"
	"github.com/llmule/broker/internal/config"
	"github.com/llmule/broker/internal/dispatcher"
	"github.com/llmule/broker/internal/idempotency"
	"github.com/llmule/broker/internal/ledger"
	"github.com/llmule/broker/internal/metrics"
	"github.com/llmule/broker/internal/observability"
	"github.com/llmule/broker/internal/registry"
	"github.com/llmule/broker/internal/session"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(bootLogger)

	cfgManager, err := config.NewManager(*configPath, bootLogger)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	defer func() { _ = cfgManager.Close() }()
	cfg := cfgManager.Get()

	log := observability.NewLogger(observability.LoggerConfig{
		Level:      parseLevel(cfg.Logging.Level),
		JSONFormat: cfg.Logging.Format == "json",
	}, observability.NewRedactor())
	log.Info("starting llmule broker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if watchErr := cfgManager.Watch(ctx); watchErr != nil {
		log.Warn("config hot-reload disabled", "error", watchErr)
	}

	db, err := sql.Open("postgres", fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
		cfg.Database.Password, cfg.Database.Database, cfg.Database.SSLMode,
	))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)
	defer func() { _ = db.Close() }()

	recon := ledger.NewPostgresReconciler(db, log)
	gw := ledger.NewPostgresGatewayFromDB(db, log, recon)

	var authStore auth.Store
	if cfg.Database.Enabled {
		authStore, err = auth.NewPostgresStore(&auth.PostgresConfig{
			Host: cfg.Database.Host, Port: cfg.Database.Port,
			User: cfg.Database.User, Password: cfg.Database.Password,
			Database: cfg.Database.Database, SSLMode: cfg.Database.SSLMode,
			MaxOpenConns: cfg.Database.MaxOpenConns, MaxIdleConns: cfg.Database.MaxIdleConns,
			ConnLifetime: cfg.Database.ConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("open auth store: %w", err)
		}
	} else {
		authStore = auth.NewMemoryStore()
		log.Warn("database.enabled is false; using in-memory account store")
	}
	defer func() { _ = authStore.Close() }()

	reg := registry.New()
	tunables := dispatcher.Tunables{
		LoadThreshold:         cfg.Tunables.LoadThreshold,
		DefaultRequestTimeout: cfg.Tunables.DefaultRequestTimeout,
		MaxRequestTimeout:     cfg.Tunables.MaxRequestTimeout,
		MaxConcurrentRequests: cfg.Tunables.MaxConcurrentRequests,
	}
	disp := dispatcher.New(reg, gw, tunables, log)

	sessionTunables := session.Tunables{
		PingInterval: cfg.Tunables.PingInterval,
		Timeout:      cfg.Tunables.SessionTimeout,
	}
	sessionAuth := auth.NewSessionAuthenticator(authStore)
	sessionHandler := session.NewHandler(reg, disp, sessionAuth, sessionTunables, log)
	go runSweepLoop(ctx, sessionHandler, sessionTunables.PingInterval)

	idemStore := idempotency.NewMemoryStore()
	handler := api.New(disp, reg, gw, idemStore, log)
	adminHandler := api.NewAdminHandler(recon)

	mux := buildMux(cfg, handler, adminHandler)
	mux.HandleFunc("GET /v1/providers/connect", func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		sessionHandler.Serve(r.Context(), session.NewConnection(wsConn))
	})

	rateLimiter := auth.NewTenantRateLimiter(auth.TenantRateLimiterConfig{
		DefaultRPM:        cfg.Tunables.RateLimitRPM,
		DefaultBurst:      cfg.Tunables.RateLimitBurst,
		TrustedProxyCIDRs: cfg.Server.TrustedProxyCIDRs,
	})
	// The rate limiter sits inside the auth middleware so it sees the
	// attached AuthContext and keys on the account id.
	var httpHandler http.Handler = rateLimiter.RateLimitMiddleware(mux)
	if cfg.Auth.Enabled {
		authMiddleware := auth.NewMiddleware(&auth.MiddlewareConfig{
			Store:                  authStore,
			Logger:                 log,
			SkipPaths:              cfg.Auth.SkipPaths,
			LastUsedUpdateInterval: cfg.Auth.LastUsedUpdateInterval,
		})
		httpHandler = authMiddleware.Authenticate(httpHandler)
	}
	httpHandler = metrics.Middleware(httpHandler)
	httpHandler = observability.RequestIDMiddleware(httpHandler)
	httpHandler = corsMiddleware(httpHandler)
	httpHandler = recoveryMiddleware(log.Slog())(httpHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	stopPoolMetrics := startDBPoolMetrics(ctx, gw, log.Slog(), 30*time.Second)
	defer func() {
		if stopPoolMetrics != nil {
			stopPoolMetrics()
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutting down")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	log.Info("server stopped")
	return nil
}

// runSweepLoop periodically sweeps the Provider Registry for sessions
// that have gone silent, demoting or removing them per the heartbeat
// protocol's two-stage liveness machine. It runs until ctx is canceled.
func runSweepLoop(ctx context.Context, h *session.Handler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.SweepInactive()
		}
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
