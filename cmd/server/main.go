package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/closeout/internal/alerts"
	"github.com/mmynk/closeout/internal/auth"
	"github.com/mmynk/closeout/internal/config"
	"github.com/mmynk/closeout/internal/directory"
	"github.com/mmynk/closeout/internal/hub"
	"github.com/mmynk/closeout/internal/metrics"
	"github.com/mmynk/closeout/internal/server"
	"github.com/mmynk/closeout/internal/service"
	"github.com/mmynk/closeout/internal/storage/sqlite"
	"github.com/mmynk/closeout/pkg/logging"
	"github.com/mmynk/closeout/pkg/messaging"
)

func main() {
	logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DBPath)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	hubClient := hub.NewClient(cfg.HubBaseURL, hub.Options{
		Timeout:               cfg.RemoteTimeout,
		InsecureSkipTLSVerify: cfg.InsecureSkipTLSVerify,
		Observe:               hubObserver(m),
	})
	slog.Info("Settlement hub configured", "base_url", cfg.HubBaseURL)

	var resolver directory.Resolver = directory.NewClient(cfg.LedgerBaseURL, directory.Options{
		Timeout:               cfg.RemoteTimeout,
		InsecureSkipTLSVerify: cfg.InsecureSkipTLSVerify,
	})
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		resolver = directory.NewRedisCache(resolver, rdb, cfg.DirectoryCacheTTL)
		slog.Info("Directory cache enabled", "addr", cfg.RedisAddr)
	}

	var bus *messaging.Client
	if cfg.NATSURL != "" {
		b, err := messaging.NewClient(messaging.Config{URL: cfg.NATSURL})
		if err != nil {
			slog.Warn("Event bus unavailable, alerts go to the log only", "error", err)
		} else {
			bus = b
			defer bus.Close()
			slog.Info("Event bus connected", "url", cfg.NATSURL)
		}
	}

	dispatcher := alerts.NewDispatcher(resolver, bus, m)
	svc := service.NewSettlementService(store, hubClient, dispatcher, m)

	authn := auth.NewPasswordAuthenticator(store)
	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		if _, err := authn.Seed(context.Background(), cfg.AdminEmail, "Administrator", cfg.AdminPassword); err != nil {
			slog.Error("Failed to seed admin operator", "error", err)
			os.Exit(1)
		}
		slog.Info("Admin operator ready", "email", cfg.AdminEmail)
	}
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.RepairInterval > 0 {
		go service.NewRepairer(svc, cfg.RepairInterval).Run(ctx)
	}

	router := server.New(cfg, svc, authn, jwtManager, m, registry).Router()

	// h2c serves HTTP/2 without TLS so participants behind a terminating
	// proxy can multiplex confirmations on one connection.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: h2c.NewHandler(router, &http2.Server{}),
	}

	go func() {
		slog.Info("Server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", "error", err)
	}
	slog.Info("Server stopped")
}

// hubObserver adapts the metrics recorder to the hub client callback.
// Status 0 means the request never got an answer.
func hubObserver(m *metrics.Metrics) func(op string, status int, duration time.Duration) {
	return func(op string, status int, duration time.Duration) {
		code := "transport"
		if status != 0 {
			code = strconv.Itoa(status)
		}
		m.ObserveHubRequest(op, code, duration)
	}
}
