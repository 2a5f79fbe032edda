package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/frl/feed-api/internal/app/migrate"
	"github.com/frl/feed-api/internal/db"
	httpx "github.com/frl/feed-api/internal/http"
	"github.com/frl/feed-api/internal/repository/postgres"
	"github.com/frl/feed-api/internal/service/auth"
	"github.com/frl/feed-api/internal/service/monitor"
	"github.com/frl/feed-api/internal/stats"
	"github.com/frl/feed-api/internal/workers"
	"github.com/frl/feed-api/internal/ws"
	"github.com/frl/feed-api/pkg/config"
	"github.com/frl/feed-api/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	level := logger.ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := logger.New("api", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbCfg := db.Config{
		Host:           cfg.DBHost,
		Port:           cfg.DBPort,
		User:           cfg.DBUser,
		Password:       cfg.DBPassword,
		Name:           cfg.DBName,
		Charset:        cfg.DBCharset,
		ConnectTimeout: cfg.DBConnectTimeout,
		Retries:        cfg.DBRetries,
		RetryDelay:     cfg.DBRetryDelay,
	}
	mgr := db.NewManager(dbCfg, nil)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Close(closeCtx)
	}()

	// Migrations are best effort at boot. The service still comes up when
	// the database is unreachable and connects lazily on first use.
	if dir := strings.TrimSpace(cfg.MigrationsDir); dir != "" {
		runner, err := migrate.New(dbCfg.DSN(), dir, log)
		if err != nil {
			log.Warn("migration runner unavailable", "error", err)
		} else if err := runner.Ensure(ctx); err != nil {
			log.Warn("migrations not applied, continuing", "error", err)
		}
	}

	repo := postgres.New(mgr)
	authSvc := auth.New(repo, log)

	collector := stats.NewCollector(cfg.StatsResetEvery, nil)
	go collector.Run(ctx)

	var inventory monitor.Inventory
	if inv, err := workers.NewProcfsInventory(cfg.WorkerProcName); err != nil {
		log.Warn("worker inventory unavailable", "error", err)
	} else {
		inventory = inv
	}

	hub := ws.NewHub()
	monitorSvc := monitor.New(mgr, inventory, collector, hub, log, cfg.MonitorPushEvery, cfg.WorkerMin)
	go monitorSvc.Run(ctx)

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}
	if limiter == nil {
		limiter = httpx.NewMemoryRateLimiter()
	}

	router := httpx.NewRouter(log, authSvc, repo, monitorSvc, collector, hub, limiter, cfg.MonitorUser, cfg.MonitorPassword)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
