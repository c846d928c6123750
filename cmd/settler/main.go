// Package main is the entry point for the gamblefi settlement daemon.  It
// wires the chain transport, the event store, and the settlement pipeline,
// then serves the health/status/query surface until a shutdown signal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // postgres driver

	"github.com/Mmmuuieddd/gamblefi-backend/internal/api"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/chain"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/config"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/repository"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/scheduler"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/service"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/ws"
)

func main() {
	// ── 1. Config + logger ────────────────────────────────────────────────────
	_ = godotenv.Load() // optional .env for local runs

	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting gamblefi settler", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 5. Chain transport ────────────────────────────────────────────────────
	client, err := chain.NewClient(ctx, &cfg.Chain, logger)
	if err != nil {
		logger.Error("chain client failed", "err", err)
		os.Exit(1)
	}
	supervisor := chain.NewSupervisor(client, &cfg.Settler, logger)

	// ── 6. Pipeline (order matters for injection) ─────────────────────────────
	eventRepo := repository.NewEventRepository(db)

	reconciler := service.NewReconciler(client, logger)
	dispatcher := service.NewSettlementDispatcher(client, logger)
	reconciler.SetDispatcher(dispatcher)
	dispatcher.SetPendingTable(reconciler)

	ingestor := service.NewIngestor(client, eventRepo, reconciler,
		cfg.Settler.DedupeCapacity, cfg.Settler.DefaultRevealDelay, logger)

	// ── 7. WebSocket hub ──────────────────────────────────────────────────────
	var allowedOrigins []string
	if ori := os.Getenv("WS_ALLOWED_ORIGINS"); ori != "" {
		for _, o := range strings.Split(ori, ",") {
			allowedOrigins = append(allowedOrigins, strings.TrimSpace(o))
		}
	}
	hub := ws.NewHub(allowedOrigins)
	ingestor.SetBroadcaster(hub)

	go hub.Run()
	logger.Info("websocket hub started")

	// ── 8. Settler + scheduler ────────────────────────────────────────────────
	settler := service.NewSettler(cfg, client, supervisor, reconciler, dispatcher, ingestor, eventRepo, logger)
	if err = settler.Start(ctx); err != nil {
		logger.Error("settler start aborted", "err", err)
		os.Exit(1)
	}

	sched := scheduler.NewScheduler(reconciler, supervisor, cfg, logger)
	sched.Start(ctx)

	// ── 9. HTTP router ────────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		Settler: settler,
		Store:   eventRepo,
		Hub:     hub,
		Cfg:     cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 10. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	settler.Stop()
	client.Close()
	db.Close()
	logger.Info("settler stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
