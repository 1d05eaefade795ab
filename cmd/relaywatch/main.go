package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"relaywatch/internal/checker"
	"relaywatch/internal/observability"
	"relaywatch/internal/probe"
	"relaywatch/internal/server"
	"relaywatch/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to server config YAML/JSON")
	listen := flag.String("addr", "", "Optional listen address override")
	adminPassword := flag.String("set-admin-password", "", "Set the admin password and exit (empty clears it)")
	flag.Parse()

	setPassword := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "set-admin-password" {
			setPassword = true
		}
	})

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(rootCtx, cfg.Database)
	if err != nil {
		slog.Error("open store failed", "error", err, "driver", cfg.Database.Driver)
		os.Exit(1)
	}
	defer st.Close()

	if err := store.EnsureDefaults(rootCtx, st); err != nil {
		slog.Error("seed defaults failed", "error", err)
		os.Exit(1)
	}

	if setPassword {
		value := ""
		if *adminPassword != "" {
			value, err = server.HashAdminPassword(*adminPassword)
			if err != nil {
				slog.Error("hash admin password failed", "error", err)
				os.Exit(1)
			}
		}
		if err := st.SetGlobal(rootCtx, store.GlobalAdminPasswordHash, value); err != nil {
			slog.Error("store admin password failed", "error", err)
			os.Exit(1)
		}
		if value == "" {
			slog.Info("admin password cleared")
		} else {
			slog.Info("admin password updated")
		}
		return
	}

	obs, err := observability.Setup(rootCtx, cfg.Observer)
	if err != nil {
		slog.Error("setup observability failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = obs.Shutdown(ctx)
	}()

	classifier := probe.NewClassifier(st)
	executor := probe.NewExecutor(st, checker.NewHTTPChecker(nil), classifier, obs)
	cleaner := probe.NewRetentionCleaner(st)

	scheduler := probe.NewScheduler(st, executor, cleaner, obs)
	scheduler.RecoveryDelay = time.Duration(cfg.Probe.RecoveryDelaySeconds) * time.Second
	if err := scheduler.Start(rootCtx); err != nil {
		slog.Error("start scheduler failed", "error", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	api := server.NewAPI(st, scheduler, executor, cleaner, cfg)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-rootCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	slog.Info("relaywatch listening",
		"listen", cfg.ListenAddr,
		"driver", cfg.Database.Driver,
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg server.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.OpenPostgres(ctx, cfg.DSN, cfg.MaxConns)
	case "", "sqlite":
		if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		return store.OpenSQLite(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
