// Command sitewatch is the website availability monitor. It loads a YAML
// configuration file, opens the sqlite store under the data root, auto-starts
// every enabled monitoring instance, runs the alert evaluator, exposes the
// HTTP control API, and shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sitewatch/monitor/internal/alert"
	"github.com/sitewatch/monitor/internal/api"
	"github.com/sitewatch/monitor/internal/config"
	"github.com/sitewatch/monitor/internal/persist"
	"github.com/sitewatch/monitor/internal/probe"
	"github.com/sitewatch/monitor/internal/runtime"
	"github.com/sitewatch/monitor/internal/secret"
	"github.com/sitewatch/monitor/internal/store"
	"github.com/sitewatch/monitor/internal/timezone"
)

func main() {
	configPath := flag.String("config", "/etc/sitewatch/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sitewatch: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.String("data_root", cfg.DataRoot),
		slog.String("listen_addr", cfg.ListenAddr),
		slog.String("log_level", cfg.LogLevel),
	)

	if err := os.MkdirAll(cfg.DataRoot, 0o700); err != nil {
		logger.Error("failed to create data root", slog.Any("error", err))
		os.Exit(1)
	}

	st, err := store.Open(filepath.Join(cfg.DataRoot, "sitewatch.db"))
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("store opened")

	protector, err := secret.NewProtector(cfg.DataRoot, secret.SmtpPasswordPurpose)
	if err != nil {
		logger.Error("failed to initialise protector", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prober := probe.NewProber(logger)
	persister := persist.New(st, logger)
	manager := runtime.NewManager(ctx, st, prober, persister, logger)

	if err := manager.AutoStart(ctx); err != nil {
		logger.Error("auto-start failed", slog.Any("error", err))
		os.Exit(1)
	}

	tz := timezone.NewResolver(logger)
	evaluator := alert.NewEvaluator(st, manager, protector, tz, cfg.AlertConfig(), logger,
		alert.WithBaseURL(cfg.PublicBaseURL))
	go evaluator.Run(ctx)

	var pubKey *rsa.PublicKey
	if cfg.JWTPublicKeyPath != "" {
		pem, err := os.ReadFile(cfg.JWTPublicKeyPath)
		if err != nil {
			logger.Error("failed to read JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		pubKey, err = api.ParseRSAPublicKey(pem)
		if err != nil {
			logger.Error("failed to parse JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("JWT validation enabled")
	} else {
		logger.Warn("jwt_public_key_path not configured; control API authentication disabled (dev mode)")
	}

	srv := api.NewServer(st, manager)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewRouter(srv, pubKey),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("control API listening", slog.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("control API server error", slog.Any("error", err))
		}
	}()

	// Block until SIGTERM or SIGINT.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	// Graceful shutdown: stop the workers and the evaluator first, then the
	// HTTP server.
	cancel()
	manager.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("control API shutdown error", slog.Any("error", err))
	}

	logger.Info("sitewatch exited cleanly")
}

// newLogger constructs a *slog.Logger that writes JSON-structured log records
// to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
