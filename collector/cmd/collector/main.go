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
	"syscall"
	"time"

	"github.com/redmetrics/redmetrics-go/collector/internal/api"
	"github.com/redmetrics/redmetrics-go/collector/internal/config"
	"github.com/redmetrics/redmetrics-go/collector/internal/store"
	"github.com/redmetrics/redmetrics-go/internal/logging"
)

func main() {
	configPath := flag.String("config", "collector.yaml", "path to config file")
	logFormat := flag.String("log-format", "json", "log format: json|console")
	logLevel := flag.String("log-level", "info", "log level: debug|info|warn|error")
	flag.Parse()

	logger, err := logging.New(os.Stdout, *logFormat, *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	slog.Info("redmetrics-collector starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	c := cfg.Collector

	slog.Info("config loaded",
		"http_port", c.HTTPPort,
		"auth_mode", c.Auth.Mode,
		"game_versions", len(c.GameVersions),
		"record_ttl", c.RecordTTL,
	)
	if c.Auth.Mode == "apikey" && c.Auth.Key() == "" {
		slog.Warn("auth mode is apikey but the key variable is empty; accepting all requests",
			"key_env", c.Auth.KeyEnv)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New(c.RecordTTL, c.GameVersions...)
	go st.Run(ctx)

	httpSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", c.HTTPPort),
		Handler: api.New(st, api.AuthConfig{
			Mode:   c.Auth.Mode,
			Header: c.Auth.EffectiveHeader(),
			Key:    c.Auth.Key(),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", c.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("redmetrics-collector shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
