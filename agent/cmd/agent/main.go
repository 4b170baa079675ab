package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redmetrics/redmetrics-go/agent/internal/alerts"
	"github.com/redmetrics/redmetrics-go/agent/internal/api"
	"github.com/redmetrics/redmetrics-go/agent/internal/bridge"
	"github.com/redmetrics/redmetrics-go/agent/internal/compute"
	"github.com/redmetrics/redmetrics-go/agent/internal/config"
	"github.com/redmetrics/redmetrics-go/agent/internal/metrics"
	"github.com/redmetrics/redmetrics-go/agent/internal/session"
	"github.com/redmetrics/redmetrics-go/agent/internal/ws"
	"github.com/redmetrics/redmetrics-go/internal/logging"
	"github.com/redmetrics/redmetrics-go/pkg/redmetrics"
)

func main() {
	configPath := flag.String("config", "agent.yaml", "path to config file")
	stdin := flag.Bool("stdin", true, "read bridge commands from stdin and write replies to stdout")
	flag.Parse()

	// stdout carries bridge replies, so logs go to stderr.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		slog.Error("failed to build logger", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	slog.Info("redmetrics-agent starting",
		"config", *configPath,
		"base_url", cfg.Connection.URL(),
		"game_version", cfg.Connection.GameVersionID,
		"buffering_delay", cfg.Connection.BufferingDelay,
		"auto_connect", cfg.Agent.AutoConnect,
		"alert_rules", len(cfg.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The hub is assigned before Run starts, so no flush can reach a nil hub.
	var hub *ws.Hub
	var sess *session.Session
	exporter := metrics.New(func() redmetrics.Stats { return sess.Status().Stats })

	sess, err = session.New(cfg.Connection,
		session.WithAutoConnect(cfg.Agent.AutoConnect),
		session.WithCertChecker(session.DefaultCertChecker),
		session.WithFlushHook(exporter.Observe),
		session.WithFlushHook(func(r redmetrics.FlushReport) { hub.Publish(r) }),
	)
	if err != nil {
		slog.Error("failed to build session", "err", err)
		os.Exit(1)
	}
	hub = ws.New(sess, cfg.Agent.StreamInterval)

	sessDone := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(sessDone)
	}()
	go hub.Run(ctx)

	// A flush as long as the request timeout earns no latency credit.
	healthEngine := compute.NewEngine(cfg.Connection.Timeout)
	go healthEngine.Run(ctx, sess.Status, cfg.Agent.StreamInterval)

	// Alert rules are read once at start; reloads only replace the connection.
	alertEngine := alerts.New(cfg.Alerts, alerts.WithHealth(healthEngine.Latest))
	alertsDone := make(chan struct{})
	go func() {
		alertEngine.Run(ctx, sess.Status, cfg.Agent.StreamInterval)
		close(alertsDone)
	}()

	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			sess.Reload(updated.Connection)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	br := bridge.New(sess, bridge.WithBaseConfig(func() redmetrics.Config {
		return sess.Config().Config
	}))
	if *stdin {
		go func() {
			if err := br.Serve(ctx, os.Stdin, os.Stdout); err != nil {
				slog.Error("bridge stopped", "err", err)
			}
			// The host closed our stdin; there is nobody left to post data.
			slog.Info("bridge input closed")
			cancel()
		}()
	}

	var httpSrv *http.Server
	if cfg.Agent.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/api/", api.New(sess, api.WithAlerts(alertEngine), api.WithHealth(healthEngine)))
		mux.Handle("/metrics", exporter)
		mux.Handle("/ws/stream", hub)

		httpSrv = &http.Server{
			Addr:              cfg.Agent.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("status API listening", "addr", cfg.Agent.ListenAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("HTTP server stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("redmetrics-agent shutting down")

	<-sessDone
	<-alertsDone

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := br.Wait(shutdownCtx); err != nil {
		slog.Warn("some deliveries were still pending at exit", "err", err)
	}
	if httpSrv != nil {
		httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	}
}
