package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaywave/wagateway/internal/aiproxy"
	"github.com/relaywave/wagateway/internal/config"
	"github.com/relaywave/wagateway/internal/dispatcher"
	"github.com/relaywave/wagateway/internal/httpapi"
	. "github.com/relaywave/wagateway/internal/logging"
	"github.com/relaywave/wagateway/internal/media"
	"github.com/relaywave/wagateway/internal/metrics"
	"github.com/relaywave/wagateway/internal/paths"
	"github.com/relaywave/wagateway/internal/scheduler"
	"github.com/relaywave/wagateway/internal/session"
	"github.com/relaywave/wagateway/internal/store"
)

const shutdownGrace = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfg := config.Load()

	Init(&Config{Level: cfg.LogLevelValue(), ShowCaller: true})
	L_info("wagateway %s starting", Version)

	if cfg.DBURL == "" {
		L_fatal("DB_URL is not set")
	}
	if cfg.AIBackendURL == "" {
		L_warn("AI_BACKEND_URL is not set; only per-agent endpoint overrides will work")
	}

	st, err := store.Open(cfg.DBURL)
	if err != nil {
		L_fatal("failed to open store: %v", err)
	}
	defer st.Close()

	if err := paths.EnsureDir(cfg.WWebJSAuthDir); err != nil {
		L_fatal("failed to create auth dir: %v", err)
	}
	if err := paths.EnsureDir(cfg.TempDir); err != nil {
		L_fatal("failed to create temp dir: %v", err)
	}

	m := metrics.New()
	sched := scheduler.New()
	defer sched.Close()

	proxy := aiproxy.New(cfg.AIBackendURL, m)

	sup := session.New(session.Options{
		Store:           st,
		Metrics:         m,
		AuthRoot:        cfg.WWebJSAuthDir,
		TempDir:         cfg.TempDir,
		DefaultEndpoint: proxy.DefaultEndpoint,
		Scheduler:       sched,
	})
	sup.SetInbound(dispatcher.New(proxy, sched, m, ""))

	sweeper := media.NewSweeper(cfg.TempDir)
	if err := sweeper.Start(); err != nil {
		L_fatal("failed to start preview sweeper: %v", err)
	}
	defer sweeper.Stop()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), time.Minute)
	go func() {
		defer bootCancel()
		sup.Bootstrap(bootCtx)
	}()

	api := httpapi.New(sup, st, proxy, m, cfg.CORSOrigins)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		L_info("wagateway listening", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			L_fatal("http server failed: %v", err)
		}
	case sig := <-sigCh:
		L_info("signal received, shutting down", "signal", sig.String())
	}

	SetShuttingDown()

	// Stop accepting, drain in-flight requests. Live sessions are left
	// standing; auth stores and DB rows survive the process.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		L_warn("http shutdown incomplete", "error", err)
	}
	sup.Shutdown()

	L_info("wagateway stopped")
}
