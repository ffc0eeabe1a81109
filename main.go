package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cybercinch/directdnsonly/internal/config"
	"github.com/cybercinch/directdnsonly/internal/container"
	"github.com/cybercinch/directdnsonly/internal/logger"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	env := "production"
	if cfg.LogFormat != "json" {
		env = "dev"
	}
	logger.Configure(cfg.LogLevel, env)

	c, err := container.Build(cfg)
	if err != nil {
		slog.Error("failed to build container", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	mux := http.NewServeMux()
	c.Ingress.Register(mux)
	c.Internal.Register(mux)
	c.Status.Register(mux)
	mux.Handle("/metrics", c.Metrics.Handler())

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.App.ListenPort),
		Handler: mux,
	}

	go func() {
		slog.Info("starting HTTP server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("starting directdnsonly bridge")

	wg := &sync.WaitGroup{}
	wg.Add(5)
	go func() { defer wg.Done(); c.Pipeline.RunSaveWorker(ctx) }()
	go func() { defer wg.Done(); c.Pipeline.RunDeleteWorker(ctx) }()
	go func() { defer wg.Done(); c.Pipeline.RunRetryWorker(ctx, retryDrainInterval) }()
	go func() { defer wg.Done(); c.Reconciler.Run(ctx) }()
	go func() { defer wg.Done(); c.PeerSync.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutdown signal received")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	wg.Wait()
	slog.Info("shutdown complete")
}

const retryDrainInterval = 30 * time.Second
