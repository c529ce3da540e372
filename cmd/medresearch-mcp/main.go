// Package main provides the entry point for the medresearch MCP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/medresearch/internal/app"
	"github.com/raphaelgruber/medresearch/internal/config"
	"github.com/raphaelgruber/medresearch/internal/server"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg, "mcp")
	defer cleanup()

	logger.Info("medresearch-mcp starting",
		"version", version,
		"store", cfg.StoreBackend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	st, err := app.OpenStore(initCtx, cfg, logger)
	initCancel()
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing store")
		_ = st.Close(context.Background())
	}()

	srv := server.New(version, logger)
	srv.Setup()
	srv.RegisterTools(app.NewSearchDeps(cfg, st, logger))

	logger.Info("server ready, awaiting connections")

	// Run server (blocks until disconnect or context cancelled)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
