// Package main provides the HTTP server for medresearch.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/medresearch/internal/app"
	"github.com/raphaelgruber/medresearch/internal/config"
	"github.com/raphaelgruber/medresearch/internal/server"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()

	addr := flag.String("addr", cfg.ServerAddr, "listen address")
	flag.Parse()

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg, "server")
	defer cleanup()

	logger.Info("medresearch-server starting",
		"version", version,
		"addr", *addr,
		"store", cfg.StoreBackend,
		"provider", cfg.LLMProvider,
		"model", cfg.LLMModel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	st, err := app.OpenStore(initCtx, cfg, logger)
	if err != nil {
		cancel()
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	a, err := app.New(initCtx, cfg, st, logger)
	cancel()
	if err != nil {
		_ = st.Close(context.Background())
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing store")
		if err := a.Close(context.Background()); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	api := server.NewAPI(server.APIDeps{
		Conversation: a.Conversation,
		Dialogs:      a.Dialogs,
		Users:        a.Users,
		Collector:    a.Collector,
		Logger:       logger,
	})

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AgentTimeout + 30*time.Second, // Long for agent turns
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("API available", "url", "http://localhost"+*addr+"/api")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
