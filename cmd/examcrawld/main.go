// Command examcrawld runs the examcrawl HTTP server configured from the
// environment only.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/examcrawl/internal/app"
	"github.com/go-scripts/examcrawl/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", "err", err)
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", "err", err)
	}

	err = a.Serve(ctx)
	if cerr := a.Close(); cerr != nil {
		logger.Warn("cleanup failed", "err", cerr)
	}
	if err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
