// Package app assembles the examcrawl components from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/examcrawl/internal/config"
	"github.com/go-scripts/examcrawl/internal/crawler"
	"github.com/go-scripts/examcrawl/internal/duration"
	"github.com/go-scripts/examcrawl/internal/history"
	"github.com/go-scripts/examcrawl/internal/metrics"
	"github.com/go-scripts/examcrawl/internal/progress"
	"github.com/go-scripts/examcrawl/internal/server"
	"github.com/go-scripts/examcrawl/internal/task"
	"github.com/go-scripts/examcrawl/internal/telemetry"
	"github.com/go-scripts/examcrawl/internal/writer"
	"github.com/go-scripts/examcrawl/pkg/crawl"
)

// ServiceName identifies the process in traces
const ServiceName = "examcrawl"

// App holds the wired components of one process
type App struct {
	Config       *config.Config
	Logger       *log.Logger
	Hub          *progress.Hub
	Writer       *writer.FileWriter
	History      *history.Store
	Metrics      *metrics.Metrics
	Orchestrator *task.Orchestrator

	shutdownTracing telemetry.ShutdownFunc
}

// New wires every component. The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = cfg.NewLogger()
	}

	shutdown, err := telemetry.Setup(ctx, ServiceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		// tracing is optional
		logger.Warn("tracing disabled", "err", err)
	}

	w, err := writer.New(cfg.OutputDir, logger.WithPrefix("writer"))
	if err != nil {
		return nil, err
	}

	var store *history.Store
	if cfg.HistoryDB != "" {
		store, err = history.Open(cfg.HistoryDB)
		if err != nil {
			return nil, err
		}
	}

	if !cfg.HasCredentials() {
		logger.Warn("login credentials are not set; runs will fail until they are",
			"email_var", config.EnvEmail, "password_var", config.EnvPassword)
	}

	hub := progress.New(logger.WithPrefix("hub"))
	m := metrics.New()
	m.RegisterObservers(hub.Count)

	sessionConfig := crawl.Configuration{
		Email:       cfg.Email,
		Password:    cfg.Password,
		Site:        cfg.Site,
		Headless:    cfg.Headless,
		ChromePath:  cfg.ChromePath,
		UserAgent:   cfg.UserAgent,
		PrimaryWait: cfg.Waits.Primary,
	}
	sessionLogger := logger.WithPrefix("browser")

	orchestrator := task.New(task.Configuration{
		Crawler: crawler.Configuration{
			Site:        cfg.Site,
			PrimaryWait: cfg.Waits.Primary,
			OverlayWait: cfg.Waits.Overlay,
			StepPause:   cfg.Waits.StepPause,
			PagePause:   cfg.Waits.PagePause,
		},
		NewSession: func() task.Session {
			return crawl.NewSession(sessionConfig, sessionLogger)
		},
		Exporter: w,
		Hub:      hub,
		History:  store,
		Metrics:  m,
		Logger:   logger,
	})

	return &App{
		Config:          cfg,
		Logger:          logger,
		Hub:             hub,
		Writer:          w,
		History:         store,
		Metrics:         m,
		Orchestrator:    orchestrator,
		shutdownTracing: shutdown,
	}, nil
}

// Server returns the HTTP interface over the App's components
func (a *App) Server() *server.Server {
	return server.New(server.Configuration{
		Controller: a.Orchestrator,
		Hub:        a.Hub,
		History:    a.History,
		Metrics:    a.Metrics.Handler(),
		OutputDir:  a.Config.OutputDir,
		Origins:    a.Config.Origins,
		Logger:     a.Logger,
	})
}

// Serve runs the HTTP server until ctx ends, then stops any active run and
// waits for it to tear down.
func (a *App) Serve(ctx context.Context) error {
	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(a.Config.Port))
	err := a.Server().ListenAndServe(ctx, addr)

	if a.Orchestrator.Stop() {
		a.Logger.Info("stopped active run for shutdown")
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), duration.ServerShutdown)
	defer cancel()
	if werr := a.Orchestrator.Wait(waitCtx); werr != nil {
		a.Logger.Warn("active run did not finish before shutdown", "err", werr)
	}
	return err
}

// Close releases the history database and flushes traces
func (a *App) Close() error {
	var errs []error
	if a.History != nil {
		errs = append(errs, a.History.Close())
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), duration.ServerShutdown)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush traces: %w", err))
		}
	}
	return errors.Join(errs...)
}
