// Package server exposes the orchestrator over HTTP and streams hub events
// to WebSocket observers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/go-scripts/examcrawl/internal/duration"
	"github.com/go-scripts/examcrawl/internal/history"
	"github.com/go-scripts/examcrawl/internal/progress"
	"github.com/go-scripts/examcrawl/internal/task"
	"github.com/go-scripts/examcrawl/internal/types"
)

// Controller starts, stops and reports runs
type Controller interface {
	Start(examID, format string) (*task.Run, error)
	Stop() bool
	Status() task.Status
}

// Configuration wires a Server. History and Metrics are optional.
type Configuration struct {
	Controller Controller
	Hub        *progress.Hub
	History    *history.Store
	Metrics    http.Handler
	OutputDir  string
	Origins    []string
	Logger     *log.Logger
}

// Server is the HTTP interface
type Server struct {
	config Configuration
	logger *log.Logger
}

// New creates a Server
func New(config Configuration) *Server {
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	if config.OutputDir == "" {
		config.OutputDir = "."
	}
	if len(config.Origins) == 0 {
		config.Origins = []string{"*"}
	}
	return &Server{config: config, logger: logger.WithPrefix("server")}
}

// Handler returns the routed handler with CORS and cleartext HTTP/2
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/crawl", s.handleCrawl)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/download/{filename...}", s.handleDownload)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /ws", s.handleSocket)
	if s.config.Metrics != nil {
		mux.Handle("GET /metrics", s.config.Metrics)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.Origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", addr, "origins", s.config.Origins)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve on %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), duration.ServerShutdown)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type crawlRequest struct {
	ExamID     string `json:"exam_id"`
	FileFormat string `json:"file_format"`
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body.")
		return
	}

	run, err := s.config.Controller.Start(req.ExamID, req.FileFormat)
	switch {
	case errors.Is(err, task.ErrConflict):
		writeError(w, http.StatusConflict, "Another crawl is already running.")
		return
	case errors.Is(err, task.ErrInvalidExamID):
		writeError(w, http.StatusBadRequest, "Enter a valid numeric exam ID.")
		return
	case errors.Is(err, types.ErrInvalidFormat):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file format %q.", req.FileFormat))
		return
	case err != nil:
		s.logger.Error("failed to start crawl", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to start crawl.")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Crawl started.",
		"exam_id": run.ExamID,
		"run_id":  run.ID,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.config.Controller.Stop() {
		writeJSON(w, http.StatusOK, map[string]string{"message": "No crawl is running."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Crawl stopped."})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Controller.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDownload serves an export from the output directory. Only the base
// name of the requested path is used.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.PathValue("filename"))
	if name == "." || name == "/" || name == ".." {
		writeError(w, http.StatusNotFound, "File not found.")
		return
	}

	path := filepath.Join(s.config.OutputDir, name)
	file, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "File not found.")
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "File not found.")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), file)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer.")
			return
		}
		limit = n
	}

	if s.config.History == nil {
		writeJSON(w, http.StatusOK, []history.Entry{})
		return
	}
	entries, err := s.config.History.Latest(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read history", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to read history.")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
