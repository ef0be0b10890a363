package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mxschmitt/pg-catalog/internal/catalog"
	"github.com/mxschmitt/pg-catalog/internal/config"
	"github.com/mxschmitt/pg-catalog/internal/service"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Server struct {
	config     *config.Config
	service    *service.Service
	logger     *zap.Logger
	httpServer *http.Server
}

func New(cfg *config.Config, svc *service.Service, logger *zap.Logger) *Server {
	s := &Server{
		config:  cfg,
		service: svc,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /items", s.handleListItems)
	mux.HandleFunc("POST /items", s.handleCreateItem)
	mux.HandleFunc("GET /items/{id}", s.handleGetItem)
	mux.HandleFunc("PATCH /items/{id}", s.handleUpdateItem)
	mux.HandleFunc("DELETE /items/{id}", s.handleDeleteItem)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	var handler http.Handler = mux
	if cfg.RateLimitRPS > 0 {
		handler = s.withRateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst), handler)
	}

	s.httpServer = &http.Server{
		Handler:      withRequestID(handler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.DBTimeout + 10*time.Second,
	}

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.config.ServicePort)
	s.httpServer.Addr = addr
	s.logger.Info("API server listening", zap.String("address", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler returns the HTTP handler for testing purposes
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	running, err := s.service.GetRunning()
	if err != nil {
		s.errorResponse(w, "Failed to get running status", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":           "ready",
		"snapshot_running": running,
		"timestamp":        time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	running, err := s.service.GetRunning()
	if err != nil {
		s.errorResponse(w, "Failed to get running status", http.StatusInternalServerError)
		return
	}

	lastRun, err := s.service.GetLastSnapshot()
	if err != nil {
		s.logger.Warn("Failed to get last snapshot", zap.Error(err))
	}

	statusData := map[string]interface{}{
		"currently_running": running,
		"scheduler_cron":    s.config.SnapshotCron,
		"timezone":          s.config.TZ,
		"retention_days":    s.config.RetentionDays,
	}

	if lastRun == nil {
		statusData["status"] = "no_runs_yet"
		statusData["message"] = "No snapshot runs have been executed yet"
		statusData["last_run"] = nil
	} else {
		statusData["last_run"] = lastRun
	}

	s.jsonResponse(w, http.StatusOK, statusData)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	running, err := s.service.GetRunning()
	if err != nil {
		s.errorResponse(w, "Failed to get running status", http.StatusInternalServerError)
		return
	}
	if running {
		s.errorResponse(w, "Snapshot is already running", http.StatusConflict)
		return
	}

	if err := s.service.StartSnapshot(); err != nil {
		if errors.Is(err, service.ErrSnapshotRunning) {
			s.errorResponse(w, "Snapshot is already running", http.StatusConflict)
			return
		}
		s.serviceError(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]interface{}{
		"status":    "accepted",
		"message":   "Snapshot started in background",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	var (
		items []catalog.Item
		err   error
	)
	if term, ok := r.URL.Query()["search"]; ok {
		items, err = s.service.SearchItems(r.Context(), term[0])
	} else {
		items, err = s.service.ListItems(r.Context())
	}
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, items)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var item catalog.Item
	if !s.decode(w, r, &item) {
		return
	}

	created, err := s.service.AddItem(r.Context(), item)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusCreated, created)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}

	item, err := s.service.GetItem(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, item)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	var upd catalog.ItemUpdate
	if !s.decode(w, r, &upd) {
		return
	}

	item, err := s.service.UpdateItem(r.Context(), id, upd)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}

	if err := s.service.DeleteItem(r.Context(), id); err != nil {
		s.serviceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"service": "Catalog Service",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":    "/healthz",
			"readiness": "/readyz",
			"status":    "/status",
			"items":     "/items[?search=term] (GET, POST)",
			"item":      "/items/{id} (GET, PATCH, DELETE)",
			"snapshot":  "/snapshot (POST)",
		},
	})
}

func (s *Server) itemID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, "Item ID must be a number", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.errorResponse(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// serviceError maps service errors onto status codes. Storage details stay in the log.
func (s *Server) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrValidation):
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, catalog.ErrNotFound):
		s.errorResponse(w, err.Error(), http.StatusNotFound)
	default:
		s.logger.Error("Request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		s.errorResponse(w, "Internal storage error", http.StatusInternalServerError)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.jsonResponse(w, statusCode, map[string]interface{}{
		"error": message,
	})
}
