package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/opentranslator/client/internal/logger"
	"github.com/opentranslator/client/internal/metrics"
	"github.com/opentranslator/client/internal/poller"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The bridge binds to localhost only; the origin check would
		// reject editor plugins connecting from file:// contexts.
		return true
	},
}

// JobSource exposes the current job state to HTTP handlers
type JobSource interface {
	Snapshot() (poller.Job, bool)
	Cancel()
	RetryNow()
}

// Server serves the local progress bridge
type Server struct {
	hub    *Hub
	jobs   JobSource
	log    *logger.Logger
	server *http.Server
}

// NewServer creates a bridge server listening on addr
func NewServer(addr string, hub *Hub, jobs JobSource) *Server {
	s := &Server{
		hub:  hub,
		jobs: jobs,
		log:  logger.Default().WithComponent("bridge"),
	}

	r := chi.NewRouter()
	r.Use(logger.RequestMiddleware)
	r.Use(logger.RecoveryMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", metrics.Default().Handler())
	r.Get("/job", s.handleJob)
	r.Post("/job/cancel", s.handleCancel)
	r.Post("/job/retry", s.handleRetry)
	r.Get("/ws", s.handleWS)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
	}
	return s
}

// ListenAndServe blocks serving the bridge until Shutdown
func (s *Server) ListenAndServe() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.hub.ClientCount(),
	})
}

// handleJob returns the current job snapshot, or 404 when nothing is active
// and nothing has run yet.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Snapshot()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"code":    "NO_JOB",
			"message": "no translation job has been started",
		})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.jobs.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.jobs.RetryNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
}

// handleWS upgrades the connection and registers it with the hub
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "websocket upgrade failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	client := newClient(s.hub, conn)
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
