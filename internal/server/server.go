// Package server is the HTTP + WebSocket API surface.
package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wrenlabs/websentry/internal/app"
	"github.com/wrenlabs/websentry/internal/history"
	"github.com/wrenlabs/websentry/internal/logging"
	"github.com/wrenlabs/websentry/internal/scanerr"
)

// Config carries the server's own knobs; scan behavior lives in the
// orchestrator's config.
type Config struct {
	ListenAddr string
	Logger     logging.Logger
}

// Server routes API requests to the orchestrator and the history store.
type Server struct {
	cfg      Config
	orch     *app.Orchestrator
	store    history.Store
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func NewServer(cfg Config, orch *app.Orchestrator, store history.Store) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	s := &Server{
		cfg:    cfg,
		orch:   orch,
		store:  store,
		router: chi.NewRouter(),
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: tighten for production
				return true
			},
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	r.Options("/scan", s.optionsHandler("POST"))
	r.Options("/scan/status/{taskID}", s.optionsHandler("GET"))
	r.Options("/scan/{taskID}", s.optionsHandler("DELETE"))
	r.Options("/history", s.optionsHandler("GET"))

	r.Post("/scan", s.handleScan)
	r.Get("/scan/status/{taskID}", s.handleScanStatus)
	r.Delete("/scan/{taskID}", s.handleCancelScan)
	r.Get("/history", s.handleHistory)
	r.Get("/healthz", s.handleHealthz)

	// WebSocket: submit a scan and stream task events
	r.Get("/ws/scan", s.handleScanWS)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler with request logging.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}

	if r.Body != nil && r.Method == http.MethodPost {
		if bodyBytes, err := io.ReadAll(r.Body); err == nil {
			fields = append(fields, logging.Field{Key: "body", Value: string(bodyBytes)})
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // allow streaming
	}
}

// Close shuts down the orchestrator.
func (s *Server) Close() {
	if s.orch != nil {
		s.orch.Close()
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusForScanError maps an error kind to the HTTP status a failed
// submission returns.
func statusForScanError(err error) int {
	switch scanerr.KindOf(err) {
	case scanerr.KindInvalidInput, scanerr.KindSSRFRejected, scanerr.KindDNSFailure:
		return http.StatusBadRequest
	case scanerr.KindTimeout:
		return http.StatusGatewayTimeout
	case scanerr.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// --- HTTP handlers ---

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var body scanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	out, err := s.orch.Submit(r.Context(), body.URL, body.CallerID)
	if err != nil {
		s.logger.Warn("scan rejected",
			logging.Field{Key: "url", Value: body.URL},
			logging.Field{Key: "error", Value: err.Error()})
		writeError(w, statusForScanError(err), scanerr.UserMessage(err))
		return
	}

	switch {
	case out.Cached != nil:
		writeJSON(w, http.StatusOK, scanResponse{Cached: true, Result: out.Cached})
	case out.Result != nil:
		writeJSON(w, http.StatusOK, scanResponse{Result: out.Result})
	default:
		s.logger.Info("scan queued",
			logging.Field{Key: "task_id", Value: out.Task.ID},
			logging.Field{Key: "domain", Value: out.Task.Domain})
		writeJSON(w, http.StatusAccepted, taskAccepted{
			TaskID: out.Task.ID,
			Status: out.Task.Status,
		})
	}
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task := s.orch.GetTask(taskID)
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if !s.orch.CancelTask(taskID) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.logger.Info("canceled scan", logging.Field{Key: "task_id", Value: taskID})
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history not available")
		return
	}

	callerID := r.URL.Query().Get("caller_id")
	limit := 0
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if v, err := strconv.Atoi(ls); err == nil && v > 0 {
			limit = v
		}
	}

	records, err := s.store.ListByCaller(r.Context(), callerID, limit)
	if err != nil {
		s.logger.Warn("listing history", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Scans: records, Count: len(records)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- WebSocket ---

// handleScanWS upgrades, reads one scan request, and streams task events
// until the task finishes or the client goes away.
func (s *Server) handleScanWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	var body scanRequest
	if err := conn.ReadJSON(&body); err != nil {
		_ = conn.WriteJSON(map[string]string{"error": "invalid JSON"})
		return
	}

	out, err := s.orch.Submit(r.Context(), body.URL, body.CallerID)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": scanerr.UserMessage(err)})
		return
	}

	// Cached and sync results have no event stream; send and finish.
	if out.Cached != nil {
		_ = conn.WriteJSON(scanResponse{Cached: true, Result: out.Cached})
		return
	}
	if out.Result != nil {
		_ = conn.WriteJSON(scanResponse{Result: out.Result})
		return
	}

	task := out.Task
	s.logger.Info("scan queued over websocket", logging.Field{Key: "task_id", Value: task.ID})
	_ = conn.WriteJSON(task)

	// Events is nil once the task has finished; fall through to the
	// terminal snapshot in that case.
	if events := s.orch.Events(task.ID); events != nil {
		for ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				// Assume client disconnected; cancel the scan.
				s.orch.CancelTask(task.ID)
				return
			}
		}
	}

	// Terminal snapshot so the client gets the result without a second call.
	if final := s.orch.GetTask(task.ID); final != nil {
		_ = conn.WriteJSON(final)
	}
}
