package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tokenledger/quota-proxy/pkg/history"
	"github.com/tokenledger/quota-proxy/pkg/ledger"
	"github.com/tokenledger/quota-proxy/pkg/model"
)

// Reconciler triggers a reconciliation run for a given day.
type Reconciler interface {
	Reconcile(ctx context.Context, date string) (*model.ReconciliationResult, error)
}

// Server provides the management API: usage stats, request history, and
// on-demand reconciliation.
type Server struct {
	ledger     *ledger.Ledger
	history    *history.Log
	reconciler Reconciler
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates the management API server. reconciler may be nil when
// no admin credential is configured; the endpoint then reports that.
func NewServer(l *ledger.Ledger, h *history.Log, r Reconciler, logger *slog.Logger) *Server {
	s := &Server{
		ledger:     l,
		history:    h,
		reconciler: r,
		mux:        http.NewServeMux(),
		logger:     logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	s.mux.HandleFunc("POST /api/v1/reconcile", s.handleReconcile)
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	stats, err := s.ledger.Snapshot(ctx)
	if err != nil {
		s.logger.Error("read usage stats", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	limit := parseIntParam(r, "limit", history.DefaultLimit)
	offset := parseIntParam(r, "offset", 0)

	page, err := s.history.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("list history", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		http.Error(w, "reconciliation not configured: admin API key missing", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Date string `json:"date"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	result, err := s.reconciler.Reconcile(ctx, req.Date)
	if err != nil {
		s.logger.Error("reconciliation failed", "date", req.Date, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
