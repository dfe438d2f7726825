package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/qrshield/qrshield-go/internal/db"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HistoryStore reads the recorded scan history.
type HistoryStore interface {
	RecentScans(ctx context.Context, limit int) ([]db.Scan, error)
	GetScan(ctx context.Context, id string) (*db.Scan, error)
	GetStats(ctx context.Context) (*db.Stats, error)
}

// HistoryHandler serves the scan history API. A nil store disables it.
type HistoryHandler struct {
	store  HistoryStore
	logger *slog.Logger
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(store HistoryStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{store: store, logger: logger}
}

func (hh *HistoryHandler) enabled(w http.ResponseWriter) bool {
	if hh.store == nil {
		jsonError(w, "history disabled", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// ListScans handles GET /api/scans?limit=N
func (hh *HistoryHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	if !hh.enabled(w) {
		return
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	scans, err := hh.store.RecentScans(r.Context(), limit)
	if err != nil {
		hh.logger.Error("list scans failed", "err", err)
		jsonError(w, "failed to fetch scans", http.StatusInternalServerError)
		return
	}
	if scans == nil {
		scans = []db.Scan{}
	}
	writeJSON(w, http.StatusOK, scans)
}

// GetScan handles GET /api/scans/{id}
func (hh *HistoryHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	if !hh.enabled(w) {
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		jsonError(w, "invalid scan ID", http.StatusBadRequest)
		return
	}

	scan, err := hh.store.GetScan(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		jsonError(w, "scan not found", http.StatusNotFound)
		return
	}
	if err != nil {
		hh.logger.Error("get scan failed", "id", id, "err", err)
		jsonError(w, "failed to fetch scan", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

// GetStats handles GET /api/stats
func (hh *HistoryHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if !hh.enabled(w) {
		return
	}
	stats, err := hh.store.GetStats(r.Context())
	if err != nil {
		hh.logger.Error("get stats failed", "err", err)
		jsonError(w, "failed to fetch stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
