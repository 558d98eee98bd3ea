package ingest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HandleProductLog serves a product's audit trail, newest first
func (h *Handlers) HandleProductLog(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/products/"), "/inventory/log")
	productID, err := uuid.Parse(idStr)
	if err != nil {
		respondError(w, "invalid product id", http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	entries, err := h.reads.ProductLog(r.Context(), productID, limit)
	if err != nil {
		h.logger.Error("failed to read product log", zap.Error(err))
		respondError(w, "internal error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"product_id": productID,
		"entries":    entries,
	})
}

// HandleVolume serves ledger volume stats since a given time (default 24h)
func (h *Handlers) HandleVolume(w http.ResponseWriter, r *http.Request) {
	since, ok := parseSince(w, r, 24*time.Hour)
	if !ok {
		return
	}

	stats, err := h.reads.Volume(r.Context(), since)
	if err != nil {
		h.logger.Error("failed to read volume stats", zap.Error(err))
		respondError(w, "internal error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"since": since.UTC().Format(time.RFC3339),
		"stats": stats,
	})
}

// HandleInsights serves the stock summary and activity rankings (default 30d)
func (h *Handlers) HandleInsights(w http.ResponseWriter, r *http.Request) {
	since, ok := parseSince(w, r, 30*24*time.Hour)
	if !ok {
		return
	}

	insights, err := h.reads.Insights(r.Context(), since)
	if err != nil {
		h.logger.Error("failed to assemble insights", zap.Error(err))
		respondError(w, "internal error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, insights)
}

func parseSince(w http.ResponseWriter, r *http.Request, fallback time.Duration) (time.Time, bool) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Now().Add(-fallback), true
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		respondError(w, "since must be RFC3339", http.StatusBadRequest)
		return time.Time{}, false
	}
	return since, true
}
