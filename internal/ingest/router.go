package ingest

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// NewRouter wires the front door endpoints. The webhook route is open
// (signature-authenticated); everything else requires an operator token.
func NewRouter(h *Handlers, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	protect := requireOperator(h.jwtService)

	mux.HandleFunc("/webhooks/shopify/inventory", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.HandleWebhook(w, r)
	})

	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.HandleLogin(w, r)
	})

	mux.Handle("/imports", protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.HandleImport(w, r)
	})))

	mux.Handle("/products/", protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/inventory") && r.Method == http.MethodPost:
			h.HandleManualAdjust(w, r)
		case strings.HasSuffix(path, "/inventory/log") && r.Method == http.MethodGet:
			h.HandleProductLog(w, r)
		default:
			respondError(w, "not found", http.StatusNotFound)
		}
	})))

	mux.Handle("/insights/", protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			respondError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		switch r.URL.Path {
		case "/insights/inventory":
			h.HandleInsights(w, r)
		case "/insights/volume":
			h.HandleVolume(w, r)
		default:
			respondError(w, "not found", http.StatusNotFound)
		}
	})))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return withLogging(logger, mux)
}
