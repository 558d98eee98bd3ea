package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/inventory-sync/internal/auth"
	"github.com/example/inventory-sync/internal/event"
	"github.com/example/inventory-sync/internal/importer"
	"github.com/example/inventory-sync/internal/infrastructure/store"
	"github.com/example/inventory-sync/internal/query"
	"github.com/example/inventory-sync/internal/shopify"
)

const maxBodyBytes = 1 << 20 // 1MB

// Publisher enqueues inventory events for the worker
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

// DuplicateFilter is the advisory fast path in front of the queue
type DuplicateFilter interface {
	Seen(ctx context.Context, idempotencyKey string) (bool, error)
	MarkSeen(ctx context.Context, idempotencyKey string) error
}

// Handlers is the ingestion front door: it verifies, normalizes and enqueues
// but never mutates inventory itself.
type Handlers struct {
	verifier    *shopify.Verifier
	normalizer  *event.Normalizer
	products    store.ProductStore
	processed   store.ProcessedEventStore
	deadLetters store.DeadLetterStore
	filter      DuplicateFilter // optional
	producer    Publisher
	importer    *importer.Importer
	reads       *query.Handler
	jwtService  *auth.JWTService
	operators   *auth.Registry
	logger      *zap.Logger
}

func NewHandlers(
	verifier *shopify.Verifier,
	normalizer *event.Normalizer,
	products store.ProductStore,
	processed store.ProcessedEventStore,
	deadLetters store.DeadLetterStore,
	producer Publisher,
	imp *importer.Importer,
	reads *query.Handler,
	jwtService *auth.JWTService,
	operators *auth.Registry,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		verifier:    verifier,
		normalizer:  normalizer,
		products:    products,
		processed:   processed,
		deadLetters: deadLetters,
		producer:    producer,
		importer:    imp,
		reads:       reads,
		jwtService:  jwtService,
		operators:   operators,
		logger:      logger,
	}
}

// WithDuplicateFilter enables the Redis advisory duplicate check
func (h *Handlers) WithDuplicateFilter(filter DuplicateFilter) *Handlers {
	h.filter = filter
	return h
}

// HandleWebhook receives platform inventory notifications. Responses are
// chosen for the platform's retry behavior: only signature failures get 401,
// problems retries cannot fix (unknown product) are acknowledged with 200
// after being dead-lettered.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get(shopify.HeaderHMAC)); err != nil {
		h.logger.Warn("webhook signature rejected",
			zap.String("shop_domain", r.Header.Get(shopify.HeaderShopDomain)),
			zap.Error(err))
		respondError(w, "signature verification failed", http.StatusUnauthorized)
		return
	}

	topic := r.Header.Get(shopify.HeaderTopic)
	ev, err := h.normalizer.Normalize(r.Context(), body, topic)
	if err != nil {
		switch {
		case errors.Is(err, event.ErrMalformedEvent):
			respondError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, event.ErrUnknownProduct):
			// The payload is authentic but unlinked; retrying will not help
			h.recordUnlinked(r.Context(), body, err)
			respondJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
		default:
			h.logger.Error("failed to normalize webhook", zap.Error(err))
			respondError(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	if duplicate, err := h.isDuplicate(r.Context(), ev.IdempotencyKey); err != nil {
		h.logger.Warn("duplicate precheck failed, enqueueing anyway", zap.Error(err))
	} else if duplicate {
		respondJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	if err := h.producer.Publish(r.Context(), ev.ProductID.String(), ev); err != nil {
		h.logger.Error("failed to enqueue webhook event", zap.Error(err))
		respondError(w, "failed to enqueue", http.StatusServiceUnavailable)
		return
	}
	h.markSeen(r.Context(), ev.IdempotencyKey)

	respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// isDuplicate runs the advisory checks: the Redis cache first, then the
// durable marker table. Either hit short-circuits; a miss on both just means
// the event goes to the queue, where the apply transaction has the final
// word. The check never writes: the key is marked only after a successful
// enqueue, so a failed enqueue leaves redeliveries free to try again.
func (h *Handlers) isDuplicate(ctx context.Context, key string) (bool, error) {
	if h.filter != nil {
		seen, err := h.filter.Seen(ctx, key)
		if err != nil {
			return false, err
		}
		if seen {
			return true, nil
		}
	}
	return h.processed.Exists(ctx, key)
}

// markSeen records the key in the advisory cache once the event is on the
// queue. Best effort: a miss here costs one redundant enqueue at most.
func (h *Handlers) markSeen(ctx context.Context, key string) {
	if h.filter == nil {
		return
	}
	if err := h.filter.MarkSeen(ctx, key); err != nil {
		h.logger.Warn("failed to mark idempotency key", zap.Error(err))
	}
}

func (h *Handlers) recordUnlinked(ctx context.Context, body []byte, cause error) {
	err := h.deadLetters.Add(ctx, &store.DeadLetter{
		Source:  string(event.SourceWebhook),
		Reason:  cause.Error(),
		Payload: body,
	})
	if err != nil {
		h.logger.Error("failed to dead-letter unlinked webhook", zap.Error(err))
	}
}

// HandleManualAdjust enqueues a relative quantity adjustment from an operator
func (h *Handlers) HandleManualAdjust(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/products/"), "/inventory")
	productID, err := uuid.Parse(idStr)
	if err != nil {
		respondError(w, "invalid product id", http.StatusBadRequest)
		return
	}

	var req struct {
		Delta *int   `json:"delta"`
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Delta == nil || *req.Delta == 0 {
		respondError(w, "delta is required and must be non-zero", http.StatusBadRequest)
		return
	}

	if _, err := h.products.GetByID(r.Context(), productID); err != nil {
		if errors.Is(err, store.ErrProductNotFound) {
			respondError(w, "product not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load product", zap.Error(err))
		respondError(w, "internal error", http.StatusInternalServerError)
		return
	}

	notes := req.Notes
	if claims, ok := operatorFromContext(r.Context()); ok {
		if notes != "" {
			notes = fmt.Sprintf("%s (by %s)", notes, claims.Operator)
		} else {
			notes = fmt.Sprintf("manual adjustment by %s", claims.Operator)
		}
	}

	ev := &event.InventoryEvent{
		Source:         event.SourceManual,
		ProductID:      productID,
		Delta:          req.Delta,
		IdempotencyKey: event.ManualKey(r.Header.Get("Idempotency-Key")),
		OccurredAt:     time.Now(),
		Notes:          notes,
	}

	if err := h.producer.Publish(r.Context(), productID.String(), ev); err != nil {
		h.logger.Error("failed to enqueue manual adjustment", zap.Error(err))
		respondError(w, "failed to enqueue", http.StatusServiceUnavailable)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"status":          "accepted",
		"idempotency_key": ev.IdempotencyKey,
	})
}

// HandleImport runs a CSV bulk import and reports the per-row outcome
func (h *Handlers) HandleImport(w http.ResponseWriter, r *http.Request) {
	result, err := h.importer.Run(r.Context(), http.MaxBytesReader(w, r.Body, 8*maxBodyBytes))
	if err != nil {
		if errors.Is(err, importer.ErrEmptyFile) {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if result != nil {
			// Partial failure: some rows may already be enqueued
			h.logger.Error("import aborted mid-run", zap.Error(err))
			respondJSON(w, http.StatusInternalServerError, result)
			return
		}
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// HandleLogin exchanges operator credentials for an access token
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	op, err := h.operators.Authenticate(req.Username, req.Password)
	if err != nil {
		respondError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, expiresAt, err := h.jwtService.IssueToken(op.Username, op.Role)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		respondError(w, "internal error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expiresAt.UTC().Format(time.RFC3339),
	})
}
