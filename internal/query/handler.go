package query

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/inventory-sync/internal/infrastructure/store"
)

const (
	// Products below this quantity count as low stock
	DefaultLowStockThreshold = 10

	defaultLogLimit     = 50
	maxLogLimit         = 500
	defaultRankingLimit = 10
)

// Insights is the catalog health report assembled from the ledger
type Insights struct {
	Window         time.Time               `json:"window_start"`
	Stock          *store.StockSummary     `json:"stock"`
	MostChanged    []store.ProductActivity `json:"most_changed"`
	MostRestocked  []store.ProductActivity `json:"most_restocked"`
	FastestSelling []store.ProductActivity `json:"fastest_selling"`
}

// Handler is the read path over the audit ledger. It never writes; every
// number it reports was produced by the apply transaction.
type Handler struct {
	ledger            store.LedgerStore
	logger            *zap.Logger
	lowStockThreshold int
}

func NewHandler(ledger store.LedgerStore, logger *zap.Logger) *Handler {
	return &Handler{
		ledger:            ledger,
		logger:            logger,
		lowStockThreshold: DefaultLowStockThreshold,
	}
}

// ProductLog returns a product's change history, newest first
func (h *Handler) ProductLog(ctx context.Context, productID uuid.UUID, limit int) ([]store.LogEntry, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	return h.ledger.EntriesForProduct(ctx, productID, limit)
}

// Volume aggregates ledger activity since the given time
func (h *Handler) Volume(ctx context.Context, since time.Time) (*store.VolumeStats, error) {
	return h.ledger.ChangeVolume(ctx, since)
}

// Insights assembles the stock summary and activity rankings for a window
func (h *Handler) Insights(ctx context.Context, since time.Time) (*Insights, error) {
	stock, err := h.ledger.StockSummary(ctx, h.lowStockThreshold)
	if err != nil {
		return nil, err
	}
	mostChanged, err := h.ledger.MostChanged(ctx, since, defaultRankingLimit)
	if err != nil {
		return nil, err
	}
	mostRestocked, err := h.ledger.MostRestocked(ctx, since, defaultRankingLimit)
	if err != nil {
		return nil, err
	}
	fastestSelling, err := h.ledger.FastestSelling(ctx, since, defaultRankingLimit)
	if err != nil {
		return nil, err
	}

	return &Insights{
		Window:         since,
		Stock:          stock,
		MostChanged:    mostChanged,
		MostRestocked:  mostRestocked,
		FastestSelling: fastestSelling,
	}, nil
}
