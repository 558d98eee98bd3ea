package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrVersionConflict = errors.New("product version conflict")
	ErrSKUExists       = errors.New("sku already exists")
)

// ProductStore is the catalog collaborator surface: product lookup for the
// normalizer and scheduler, creation for the bulk importer
type ProductStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
	GetByPlatformID(ctx context.Context, platformID string) (*Product, error)
	GetBySKU(ctx context.Context, sku string) (*Product, error)
	GetAllLinked(ctx context.Context) ([]Product, error)
	Create(ctx context.Context, p *Product) error
	UpdateDetails(ctx context.Context, id uuid.UUID, name string, priceCents int64, description string) error
}

// MutationStore applies one inventory mutation atomically: the conditional
// product update, the log entry append and the idempotency marker commit or
// roll back together
type MutationStore interface {
	ApplyMutation(ctx context.Context, m Mutation) (*ApplyResult, error)
}

// ProcessedEventStore is the advisory read side of the idempotency markers
type ProcessedEventStore interface {
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// LedgerStore is the read path over the append-only audit trail
type LedgerStore interface {
	EntriesForProduct(ctx context.Context, productID uuid.UUID, limit int) ([]LogEntry, error)
	ChangeVolume(ctx context.Context, since time.Time) (*VolumeStats, error)
	MostChanged(ctx context.Context, since time.Time, limit int) ([]ProductActivity, error)
	MostRestocked(ctx context.Context, since time.Time, limit int) ([]ProductActivity, error)
	FastestSelling(ctx context.Context, since time.Time, limit int) ([]ProductActivity, error)
	StockSummary(ctx context.Context, lowStockThreshold int) (*StockSummary, error)
}

// DeadLetterStore records events that exhausted their recovery policy
type DeadLetterStore interface {
	Add(ctx context.Context, dl *DeadLetter) error
	List(ctx context.Context, limit int) ([]DeadLetter, error)
}
