package store

import (
	"time"

	"github.com/google/uuid"
)

// Product is the locally owned catalog row. Its quantity is mutated only
// through ApplyMutation; version increases on every successful mutation.
type Product struct {
	ID                  uuid.UUID `json:"id"`
	PlatformID          *string   `json:"platform_id,omitempty"`
	Name                string    `json:"name"`
	SKU                 string    `json:"sku"`
	PriceCents          int64     `json:"price_cents"`
	InventoryQuantity   int       `json:"inventory_quantity"`
	Description         string    `json:"description"`
	Version             int       `json:"version"`
	LastInventoryUpdate time.Time `json:"last_inventory_update"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Linked reports whether the product is mapped to a platform inventory item
func (p *Product) Linked() bool {
	return p.PlatformID != nil && *p.PlatformID != ""
}

// LogEntry is one immutable audit record of a quantity change
type LogEntry struct {
	ID               uuid.UUID `json:"id"`
	ProductID        uuid.UUID `json:"product_id"`
	PreviousQuantity int       `json:"previous_quantity"`
	NewQuantity      int       `json:"new_quantity"`
	Change           int       `json:"change"`
	ChangeType       string    `json:"change_type"`
	IdempotencyKey   *string   `json:"idempotency_key,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// DeadLetter is a terminal record for an event that could not be applied
type DeadLetter struct {
	ID             uuid.UUID `json:"id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Source         string    `json:"source"`
	Reason         string    `json:"reason"`
	Payload        []byte    `json:"payload"`
	CreatedAt      time.Time `json:"created_at"`
}

// Mutation describes one quantity change to apply atomically
type Mutation struct {
	ProductID        uuid.UUID
	ExpectedVersion  int
	PreviousQuantity int
	NewQuantity      int
	ChangeType       string
	IdempotencyKey   string // empty for legacy manual edits
	Notes            string
}

// ApplyResult reports the outcome of ApplyMutation
type ApplyResult struct {
	Entry     *LogEntry
	Duplicate bool // idempotency key already recorded, nothing applied
}

// VolumeStats aggregates ledger activity over a time window
type VolumeStats struct {
	Entries       int `json:"entries"`
	TotalIncrease int `json:"total_increase"`
	TotalDecrease int `json:"total_decrease"` // absolute value
}

// ProductActivity ranks a product by ledger movement over a window
type ProductActivity struct {
	ProductID uuid.UUID `json:"product_id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Entries   int       `json:"entries"`
	NetChange int       `json:"net_change"`
}

// StockSummary is the current shape of the catalog's stock levels
type StockSummary struct {
	TotalProducts int `json:"total_products"`
	LowStock      int `json:"low_stock"`
	OutOfStock    int `json:"out_of_stock"`
}
