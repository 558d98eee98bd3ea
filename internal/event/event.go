package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source identifies the origin of an inventory change
type Source string

const (
	SourceWebhook        Source = "webhook"
	SourceManual         Source = "manual"
	SourceImport         Source = "import"
	SourceReconciliation Source = "reconciliation"
)

// Valid reports whether the source is one of the known origins
func (s Source) Valid() bool {
	switch s {
	case SourceWebhook, SourceManual, SourceImport, SourceReconciliation:
		return true
	}
	return false
}

// InventoryEvent is one logical inventory change waiting to be applied.
// Webhook, import and reconciliation events carry an absolute NewQuantity;
// manual adjustments carry a Delta relative to the current quantity.
type InventoryEvent struct {
	Source         Source    `json:"source"`
	ProductID      uuid.UUID `json:"product_id"`
	PlatformID     string    `json:"platform_id,omitempty"`
	SKU            string    `json:"sku,omitempty"`
	NewQuantity    *int      `json:"new_quantity,omitempty"`
	Delta          *int      `json:"delta,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	OccurredAt     time.Time `json:"occurred_at"`
	Notes          string    `json:"notes,omitempty"`
}

// WebhookKey builds the idempotency key for a platform notification.
// The platform's event id uniquely identifies one delivery attempt group.
func WebhookKey(eventID string) string {
	return fmt.Sprintf("webhook:%s", eventID)
}

// ManualKey builds the idempotency key for a manual adjustment. A client
// supplied token makes retries of the same request deduplicate at the apply
// transaction; without one every request is a distinct adjustment.
func ManualKey(token string) string {
	if token == "" {
		token = uuid.New().String()
	}
	return fmt.Sprintf("manual:%s", token)
}

// ImportKey builds the idempotency key for one row of a bulk import.
// The same file re-submitted produces the same keys and applies nothing.
func ImportKey(checksum, sku string) string {
	return fmt.Sprintf("import:%s:%s", checksum, sku)
}

// ReconciliationKey builds the deterministic idempotency key for a drift
// correction, keyed by product and UTC cycle date. A retried or overlapping
// cycle on the same day produces the same key and cannot double-apply.
func ReconciliationKey(productID uuid.UUID, cycleDate time.Time) string {
	return fmt.Sprintf("reconcile:%s:%s", productID, cycleDate.UTC().Format("2006-01-02"))
}
