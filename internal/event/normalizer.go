package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/inventory-sync/internal/infrastructure/store"
)

var (
	ErrMalformedEvent = errors.New("malformed event payload")
	ErrUnknownProduct = errors.New("no local product for target identifier")
)

// webhookPayload is the platform's inventory update notification shape.
// The event id identifies one logical change across redeliveries.
type webhookPayload struct {
	EventID           string `json:"event_id"`
	ID                string `json:"id"`
	SKU               string `json:"sku"`
	InventoryQuantity *int   `json:"inventory_quantity"`
	UpdatedAt         string `json:"updated_at"`
}

// Normalizer converts verified platform payloads into internal events
type Normalizer struct {
	products store.ProductStore
}

func NewNormalizer(products store.ProductStore) *Normalizer {
	return &Normalizer{products: products}
}

// Normalize parses a verified raw payload into an InventoryEvent with source
// webhook. The target is resolved platform id first, SKU second; an
// unresolvable target returns ErrUnknownProduct and the product is never
// created implicitly.
func (n *Normalizer) Normalize(ctx context.Context, rawBody []byte, topic string) (*InventoryEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if payload.EventID == "" {
		return nil, fmt.Errorf("%w: missing event_id", ErrMalformedEvent)
	}
	if payload.ID == "" && payload.SKU == "" {
		return nil, fmt.Errorf("%w: missing target identifier", ErrMalformedEvent)
	}
	if payload.InventoryQuantity == nil {
		return nil, fmt.Errorf("%w: missing inventory_quantity", ErrMalformedEvent)
	}

	product, err := n.resolve(ctx, payload.ID, payload.SKU)
	if err != nil {
		return nil, err
	}

	occurredAt := time.Now()
	if payload.UpdatedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, payload.UpdatedAt); err == nil {
			occurredAt = parsed
		}
	}

	return &InventoryEvent{
		Source:         SourceWebhook,
		ProductID:      product.ID,
		PlatformID:     payload.ID,
		SKU:            payload.SKU,
		NewQuantity:    payload.InventoryQuantity,
		IdempotencyKey: WebhookKey(payload.EventID),
		OccurredAt:     occurredAt,
		Notes:          fmt.Sprintf("platform notification %s (%s)", payload.EventID, topic),
	}, nil
}

func (n *Normalizer) resolve(ctx context.Context, platformID, sku string) (*store.Product, error) {
	if platformID != "" {
		product, err := n.products.GetByPlatformID(ctx, platformID)
		if err == nil {
			return product, nil
		}
		if !errors.Is(err, store.ErrProductNotFound) {
			return nil, err
		}
	}
	if sku != "" {
		product, err := n.products.GetBySKU(ctx, sku)
		if err == nil {
			return product, nil
		}
		if !errors.Is(err, store.ErrProductNotFound) {
			return nil, err
		}
	}
	return nil, ErrUnknownProduct
}
