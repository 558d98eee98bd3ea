package importer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/inventory-sync/internal/event"
	"github.com/example/inventory-sync/internal/infrastructure/store"
	"github.com/example/inventory-sync/internal/infrastructure/store/mocks"
)

type capturingPublisher struct {
	events []event.InventoryEvent
	keys   []string
	err    error
}

func (p *capturingPublisher) Publish(_ context.Context, key string, payload any) error {
	if p.err != nil {
		return p.err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var ev event.InventoryEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	p.keys = append(p.keys, key)
	p.events = append(p.events, ev)
	return nil
}

const sampleCSV = `sku,name,price,inventory_quantity,description
SKU001,Widget,19.99,40,Basic widget
SKU002,Gadget,5.50,0,
`

func TestParse_ValidFile(t *testing.T) {
	rows, rejected, err := Parse(strings.NewReader(sampleCSV))

	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, rows, 2)

	assert.Equal(t, "SKU001", rows[0].SKU)
	assert.Equal(t, "Widget", rows[0].Name)
	assert.Equal(t, int64(1999), rows[0].PriceCents)
	assert.Equal(t, 40, rows[0].Quantity)
	assert.Equal(t, "Basic widget", rows[0].Description)

	assert.Equal(t, int64(550), rows[1].PriceCents)
	assert.Equal(t, 0, rows[1].Quantity)
}

func TestParse_BadRowsAreCollected(t *testing.T) {
	csv := `sku,name,price,inventory_quantity,description
SKU001,Widget,19.99,40,ok
,NoSKU,1.00,5,missing sku
SKU002,Gadget,not-a-price,5,bad price
SKU003,Gizmo,2.00,-3,negative quantity
SKU001,Widget Again,3.00,7,duplicate sku
`
	rows, rejected, err := Parse(strings.NewReader(csv))

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "SKU001", rows[0].SKU)

	require.Len(t, rejected, 4)
	assert.Equal(t, 3, rejected[0].Line)
	assert.Contains(t, rejected[0].Reason, "empty sku")
	assert.Contains(t, rejected[1].Reason, "invalid price")
	assert.Contains(t, rejected[2].Reason, "invalid inventory_quantity")
	assert.Contains(t, rejected[3].Reason, "duplicate sku")
}

func TestParse_WrongHeader(t *testing.T) {
	_, _, err := Parse(strings.NewReader("sku,name,cost\nSKU001,Widget,1.00\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "columns")
}

func TestParse_EmptyFile(t *testing.T) {
	_, _, err := Parse(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, _, err = Parse(strings.NewReader("sku,name,price,inventory_quantity,description\n"))
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestRun_CreatesUnknownAndUpdatesKnown(t *testing.T) {
	ms := mocks.NewMockStore()
	existing := &store.Product{
		ID:                uuid.New(),
		Name:              "Old Widget Name",
		SKU:               "SKU001",
		InventoryQuantity: 10,
		Version:           1,
	}
	ms.AddProduct(existing)

	pub := &capturingPublisher{}
	imp := New(ms, pub, zap.NewNop())

	result, err := imp.Run(context.Background(), strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 2, result.Enqueued)
	assert.Empty(t, result.Rejected)
	assert.NotEmpty(t, result.Checksum)

	// Known SKU keeps its id but gets fresh catalog details
	updated := ms.Product(existing.ID)
	assert.Equal(t, "Widget", updated.Name)
	assert.Equal(t, int64(1999), updated.PriceCents)
	// Quantity goes through the queue, not the catalog upsert
	assert.Equal(t, 10, updated.InventoryQuantity)

	// Unknown SKU was created
	createdProduct, err := ms.GetBySKU(context.Background(), "SKU002")
	require.NoError(t, err)
	assert.Equal(t, "Gadget", createdProduct.Name)

	require.Len(t, pub.events, 2)
	for _, ev := range pub.events {
		assert.Equal(t, event.SourceImport, ev.Source)
		require.NotNil(t, ev.NewQuantity)
		assert.Equal(t, event.ImportKey(result.Checksum, ev.SKU), ev.IdempotencyKey)
	}
	// Messages are keyed by product id for partition ordering
	assert.Equal(t, pub.events[0].ProductID.String(), pub.keys[0])
}

func TestRun_SameFileSameKeys(t *testing.T) {
	ms := mocks.NewMockStore()
	pub := &capturingPublisher{}
	imp := New(ms, pub, zap.NewNop())

	first, err := imp.Run(context.Background(), strings.NewReader(sampleCSV))
	require.NoError(t, err)
	second, err := imp.Run(context.Background(), strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, first.Checksum, second.Checksum)
	// Second run updates instead of creating, and enqueues the same keys
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.Updated)
	require.Len(t, pub.events, 4)
	assert.Equal(t, pub.events[0].IdempotencyKey, pub.events[2].IdempotencyKey)
}

func TestRun_PublishFailureStopsRun(t *testing.T) {
	ms := mocks.NewMockStore()
	pub := &capturingPublisher{err: errors.New("broker unavailable")}
	imp := New(ms, pub, zap.NewNop())

	result, err := imp.Run(context.Background(), strings.NewReader(sampleCSV))
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.Enqueued)
}
