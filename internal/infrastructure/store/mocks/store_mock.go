package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/inventory-sync/internal/infrastructure/store"
	"github.com/google/uuid"
)

// MockStore is an in-memory implementation of the store interfaces for
// testing. It honors the same optimistic concurrency and idempotency
// semantics as the PostgreSQL store.
type MockStore struct {
	mu        sync.Mutex
	products  map[uuid.UUID]*store.Product
	entries   []store.LogEntry
	processed map[string]uuid.UUID
	letters   []store.DeadLetter

	// For tracking and fault injection in tests
	ApplyCalls      []store.Mutation
	ApplyErr        error
	ApplyErrCount   int // return ApplyErr for this many calls, then succeed
	ConflictCount   int // return ErrVersionConflict for this many calls
	GetErr          error
	BeforeApplyHook func(m store.Mutation)
}

func NewMockStore() *MockStore {
	return &MockStore{
		products:  make(map[uuid.UUID]*store.Product),
		processed: make(map[string]uuid.UUID),
	}
}

// AddProduct seeds a product
func (m *MockStore) AddProduct(p *store.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	cp := *p
	m.products[p.ID] = &cp
}

func (m *MockStore) GetByID(ctx context.Context, id uuid.UUID) (*store.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	p, ok := m.products[id]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockStore) GetByPlatformID(ctx context.Context, platformID string) (*store.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.PlatformID != nil && *p.PlatformID == platformID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrProductNotFound
}

func (m *MockStore) GetBySKU(ctx context.Context, sku string) (*store.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.SKU == sku {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrProductNotFound
}

func (m *MockStore) GetAllLinked(ctx context.Context) ([]store.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var linked []store.Product
	for _, p := range m.products {
		if p.Linked() {
			linked = append(linked, *p)
		}
	}
	return linked, nil
}

func (m *MockStore) Create(ctx context.Context, p *store.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.products {
		if existing.SKU == p.SKU {
			return store.ErrSKUExists
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *MockStore) UpdateDetails(ctx context.Context, id uuid.UUID, name string, priceCents int64, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return store.ErrProductNotFound
	}
	p.Name = name
	p.PriceCents = priceCents
	p.Description = description
	return nil
}

func (m *MockStore) ApplyMutation(ctx context.Context, mut store.Mutation) (*store.ApplyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ApplyCalls = append(m.ApplyCalls, mut)
	if m.BeforeApplyHook != nil {
		m.BeforeApplyHook(mut)
	}

	if m.ApplyErrCount > 0 {
		m.ApplyErrCount--
		return nil, m.ApplyErr
	}
	if m.ConflictCount > 0 {
		m.ConflictCount--
		return nil, store.ErrVersionConflict
	}

	p, ok := m.products[mut.ProductID]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	if p.Version != mut.ExpectedVersion {
		return nil, store.ErrVersionConflict
	}
	if mut.IdempotencyKey != "" {
		if _, seen := m.processed[mut.IdempotencyKey]; seen {
			return &store.ApplyResult{Duplicate: true}, nil
		}
	}

	p.InventoryQuantity = mut.NewQuantity
	p.Version++
	p.LastInventoryUpdate = time.Now()

	entry := store.LogEntry{
		ID:               uuid.New(),
		ProductID:        mut.ProductID,
		PreviousQuantity: mut.PreviousQuantity,
		NewQuantity:      mut.NewQuantity,
		Change:           mut.NewQuantity - mut.PreviousQuantity,
		ChangeType:       mut.ChangeType,
		Notes:            mut.Notes,
		CreatedAt:        time.Now(),
	}
	if mut.IdempotencyKey != "" {
		key := mut.IdempotencyKey
		entry.IdempotencyKey = &key
		m.processed[key] = entry.ID
	}
	m.entries = append(m.entries, entry)

	return &store.ApplyResult{Entry: &entry}, nil
}

func (m *MockStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[idempotencyKey]
	return ok, nil
}

func (m *MockStore) Add(ctx context.Context, dl *store.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dl.ID == uuid.Nil {
		dl.ID = uuid.New()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now()
	}
	m.letters = append(m.letters, *dl)
	return nil
}

func (m *MockStore) List(ctx context.Context, limit int) ([]store.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.letters) {
		limit = len(m.letters)
	}
	out := make([]store.DeadLetter, limit)
	copy(out, m.letters[len(m.letters)-limit:])
	return out, nil
}

func (m *MockStore) EntriesForProduct(ctx context.Context, productID uuid.UUID, limit int) ([]store.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.LogEntry
	// newest first, like the SQL read path
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].ProductID == productID {
			out = append(out, m.entries[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockStore) ChangeVolume(ctx context.Context, since time.Time) (*store.VolumeStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &store.VolumeStats{}
	for _, e := range m.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		stats.Entries++
		if e.Change > 0 {
			stats.TotalIncrease += e.Change
		} else {
			stats.TotalDecrease += -e.Change
		}
	}
	return stats, nil
}

func (m *MockStore) MostChanged(ctx context.Context, since time.Time, limit int) ([]store.ProductActivity, error) {
	return m.rankActivity(since, limit, func(e store.LogEntry) bool { return true }), nil
}

func (m *MockStore) MostRestocked(ctx context.Context, since time.Time, limit int) ([]store.ProductActivity, error) {
	return m.rankActivity(since, limit, func(e store.LogEntry) bool { return e.Change > 0 }), nil
}

func (m *MockStore) FastestSelling(ctx context.Context, since time.Time, limit int) ([]store.ProductActivity, error) {
	return m.rankActivity(since, limit, func(e store.LogEntry) bool { return e.Change < 0 }), nil
}

func (m *MockStore) rankActivity(since time.Time, limit int, include func(store.LogEntry) bool) []store.ProductActivity {
	m.mu.Lock()
	defer m.mu.Unlock()

	byProduct := make(map[uuid.UUID]*store.ProductActivity)
	for _, e := range m.entries {
		if e.CreatedAt.Before(since) || !include(e) {
			continue
		}
		act, ok := byProduct[e.ProductID]
		if !ok {
			act = &store.ProductActivity{ProductID: e.ProductID}
			if p, found := m.products[e.ProductID]; found {
				act.SKU = p.SKU
				act.Name = p.Name
			}
			byProduct[e.ProductID] = act
		}
		act.Entries++
		act.NetChange += e.Change
	}

	out := make([]store.ProductActivity, 0, len(byProduct))
	for _, act := range byProduct {
		out = append(out, *act)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entries > out[j].Entries })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MockStore) StockSummary(ctx context.Context, lowStockThreshold int) (*store.StockSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := &store.StockSummary{}
	for _, p := range m.products {
		summary.TotalProducts++
		if p.InventoryQuantity == 0 {
			summary.OutOfStock++
		} else if p.InventoryQuantity < lowStockThreshold {
			summary.LowStock++
		}
	}
	return summary, nil
}

// Entries returns a copy of all appended log entries
func (m *MockStore) Entries() []store.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.LogEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// DeadLetters returns a copy of all recorded dead letters
func (m *MockStore) DeadLetters() []store.DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.DeadLetter, len(m.letters))
	copy(out, m.letters)
	return out
}

// Product returns the current state of a seeded product
func (m *MockStore) Product(id uuid.UUID) *store.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}
