package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/inventory-sync/internal/auth"
	"github.com/example/inventory-sync/internal/event"
	"github.com/example/inventory-sync/internal/importer"
	"github.com/example/inventory-sync/internal/infrastructure/store"
	"github.com/example/inventory-sync/internal/infrastructure/store/mocks"
	"github.com/example/inventory-sync/internal/query"
	"github.com/example/inventory-sync/internal/shopify"
)

const (
	testSecret   = "webhook-shared-secret"
	testPassword = "operator-password"
)

type capturingPublisher struct {
	events []event.InventoryEvent
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
	p.events = append(p.events, ev)
	return nil
}

type fixture struct {
	ms       *mocks.MockStore
	pub      *capturingPublisher
	verifier *shopify.Verifier
	server   *httptest.Server
	jwt      *auth.JWTService
	handlers *Handlers
}

type fakeFilter struct {
	seen map[string]bool
}

func newFakeFilter() *fakeFilter {
	return &fakeFilter{seen: make(map[string]bool)}
}

func (f *fakeFilter) Seen(_ context.Context, key string) (bool, error) {
	return f.seen[key], nil
}

func (f *fakeFilter) MarkSeen(_ context.Context, key string) error {
	f.seen[key] = true
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ms := mocks.NewMockStore()
	pub := &capturingPublisher{}
	logger := zap.NewNop()
	verifier := shopify.NewVerifier(testSecret)

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	registry := auth.NewRegistry([]auth.Operator{
		{Username: "ops-bot", PasswordHash: hash, Role: "operator"},
	})
	jwtService := auth.NewJWTService("test-secret-key-at-least-32-chars-long", 15*time.Minute)

	handlers := NewHandlers(
		verifier,
		event.NewNormalizer(ms),
		ms, ms, ms,
		pub,
		importer.New(ms, pub, logger),
		query.NewHandler(ms, logger),
		jwtService,
		registry,
		logger,
	)

	server := httptest.NewServer(NewRouter(handlers, logger))
	t.Cleanup(server.Close)

	return &fixture{ms: ms, pub: pub, verifier: verifier, server: server, jwt: jwtService, handlers: handlers}
}

func (f *fixture) seedProduct(quantity int) *store.Product {
	platformID := "998877"
	p := &store.Product{
		ID:                uuid.New(),
		Name:              "Widget",
		SKU:               "SKU001",
		PlatformID:        &platformID,
		InventoryQuantity: quantity,
		Version:           1,
	}
	f.ms.AddProduct(p)
	return p
}

func (f *fixture) postWebhook(t *testing.T, body []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/webhooks/shopify/inventory", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(shopify.HeaderHMAC, signature)
	req.Header.Set(shopify.HeaderShopDomain, "test-store.myshopify.com")
	req.Header.Set(shopify.HeaderTopic, "inventory_levels/update")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (f *fixture) token(t *testing.T) string {
	t.Helper()
	token, _, err := f.jwt.IssueToken("ops-bot", "operator")
	require.NoError(t, err)
	return token
}

func (f *fixture) authedRequest(t *testing.T, method, path string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token(t))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func webhookBody(eventID, platformID string, quantity int) []byte {
	return []byte(fmt.Sprintf(`{"event_id":%q,"id":%q,"sku":"SKU001","inventory_quantity":%d}`, eventID, platformID, quantity))
}

func TestWebhook_Accepted(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(50)

	body := webhookBody("evt-1", "998877", 45)
	resp := f.postWebhook(t, body, f.verifier.Sign(body))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "accepted", decodeBody(t, resp)["status"])

	require.Len(t, f.pub.events, 1)
	ev := f.pub.events[0]
	assert.Equal(t, event.SourceWebhook, ev.Source)
	assert.Equal(t, p.ID, ev.ProductID)
	require.NotNil(t, ev.NewQuantity)
	assert.Equal(t, 45, *ev.NewQuantity)
	assert.Equal(t, event.WebhookKey("evt-1"), ev.IdempotencyKey)
}

func TestWebhook_BadSignature(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(50)

	body := webhookBody("evt-1", "998877", 45)
	signature := f.verifier.Sign(body)

	// Body altered after signing
	altered := webhookBody("evt-1", "998877", 999)
	resp := f.postWebhook(t, altered, signature)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, f.pub.events)
}

func TestWebhook_MissingSignature(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(50)

	resp := f.postWebhook(t, webhookBody("evt-1", "998877", 45), "")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhook_MalformedAfterVerification(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(50)

	// Authentic but missing inventory_quantity
	body := []byte(`{"event_id":"evt-1","id":"998877"}`)
	resp := f.postWebhook(t, body, f.verifier.Sign(body))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.pub.events)
}

func TestWebhook_UnknownProductAcknowledgedAndDeadLettered(t *testing.T) {
	f := newFixture(t)

	body := webhookBody("evt-1", "404404", 45)
	resp := f.postWebhook(t, body, f.verifier.Sign(body))

	// 200, not an error status: platform retries cannot fix a linking problem
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "unlinked", decodeBody(t, resp)["status"])
	assert.Empty(t, f.pub.events)

	letters := f.ms.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, "webhook", letters[0].Source)
}

func TestWebhook_DuplicateShortCircuit(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(50)

	// Simulate the worker having already applied this event
	_, err := f.ms.ApplyMutation(context.Background(), store.Mutation{
		ProductID:        p.ID,
		ExpectedVersion:  1,
		PreviousQuantity: 50,
		NewQuantity:      45,
		ChangeType:       "webhook",
		IdempotencyKey:   event.WebhookKey("evt-1"),
	})
	require.NoError(t, err)

	body := webhookBody("evt-1", "998877", 45)
	resp := f.postWebhook(t, body, f.verifier.Sign(body))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", decodeBody(t, resp)["status"])
	assert.Empty(t, f.pub.events)
}

func TestWebhook_EnqueueFailure(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(50)
	f.pub.err = errors.New("broker unavailable")

	body := webhookBody("evt-1", "998877", 45)
	resp := f.postWebhook(t, body, f.verifier.Sign(body))

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebhook_FilterMarksOnlyAfterEnqueue(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(50)
	filter := newFakeFilter()
	f.handlers.WithDuplicateFilter(filter)
	f.pub.err = errors.New("broker unavailable")

	body := webhookBody("evt-1", "998877", 45)
	resp := f.postWebhook(t, body, f.verifier.Sign(body))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// A failed enqueue must leave no trace in the cache, or the platform's
	// redelivery would be answered as a duplicate and the event lost
	assert.Empty(t, filter.seen)

	f.pub.err = nil
	resp = f.postWebhook(t, body, f.verifier.Sign(body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "accepted", decodeBody(t, resp)["status"])

	require.Len(t, f.pub.events, 1)
	assert.True(t, filter.seen[event.WebhookKey("evt-1")])
}

func TestWebhook_FilterShortCircuitsRedelivery(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(50)
	f.handlers.WithDuplicateFilter(newFakeFilter())

	body := webhookBody("evt-1", "998877", 45)
	resp := f.postWebhook(t, body, f.verifier.Sign(body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "accepted", decodeBody(t, resp)["status"])

	resp = f.postWebhook(t, body, f.verifier.Sign(body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", decodeBody(t, resp)["status"])

	assert.Len(t, f.pub.events, 1)
}

func TestManualAdjust_Accepted(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(50)

	body := []byte(`{"delta": -5, "notes": "damaged in transit"}`)
	resp := f.authedRequest(t, http.MethodPost, "/products/"+p.ID.String()+"/inventory", body)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	out := decodeBody(t, resp)
	assert.Equal(t, "accepted", out["status"])
	assert.True(t, strings.HasPrefix(out["idempotency_key"].(string), "manual:"))

	require.Len(t, f.pub.events, 1)
	ev := f.pub.events[0]
	assert.Equal(t, event.SourceManual, ev.Source)
	require.NotNil(t, ev.Delta)
	assert.Equal(t, -5, *ev.Delta)
	assert.Contains(t, ev.Notes, "damaged in transit")
	assert.Contains(t, ev.Notes, "ops-bot")
}

func TestManualAdjust_ClientKeyMakesRetriesStable(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(50)
	body := []byte(`{"delta": -5}`)

	send := func() map[string]any {
		req, err := http.NewRequest(http.MethodPost, f.server.URL+"/products/"+p.ID.String()+"/inventory", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+f.token(t))
		req.Header.Set("Idempotency-Key", "req-7f3a")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		return decodeBody(t, resp)
	}

	first := send()
	retry := send()

	// A retried request carries the same key, so the apply transaction
	// discards the second copy instead of adjusting twice
	assert.Equal(t, event.ManualKey("req-7f3a"), first["idempotency_key"])
	assert.Equal(t, first["idempotency_key"], retry["idempotency_key"])

	require.Len(t, f.pub.events, 2)
	assert.Equal(t, f.pub.events[0].IdempotencyKey, f.pub.events[1].IdempotencyKey)
}

func TestManualAdjust_FreshKeyWithoutClientToken(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(50)
	body := []byte(`{"delta": -5}`)

	f.authedRequest(t, http.MethodPost, "/products/"+p.ID.String()+"/inventory", body)
	f.authedRequest(t, http.MethodPost, "/products/"+p.ID.String()+"/inventory", body)

	require.Len(t, f.pub.events, 2)
	assert.NotEqual(t, f.pub.events[0].IdempotencyKey, f.pub.events[1].IdempotencyKey)
}

func TestManualAdjust_RequiresToken(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(50)

	resp, err := http.Post(f.server.URL+"/products/"+p.ID.String()+"/inventory", "application/json",
		strings.NewReader(`{"delta": -5}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, f.pub.events)
}

func TestManualAdjust_UnknownProduct(t *testing.T) {
	f := newFixture(t)

	resp := f.authedRequest(t, http.MethodPost, "/products/"+uuid.New().String()+"/inventory",
		[]byte(`{"delta": -5}`))

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestManualAdjust_MissingDelta(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(50)

	resp := f.authedRequest(t, http.MethodPost, "/products/"+p.ID.String()+"/inventory",
		[]byte(`{"notes": "no delta"}`))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/auth/token", "application/json",
		strings.NewReader(`{"username":"ops-bot","password":"`+testPassword+`"}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	assert.NotEmpty(t, out["access_token"])
	assert.Equal(t, "Bearer", out["token_type"])
}

func TestLogin_BadCredentials(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/auth/token", "application/json",
		strings.NewReader(`{"username":"ops-bot","password":"wrong"}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestImport_Accepted(t *testing.T) {
	f := newFixture(t)

	csv := "sku,name,price,inventory_quantity,description\nSKU900,New Thing,9.99,12,fresh\n"
	resp := f.authedRequest(t, http.MethodPost, "/imports", []byte(csv))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	assert.Equal(t, float64(1), out["created"])
	assert.Equal(t, float64(1), out["enqueued"])

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, event.SourceImport, f.pub.events[0].Source)
}

func TestImport_EmptyFile(t *testing.T) {
	f := newFixture(t)

	resp := f.authedRequest(t, http.MethodPost, "/imports", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProductLog(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(50)

	_, err := f.ms.ApplyMutation(context.Background(), store.Mutation{
		ProductID:        p.ID,
		ExpectedVersion:  1,
		PreviousQuantity: 50,
		NewQuantity:      45,
		ChangeType:       "webhook",
		IdempotencyKey:   event.WebhookKey("evt-1"),
	})
	require.NoError(t, err)

	resp := f.authedRequest(t, http.MethodGet, "/products/"+p.ID.String()+"/inventory/log", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	entries := out["entries"].([]any)
	require.Len(t, entries, 1)
	first := entries[0].(map[string]any)
	assert.Equal(t, float64(-5), first["change"])
}

func TestInsights(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(3) // below low-stock threshold

	resp := f.authedRequest(t, http.MethodGet, "/insights/inventory", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	stock := out["stock"].(map[string]any)
	assert.Equal(t, float64(1), stock["total_products"])
	assert.Equal(t, float64(1), stock["low_stock"])
}

func TestVolume_BadSince(t *testing.T) {
	f := newFixture(t)

	resp := f.authedRequest(t, http.MethodGet, "/insights/volume?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
