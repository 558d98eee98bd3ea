package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const headerAccessToken = "X-Shopify-Access-Token"

// Client fetches authoritative inventory snapshots from the platform's
// admin API
type Client struct {
	httpClient  *http.Client
	storeDomain string
	accessToken string
}

func NewClient(storeDomain, accessToken string, timeout time.Duration) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		storeDomain: storeDomain,
		accessToken: accessToken,
	}
}

type inventoryLevelsResponse struct {
	InventoryLevels []struct {
		InventoryItemID json.Number `json:"inventory_item_id"`
		Available       *int        `json:"available"`
	} `json:"inventory_levels"`
}

// FetchInventorySnapshot returns the platform's reported available quantity
// for the given inventory item ids. Items missing from the response are
// absent from the map; a transport or non-2xx failure fails the whole call.
func (c *Client) FetchInventorySnapshot(ctx context.Context, itemIDs []string) (map[string]int, error) {
	if len(itemIDs) == 0 {
		return map[string]int{}, nil
	}

	endpoint := url.URL{
		Scheme: "https",
		Host:   c.storeDomain,
		Path:   "/admin/api/2024-01/inventory_levels.json",
		RawQuery: url.Values{
			"inventory_item_ids": []string{strings.Join(itemIDs, ",")},
			"limit":              []string{fmt.Sprintf("%d", len(itemIDs))},
		}.Encode(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerAccessToken, c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot request returned status %d", resp.StatusCode)
	}

	var payload inventoryLevelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot response: %w", err)
	}

	snapshot := make(map[string]int, len(payload.InventoryLevels))
	for _, level := range payload.InventoryLevels {
		if level.Available == nil {
			// Untracked items report null availability; skip them
			continue
		}
		snapshot[level.InventoryItemID.String()] = *level.Available
	}
	return snapshot, nil
}
