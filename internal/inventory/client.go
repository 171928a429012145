package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rookgm/orderflow/internal/models"
)

// Client represents HTTP client for inventory-related requests
type Client struct {
	client  *http.Client
	baseURL string
}

// NewClient creates new Client instance. timeout bounds every
// reservation request in addition to the caller context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
	}
}

type reserveRequest struct {
	Items []models.OrderItem `json:"items"`
}

type reserveResponse struct {
	Success          bool     `json:"success"`
	UnavailableItems []string `json:"unavailable_items,omitempty"`
}

type releaseRequest struct {
	OrderID string             `json:"order_id"`
	Items   []models.OrderItem `json:"items"`
}

// CheckAndReserve reserves stock for items
// 200 — резерв создан;
// 409 — часть позиций недоступна;
// 5xx — сервис недоступен.
func (c *Client) CheckAndReserve(ctx context.Context, items []models.OrderItem) error {
	// POST /api/inventory/reserve
	url, err := url.JoinPath(c.baseURL, "api", "inventory", "reserve")
	if err != nil {
		return err
	}

	body, err := json.Marshal(reserveRequest{Items: items})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrServiceUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		rr := reserveResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
			return err
		}
		return models.NewInventoryUnavailableError(rr.UnavailableItems)
	default:
		return fmt.Errorf("%w: inventory status %d", models.ErrServiceUnavailable, resp.StatusCode)
	}
}

// ReleaseReservation releases reservation held for order. Release of
// a reservation that does not exist is not an error: compensation may
// race with partial failures on the inventory side.
func (c *Client) ReleaseReservation(ctx context.Context, items []models.OrderItem, orderID string) error {
	// POST /api/inventory/release
	url, err := url.JoinPath(c.baseURL, "api", "inventory", "release")
	if err != nil {
		return err
	}

	body, err := json.Marshal(releaseRequest{OrderID: orderID, Items: items})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrServiceUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("%w: inventory status %d", models.ErrServiceUnavailable, resp.StatusCode)
	}
}
