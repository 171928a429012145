package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rookgm/orderflow/internal/models"
)

// ErrPaymentDeclined is returned when the payment provider declines the charge.
var ErrPaymentDeclined = errors.New("payment declined")

// Client represents HTTP client for payment-related requests
type Client struct {
	client  *http.Client
	baseURL string
}

// NewClient creates new Client instance
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
	}
}

type paymentRequest struct {
	OrderID  string  `json:"order_id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type declineResponse struct {
	Reason string `json:"reason"`
}

// ProcessPayment captures payment for order
// 200 — платёж проведён;
// 402 — платёж отклонён;
// 5xx — сервис недоступен.
func (c *Client) ProcessPayment(ctx context.Context, orderID string, amount float64, currency string) error {
	// POST /api/payments
	url, err := url.JoinPath(c.baseURL, "api", "payments")
	if err != nil {
		return err
	}

	body, err := json.Marshal(paymentRequest{OrderID: orderID, Amount: amount, Currency: currency})
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
	case http.StatusPaymentRequired:
		dr := declineResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
			return ErrPaymentDeclined
		}
		return fmt.Errorf("%w: %s", ErrPaymentDeclined, dr.Reason)
	default:
		return fmt.Errorf("%w: payment status %d", models.ErrServiceUnavailable, resp.StatusCode)
	}
}
