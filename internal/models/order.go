package models

import "time"

//PENDING — заказ создан, оплата ещё не завершена;
//CONFIRMED — оплата прошла, заказ подтверждён;
//FAILED — оплата отклонена или заказ отменён, резерв снят.

// order status
const (
	OrderStatusPending   = "PENDING"
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusFailed    = "FAILED"
)

// OrderItem is single order position
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// CustomerData is customer contact data. Email and phone are masked
// before the order is persisted.
type CustomerData struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Order is order entity
type Order struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Items          []OrderItem       `json:"items"`
	TotalAmount    float64           `json:"total_amount"`
	Currency       string            `json:"currency"`
	Customer       *CustomerData     `json:"customer,omitempty"`
	Status         string            `json:"status"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ProcessOrderCommand is input of order processing
type ProcessOrderCommand struct {
	IdempotencyKey string        `json:"idempotency_key"`
	Items          []OrderItem   `json:"items"`
	TotalAmount    float64       `json:"total_amount"`
	Currency       string        `json:"currency"`
	Customer       *CustomerData `json:"customer,omitempty"`
}
