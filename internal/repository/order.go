package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rookgm/orderflow/internal/models"
	"github.com/rookgm/orderflow/internal/repository/postgres"
)

const pgErrUniqueViolationCode = "23505"

const (
	insertOrderQuery = `
						INSERT INTO orders (id, idempotency_key, items, total_amount, currency, customer, status, metadata)
						VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
						RETURNING created_at, updated_at
`
	selectOrderByIDQuery = `
						SELECT id, idempotency_key, items, total_amount, currency, customer, status, metadata, created_at, updated_at FROM orders
						WHERE id = $1
`
	selectOrderByKeyQuery = `
						SELECT id, idempotency_key, items, total_amount, currency, customer, status, metadata, created_at, updated_at FROM orders
						WHERE idempotency_key = $1
`
	// transition is allowed from PENDING only: CONFIRMED and FAILED are terminal
	updateOrderStatusQuery = `
						UPDATE orders
						SET status = $1, updated_at = now()
						WHERE id = $2 AND status = 'PENDING'
`
	selectStaleOrdersQuery = `
						SELECT id, idempotency_key, items, total_amount, currency, customer, status, metadata, created_at, updated_at FROM orders
						WHERE status = 'PENDING' AND created_at < $1
`
)

// OrderRepository implements order persistence over postgres
type OrderRepository struct {
	db *postgres.DB
}

// NewOrderRepository creates new OrderRepository instance
func NewOrderRepository(db *postgres.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateOrder inserts new order to database. Insert with an already
// used idempotency key returns models.ErrConflictData.
func (or *OrderRepository) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}

	var customer []byte
	if order.Customer != nil {
		customer, err = json.Marshal(order.Customer)
		if err != nil {
			return nil, err
		}
	}

	var metadata []byte
	if order.Metadata != nil {
		metadata, err = json.Marshal(order.Metadata)
		if err != nil {
			return nil, err
		}
	}

	err = or.db.QueryRow(ctx, insertOrderQuery,
		order.ID, order.IdempotencyKey, items, order.TotalAmount, order.Currency, customer, order.Status, metadata,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errCode := or.db.ErrorCode(err); errCode == pgErrUniqueViolationCode {
			return nil, models.ErrConflictData
		}
		return nil, err
	}

	return order, nil
}

// GetOrderByID returns order by id
func (or *OrderRepository) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	return or.scanOrder(or.db.QueryRow(ctx, selectOrderByIDQuery, id))
}

// GetOrderByKey returns order by idempotency key
func (or *OrderRepository) GetOrderByKey(ctx context.Context, key string) (*models.Order, error) {
	return or.scanOrder(or.db.QueryRow(ctx, selectOrderByKeyQuery, key))
}

// UpdateOrderStatus transitions order out of PENDING. Updating an
// order that is missing or already terminal returns models.ErrDataNotFound.
func (or *OrderRepository) UpdateOrderStatus(ctx context.Context, order models.Order) error {
	cmd, err := or.db.Exec(ctx, updateOrderStatusQuery, order.Status, order.ID)
	if err != nil {
		return err
	}

	if cmd.RowsAffected() == 0 {
		return models.ErrDataNotFound
	}

	return nil
}

// GetStaleOrders returns orders left in PENDING before cutoff
func (or *OrderRepository) GetStaleOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	rows, err := or.db.Query(ctx, selectStaleOrdersQuery, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []models.Order{}

	for rows.Next() {
		order, err := or.scanOrder(rows)
		if err != nil {
			continue
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (or *OrderRepository) scanOrder(row rowScanner) (*models.Order, error) {
	order := models.Order{}
	var items, customer, metadata []byte

	err := row.Scan(&order.ID, &order.IdempotencyKey, &items, &order.TotalAmount, &order.Currency, &customer, &order.Status, &metadata, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDataNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, err
	}
	if customer != nil {
		order.Customer = &models.CustomerData{}
		if err := json.Unmarshal(customer, order.Customer); err != nil {
			return nil, err
		}
	}
	if metadata != nil {
		if err := json.Unmarshal(metadata, &order.Metadata); err != nil {
			return nil, err
		}
	}

	return &order, nil
}
