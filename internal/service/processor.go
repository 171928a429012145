package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rookgm/orderflow/internal/events"
	"github.com/rookgm/orderflow/internal/logger"
	"github.com/rookgm/orderflow/internal/metrics"
	"github.com/rookgm/orderflow/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	cacheKeyPrefix = "order:"
	// idempotency records live 24 hours
	cacheTTL = 24 * time.Hour
	// bound for compensation calls running on a detached context
	compensationTimeout = 10 * time.Second
)

// OrderRepository is interface for interacting with order-related data
type OrderRepository interface {
	// CreateOrder inserts new order to database
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	// GetOrderByID returns order by id
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	// GetOrderByKey returns order by idempotency key
	GetOrderByKey(ctx context.Context, key string) (*models.Order, error)
	// UpdateOrderStatus transitions order out of PENDING
	UpdateOrderStatus(ctx context.Context, order models.Order) error
	// GetStaleOrders returns orders left in PENDING before cutoff
	GetStaleOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error)
}

// InventoryService reserves and releases stock
type InventoryService interface {
	// CheckAndReserve reserves stock for items
	CheckAndReserve(ctx context.Context, items []models.OrderItem) error
	// ReleaseReservation releases reservation held for order
	ReleaseReservation(ctx context.Context, items []models.OrderItem, orderID string) error
}

// PaymentService captures payments
type PaymentService interface {
	// ProcessPayment captures payment for order
	ProcessPayment(ctx context.Context, orderID string, amount float64, currency string) error
}

// IdempotencyCache stores processed order results by idempotency key
type IdempotencyCache interface {
	// Get returns cached order result or models.ErrDataNotFound
	Get(ctx context.Context, key string) (*models.Order, error)
	// Set stores order result under key with ttl
	Set(ctx context.Context, key string, order *models.Order, ttl time.Duration) error
}

// EventPublisher publishes order outcome events
type EventPublisher interface {
	// PublishOrderEvent publishes order outcome under given routing key
	PublishOrderEvent(ctx context.Context, event string, order *models.Order) error
}

// OrderProcessor runs the order processing workflow: idempotency check,
// validation, inventory reservation, order creation, payment capture with
// compensating release on failure, idempotency write-back.
type OrderProcessor struct {
	repo      OrderRepository
	inventory InventoryService
	payment   PaymentService
	cache     IdempotencyCache
	publisher EventPublisher

	// collapses concurrent first-time calls with the same idempotency
	// key into a single execution
	group singleflight.Group

	inventoryTimeout time.Duration
	paymentTimeout   time.Duration
	pendingMaxAge    time.Duration
}

// ProcessorOptions carries workflow timeouts
type ProcessorOptions struct {
	InventoryTimeout time.Duration
	PaymentTimeout   time.Duration
	PendingMaxAge    time.Duration
}

// NewOrderProcessor creates new OrderProcessor instance
func NewOrderProcessor(
	repo OrderRepository,
	inventory InventoryService,
	payment PaymentService,
	cache IdempotencyCache,
	publisher EventPublisher,
	opts ProcessorOptions,
) *OrderProcessor {
	if opts.InventoryTimeout <= 0 {
		opts.InventoryTimeout = 5 * time.Second
	}
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = 10 * time.Second
	}
	if opts.PendingMaxAge <= 0 {
		opts.PendingMaxAge = 10 * time.Minute
	}
	return &OrderProcessor{
		repo:             repo,
		inventory:        inventory,
		payment:          payment,
		cache:            cache,
		publisher:        publisher,
		inventoryTimeout: opts.InventoryTimeout,
		paymentTimeout:   opts.PaymentTimeout,
		pendingMaxAge:    opts.PendingMaxAge,
	}
}

// ProcessOrder processes order command. Replay with an already processed
// idempotency key returns the original result without re-executing side
// effects.
func (p *OrderProcessor) ProcessOrder(ctx context.Context, cmd models.ProcessOrderCommand) (*models.Order, error) {
	start := time.Now()

	if cmd.IdempotencyKey == "" {
		return nil, models.NewValidationError("missing idempotency key")
	}

	cacheKey := cacheKeyPrefix + cmd.IdempotencyKey
	cached, err := p.cache.Get(ctx, cacheKey)
	if err == nil {
		logger.Log.Debug("idempotent replay", zap.String("key", cmd.IdempotencyKey), zap.String("order", cached.ID))
		return cached, nil
	}
	if !errors.Is(err, models.ErrDataNotFound) {
		// cache outage is not fatal: the unique index on idempotency
		// key still guards against a second execution
		logger.Log.Warn("idempotency cache lookup failed", zap.Error(err))
	}

	v, err, _ := p.group.Do(cmd.IdempotencyKey, func() (interface{}, error) {
		return p.execute(ctx, cacheKey, cmd)
	})

	elapsed := time.Since(start)
	metrics.RecordProcessingTime(elapsed)
	metrics.RecordOrderOperation("process", err == nil)

	if err != nil {
		logger.Log.Error("order processing failed",
			zap.String("key", cmd.IdempotencyKey),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	order := v.(*models.Order)
	logger.Log.Info("order processed",
		zap.String("order", order.ID),
		zap.String("status", order.Status),
		zap.Duration("elapsed", elapsed))

	return order, nil
}

func (p *OrderProcessor) execute(ctx context.Context, cacheKey string, cmd models.ProcessOrderCommand) (*models.Order, error) {
	if err := validateOrder(&cmd); err != nil {
		return nil, err
	}

	reserveCtx, cancelReserve := context.WithTimeout(ctx, p.inventoryTimeout)
	defer cancelReserve()

	if err := p.inventory.CheckAndReserve(reserveCtx, cmd.Items); err != nil {
		var unavailable models.InventoryUnavailableError
		if errors.As(err, &unavailable) {
			// no order row and no cache entry: the caller may retry
			// with the same key once stock frees up
			return nil, unavailable
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: inventory reservation timed out", models.ErrServiceUnavailable)
		}
		return nil, err
	}

	order := &models.Order{
		ID:             uuid.NewString(),
		IdempotencyKey: cmd.IdempotencyKey,
		Items:          cmd.Items,
		TotalAmount:    cmd.TotalAmount,
		Currency:       cmd.Currency,
		Customer:       cmd.Customer,
		Status:         models.OrderStatusPending,
		Metadata: map[string]string{
			"trace_id": uuid.NewString(),
		},
	}

	order, err := p.repo.CreateOrder(ctx, order)
	if err != nil {
		if errors.Is(err, models.ErrConflictData) {
			// another process already created an order for this key;
			// release our reservation and resolve from the existing row
			p.releaseReservation(ctx, cmd.Items, "")
			existing, getErr := p.repo.GetOrderByKey(ctx, cmd.IdempotencyKey)
			if getErr != nil {
				return nil, getErr
			}
			switch existing.Status {
			case models.OrderStatusConfirmed:
				return existing, nil
			case models.OrderStatusFailed:
				return nil, models.NewPaymentError(existing.ID, true, models.ErrPaymentPreviouslyFailed)
			default:
				// the first execution is still in flight
				return nil, models.ErrConflictData
			}
		}
		p.releaseReservation(ctx, cmd.Items, "")
		return nil, err
	}

	payCtx, cancelPay := context.WithTimeout(ctx, p.paymentTimeout)
	defer cancelPay()

	if err := p.payment.ProcessPayment(payCtx, order.ID, order.TotalAmount, order.Currency); err != nil {
		// compensating transaction: release the reservation, then fail
		// the order; the original payment error is preserved
		p.releaseReservation(ctx, order.Items, order.ID)

		order.Status = models.OrderStatusFailed
		if updErr := p.repo.UpdateOrderStatus(context.WithoutCancel(ctx), *order); updErr != nil {
			logger.Log.Error("failed to mark order failed",
				zap.String("order", order.ID), zap.Error(updErr))
		}
		p.publishEvent(ctx, events.EventOrderFailed, order)

		return nil, models.NewPaymentError(order.ID, true, err)
	}

	order.Status = models.OrderStatusConfirmed
	if err := p.repo.UpdateOrderStatus(ctx, *order); err != nil {
		// payment captured but the confirm write failed; the sweeper
		// will pick the order up if it stays PENDING
		return nil, fmt.Errorf("confirm order %s: %w", order.ID, err)
	}

	if err := p.cache.Set(ctx, cacheKey, order, cacheTTL); err != nil {
		logger.Log.Warn("idempotency cache write failed",
			zap.String("order", order.ID), zap.Error(err))
	}

	p.publishEvent(ctx, events.EventOrderConfirmed, order)

	return order, nil
}

// GetOrderStatus returns current order status
func (p *OrderProcessor) GetOrderStatus(ctx context.Context, orderID string) (string, error) {
	order, err := p.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	return order.Status, nil
}

// CancelOrder cancels order that has not been paid yet. The order
// transitions to FAILED and its reservation is released. Cancelling a
// terminal order returns models.ErrOrderNotCancellable.
func (p *OrderProcessor) CancelOrder(ctx context.Context, orderID string) error {
	order, err := p.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	if order.Status != models.OrderStatusPending {
		return models.ErrOrderNotCancellable
	}

	order.Status = models.OrderStatusFailed
	if err := p.repo.UpdateOrderStatus(ctx, *order); err != nil {
		if errors.Is(err, models.ErrDataNotFound) {
			// lost the race against payment resolution
			return models.ErrOrderNotCancellable
		}
		return err
	}

	p.releaseReservation(ctx, order.Items, order.ID)
	p.publishEvent(ctx, events.EventOrderFailed, order)

	logger.Log.Info("order cancelled", zap.String("order", order.ID))

	return nil
}

// FailStalePending fails and compensates orders that stayed PENDING
// longer than the configured age. It returns the number of recovered
// orders.
func (p *OrderProcessor) FailStalePending(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-p.pendingMaxAge)

	orders, err := p.repo.GetStaleOrders(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, order := range orders {
		order.Status = models.OrderStatusFailed
		if err := p.repo.UpdateOrderStatus(ctx, order); err != nil {
			// already resolved by someone else
			continue
		}

		p.releaseReservation(ctx, order.Items, order.ID)
		p.publishEvent(ctx, events.EventOrderFailed, &order)

		// a stale order may carry a captured but unconfirmed payment;
		// the id is logged so the charge can be reconciled
		logger.Log.Error("stale pending order failed",
			zap.String("order", order.ID),
			zap.Time("created_at", order.CreatedAt))
		recovered++
	}

	if recovered > 0 {
		metrics.RecordStaleOrdersRecovered(recovered)
	}

	return recovered, nil
}

// releaseReservation releases stock on a detached context so that
// compensation still runs after caller cancellation. Release failure is
// logged and never masks the original error.
func (p *OrderProcessor) releaseReservation(ctx context.Context, items []models.OrderItem, orderID string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := p.inventory.ReleaseReservation(releaseCtx, items, orderID); err != nil {
		logger.Log.Error("inventory release failed",
			zap.String("order", orderID), zap.Error(err))
	}
}

// publishEvent publishes order outcome; failures are logged only
func (p *OrderProcessor) publishEvent(ctx context.Context, event string, order *models.Order) {
	if err := p.publisher.PublishOrderEvent(context.WithoutCancel(ctx), event, order); err != nil {
		logger.Log.Warn("order event publish failed",
			zap.String("event", event),
			zap.String("order", order.ID),
			zap.Error(err))
	}
}

func validateOrder(cmd *models.ProcessOrderCommand) error {
	if len(cmd.Items) == 0 {
		return models.NewValidationError("no items in order")
	}
	if cmd.TotalAmount <= 0 {
		return models.NewValidationError("invalid order amount")
	}
	for _, item := range cmd.Items {
		if item.ProductID == "" || item.Quantity <= 0 {
			return models.NewValidationError("invalid order item")
		}
	}
	if cmd.Customer != nil {
		cmd.Customer = anonymizeCustomerData(cmd.Customer)
	}
	return nil
}
