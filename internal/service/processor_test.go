package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
	"github.com/rookgm/orderflow/internal/cache"
	"github.com/rookgm/orderflow/internal/models"
	"github.com/rookgm/orderflow/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type processorMocks struct {
	repo      *mocks.MockOrderRepository
	inventory *mocks.MockInventoryService
	payment   *mocks.MockPaymentService
	publisher *mocks.MockEventPublisher
	cache     *cache.MemoryCache
}

func newTestProcessor(t *testing.T) (*OrderProcessor, *processorMocks) {
	t.Helper()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	pm := &processorMocks{
		repo:      mocks.NewMockOrderRepository(ctrl),
		inventory: mocks.NewMockInventoryService(ctrl),
		payment:   mocks.NewMockPaymentService(ctrl),
		publisher: mocks.NewMockEventPublisher(ctrl),
		cache:     cache.NewMemoryCache(),
	}

	p := NewOrderProcessor(pm.repo, pm.inventory, pm.payment, pm.cache, pm.publisher, ProcessorOptions{})

	return p, pm
}

func testCommand(key string) models.ProcessOrderCommand {
	return models.ProcessOrderCommand{
		IdempotencyKey: key,
		Items:          []models.OrderItem{{ProductID: "A", Quantity: 2, Price: 10}},
		TotalAmount:    20,
		Currency:       "USD",
	}
}

func TestProcessOrder_Success(t *testing.T) {
	p, pm := newTestProcessor(t)
	ctx := context.Background()

	pm.inventory.EXPECT().CheckAndReserve(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	pm.repo.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, order *models.Order) (*models.Order, error) {
			order.CreatedAt = time.Now()
			order.UpdatedAt = order.CreatedAt
			return order, nil
		}).Times(1)
	pm.payment.EXPECT().ProcessPayment(gomock.Any(), gomock.Any(), 20.0, "USD").Return(nil).Times(1)

	var saved models.Order
	pm.repo.EXPECT().UpdateOrderStatus(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, order models.Order) error {
			saved = order
			return nil
		}).Times(1)
	pm.publisher.EXPECT().PublishOrderEvent(gomock.Any(), "order.confirmed", gomock.Any()).Return(nil).Times(1)

	order, err := p.ProcessOrder(ctx, testCommand("k1"))
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
	assert.Equal(t, models.OrderStatusConfirmed, saved.Status)
	assert.NotEmpty(t, order.ID)
	assert.NotEmpty(t, order.Metadata["trace_id"])

	// idempotency cache now holds the result under order:k1
	cached, err := pm.cache.Get(ctx, "order:k1")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(order, cached))
}

func TestProcessOrder_IdempotentReplay(t *testing.T) {
	p, pm := newTestProcessor(t)
	ctx := context.Background()

	pm.inventory.EXPECT().CheckAndReserve(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	pm.repo.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, order *models.Order) (*models.Order, error) {
			return order, nil
		}).Times(1)
	// payment and confirm run exactly once in total, not twice
	pm.payment.EXPECT().ProcessPayment(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)
	pm.repo.EXPECT().UpdateOrderStatus(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	pm.publisher.EXPECT().PublishOrderEvent(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)

	first, err := p.ProcessOrder(ctx, testCommand("k1"))
	require.NoError(t, err)

	second, err := p.ProcessOrder(ctx, testCommand("k1"))
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(first, second))
}

func TestProcessOrder_InventoryUnavailable(t *testing.T) {
	p, pm := newTestProcessor(t)
	ctx := context.Background()

	pm.inventory.EXPECT().CheckAndReserve(gomock.Any(), gomock.Any()).
		Return(models.NewInventoryUnavailableError([]string{"A"})).Times(1)
	// no order row is created and no compensation runs
	pm.repo.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Times(0)
	pm.inventory.EXPECT().ReleaseReservation(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	pm.payment.EXPECT().ProcessPayment(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := p.ProcessOrder(ctx, testCommand("k2"))
	require.Error(t, err)

	var unavailable models.InventoryUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []string{"A"}, unavailable.Items)

	// the cache is not populated: the caller may retry with the same key
	_, err = pm.cache.Get(ctx, "order:k2")
	assert.ErrorIs(t, err, models.ErrDataNotFound)
}

func TestProcessOrder_PaymentFailureCompensates(t *testing.T) {
	p, pm := newTestProcessor(t)
	ctx := context.Background()

	declined := errors.New("card declined")

	pm.inventory.EXPECT().CheckAndReserve(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	var createdID string
	pm.repo.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, order *models.Order) (*models.Order, error) {
			createdID = order.ID
			return order, nil
		}).Times(1)
	pm.payment.EXPECT().ProcessPayment(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(declined).Times(1)

	// compensating release runs exactly once for this order before the error surfaces
	pm.inventory.EXPECT().ReleaseReservation(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, items []models.OrderItem, orderID string) error {
			assert.Equal(t, createdID, orderID)
			assert.Len(t, items, 1)
			return nil
		}).Times(1)

	var failed models.Order
	pm.repo.EXPECT().UpdateOrderStatus(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, order models.Order) error {
			failed = order
			return nil
		}).Times(1)
	pm.publisher.EXPECT().PublishOrderEvent(gomock.Any(), "order.failed", gomock.Any()).Return(nil).Times(1)

	_, err := p.ProcessOrder(ctx, testCommand("k3"))
	require.Error(t, err)

	var payErr *models.PaymentError
	require.ErrorAs(t, err, &payErr)
	assert.True(t, payErr.Compensated)
	assert.ErrorIs(t, err, declined)

	assert.Equal(t, models.OrderStatusFailed, failed.Status)

	// no cache entry is written on failure
	_, err = pm.cache.Get(ctx, "order:k3")
	assert.ErrorIs(t, err, models.ErrDataNotFound)
}

func TestProcessOrder_CompensationFailureKeepsPaymentError(t *testing.T) {
	p, pm := newTestProcessor(t)
	ctx := context.Background()

	declined := errors.New("card declined")

	pm.inventory.EXPECT().CheckAndReserve(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	pm.repo.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, order *models.Order) (*models.Order, error) {
			return order, nil
		}).Times(1)
	pm.payment.EXPECT().ProcessPayment(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(declined).Times(1)
	pm.inventory.EXPECT().ReleaseReservation(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("inventory down")).Times(1)
	pm.repo.EXPECT().UpdateOrderStatus(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	pm.publisher.EXPECT().PublishOrderEvent(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)

	_, err := p.ProcessOrder(ctx, testCommand("k4"))
	require.Error(t, err)

	// the release failure must not mask the payment error
	assert.ErrorIs(t, err, declined)
}

func TestProcessOrder_ValidationPrecedesSideEffects(t *testing.T) {
	tests := []struct {
		name string
		cmd  models.ProcessOrderCommand
	}{
		{
			name: "empty_items",
			cmd: models.ProcessOrderCommand{
				IdempotencyKey: "k5",
				TotalAmount:    20,
				Currency:       "USD",
			},
		},
		{
			name: "non_positive_amount",
			cmd: models.ProcessOrderCommand{
				IdempotencyKey: "k5",
				Items:          []models.OrderItem{{ProductID: "A", Quantity: 1, Price: 10}},
				TotalAmount:    0,
				Currency:       "USD",
			},
		},
		{
			name: "missing_idempotency_key",
			cmd: models.ProcessOrderCommand{
				Items:       []models.OrderItem{{ProductID: "A", Quantity: 1, Price: 10}},
				TotalAmount: 10,
				Currency:    "USD",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, pm := newTestProcessor(t)

			pm.inventory.EXPECT().CheckAndReserve(gomock.Any(), gomock.Any()).Times(0)
			pm.repo.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Times(0)

			_, err := p.ProcessOrder(context.Background(), tt.cmd)
			require.Error(t, err)

			var vErr models.ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}

func TestProcessOrder_AnonymizesCustomerData(t *testing.T) {
	p, pm := newTestProcessor(t)
	ctx := context.Background()

	cmd := testCommand("k6")
	cmd.Customer = &models.CustomerData{
		Name:  "John Doe",
		Email: "john@example.com",
		Phone: "+79211234567",
	}

	pm.inventory.EXPECT().CheckAndReserve(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	var stored *models.CustomerData
	pm.repo.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, order *models.Order) (*models.Order, error) {
			stored = order.Customer
			return order, nil
		}).Times(1)
	pm.payment.EXPECT().ProcessPayment(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)
	pm.repo.EXPECT().UpdateOrderStatus(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	pm.publisher.EXPECT().PublishOrderEvent(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)

	_, err := p.ProcessOrder(ctx, cmd)
	require.NoError(t, err)

	require.NotNil(t, stored)
	assert.NotEqual(t, "john@example.com", stored.Email)
	assert.NotEqual(t, "+79211234567", stored.Phone)
	assert.Equal(t, "j***@example.com", stored.Email)
	assert.Equal(t, "***67", stored.Phone)
}

func TestProcessOrder_DuplicateInsertResolvesByExistingStatus(t *testing.T) {
	tests := []struct {
		name           string
		existingStatus string
		check          func(t *testing.T, existing, got *models.Order, err error)
	}{
		{
			// the winner confirmed: the replay observes its result
			name:           "confirmed_order_returned",
			existingStatus: models.OrderStatusConfirmed,
			check: func(t *testing.T, existing, got *models.Order, err error) {
				require.NoError(t, err)
				assert.Empty(t, cmp.Diff(existing, got))
			},
		},
		{
			// the winner's payment failed: a FAILED row must not be
			// reported as a success
			name:           "failed_order_returns_payment_error",
			existingStatus: models.OrderStatusFailed,
			check: func(t *testing.T, existing, got *models.Order, err error) {
				require.Error(t, err)
				assert.Nil(t, got)

				var payErr *models.PaymentError
				require.ErrorAs(t, err, &payErr)
				assert.Equal(t, existing.ID, payErr.OrderID)
				assert.ErrorIs(t, err, models.ErrPaymentPreviouslyFailed)
			},
		},
		{
			// the winner is still paying: conflict, retry later
			name:           "pending_order_returns_conflict",
			existingStatus: models.OrderStatusPending,
			check: func(t *testing.T, _, got *models.Order, err error) {
				require.Error(t, err)
				assert.Nil(t, got)
				assert.ErrorIs(t, err, models.ErrConflictData)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, pm := newTestProcessor(t)
			ctx := context.Background()

			existing := &models.Order{
				ID:             "existing-id",
				IdempotencyKey: "k7",
				Status:         tt.existingStatus,
			}

			pm.inventory.EXPECT().CheckAndReserve(gomock.Any(), gomock.Any()).Return(nil).Times(1)
			pm.repo.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(nil, models.ErrConflictData).Times(1)
			// the losing reservation is released, payment never runs
			pm.inventory.EXPECT().ReleaseReservation(gomock.Any(), gomock.Any(), "").Return(nil).Times(1)
			pm.payment.EXPECT().ProcessPayment(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			pm.repo.EXPECT().GetOrderByKey(gomock.Any(), "k7").Return(existing, nil).Times(1)

			order, err := p.ProcessOrder(ctx, testCommand("k7"))
			tt.check(t, existing, order, err)
		})
	}
}

func TestProcessOrder_ConcurrentCallsCollapse(t *testing.T) {
	p, pm := newTestProcessor(t)
	ctx := context.Background()

	const callers = 8
	started := make(chan struct{})

	// every concurrent caller enters the workflow before the first
	// execution resolves, so steps 2-6 must still run exactly once
	pm.inventory.EXPECT().CheckAndReserve(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, []models.OrderItem) error {
			<-started
			return nil
		}).Times(1)
	pm.repo.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, order *models.Order) (*models.Order, error) {
			return order, nil
		}).Times(1)
	pm.payment.EXPECT().ProcessPayment(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)
	pm.repo.EXPECT().UpdateOrderStatus(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	pm.publisher.EXPECT().PublishOrderEvent(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)

	var wg sync.WaitGroup
	results := make([]*models.Order, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.ProcessOrder(ctx, testCommand("k8"))
		}(i)
	}

	// let all callers reach the singleflight barrier, then release
	time.Sleep(50 * time.Millisecond)
	close(started)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, results[0].ID, results[i].ID)
	}
}

func TestGetOrderStatus(t *testing.T) {
	p, pm := newTestProcessor(t)

	pm.repo.EXPECT().GetOrderByID(gomock.Any(), "order-1").
		Return(&models.Order{ID: "order-1", Status: models.OrderStatusConfirmed}, nil).Times(1)

	status, err := p.GetOrderStatus(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, status)
}

func TestCancelOrder(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(pm *processorMocks)
		wantErr error
	}{
		{
			name: "pending_order_cancelled",
			setup: func(pm *processorMocks) {
				pm.repo.EXPECT().GetOrderByID(gomock.Any(), "order-1").
					Return(&models.Order{ID: "order-1", Status: models.OrderStatusPending,
						Items: []models.OrderItem{{ProductID: "A", Quantity: 1, Price: 10}}}, nil)
				pm.repo.EXPECT().UpdateOrderStatus(gomock.Any(), gomock.Any()).Return(nil)
				pm.inventory.EXPECT().ReleaseReservation(gomock.Any(), gomock.Any(), "order-1").Return(nil)
				pm.publisher.EXPECT().PublishOrderEvent(gomock.Any(), "order.failed", gomock.Any()).Return(nil)
			},
		},
		{
			name: "confirmed_order_not_cancellable",
			setup: func(pm *processorMocks) {
				pm.repo.EXPECT().GetOrderByID(gomock.Any(), "order-1").
					Return(&models.Order{ID: "order-1", Status: models.OrderStatusConfirmed}, nil)
				pm.inventory.EXPECT().ReleaseReservation(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			},
			wantErr: models.ErrOrderNotCancellable,
		},
		{
			name: "unknown_order",
			setup: func(pm *processorMocks) {
				pm.repo.EXPECT().GetOrderByID(gomock.Any(), "order-1").
					Return(nil, models.ErrDataNotFound)
			},
			wantErr: models.ErrDataNotFound,
		},
		{
			name: "lost_race_to_payment",
			setup: func(pm *processorMocks) {
				pm.repo.EXPECT().GetOrderByID(gomock.Any(), "order-1").
					Return(&models.Order{ID: "order-1", Status: models.OrderStatusPending}, nil)
				pm.repo.EXPECT().UpdateOrderStatus(gomock.Any(), gomock.Any()).
					Return(models.ErrDataNotFound)
				pm.inventory.EXPECT().ReleaseReservation(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			},
			wantErr: models.ErrOrderNotCancellable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, pm := newTestProcessor(t)
			tt.setup(pm)

			err := p.CancelOrder(context.Background(), "order-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFailStalePending(t *testing.T) {
	p, pm := newTestProcessor(t)
	ctx := context.Background()

	stale := []models.Order{
		{ID: "order-1", Status: models.OrderStatusPending, Items: []models.OrderItem{{ProductID: "A", Quantity: 1, Price: 10}}},
		{ID: "order-2", Status: models.OrderStatusPending, Items: []models.OrderItem{{ProductID: "B", Quantity: 2, Price: 5}}},
	}

	pm.repo.EXPECT().GetStaleOrders(gomock.Any(), gomock.Any()).Return(stale, nil).Times(1)
	// order-1 resolves concurrently, only order-2 is recovered
	pm.repo.EXPECT().UpdateOrderStatus(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, order models.Order) error {
			if order.ID == "order-1" {
				return models.ErrDataNotFound
			}
			assert.Equal(t, models.OrderStatusFailed, order.Status)
			return nil
		}).Times(2)
	pm.inventory.EXPECT().ReleaseReservation(gomock.Any(), gomock.Any(), "order-2").Return(nil).Times(1)
	pm.publisher.EXPECT().PublishOrderEvent(gomock.Any(), "order.failed", gomock.Any()).Return(nil).Times(1)

	recovered, err := p.FailStalePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
}
