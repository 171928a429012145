package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rookgm/orderflow/internal/models"
)

type OrderService interface {
	ProcessOrder(ctx context.Context, cmd models.ProcessOrderCommand) (*models.Order, error)
	GetOrderStatus(ctx context.Context, orderID string) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// OrderHandler represents HTTP handler for order-related requests
type OrderHandler struct {
	svc OrderService
}

// NewOrderHandler creates new OrderHandler instance
func NewOrderHandler(svc OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

type errorResponse struct {
	Error            string   `json:"error"`
	UnavailableItems []string `json:"unavailable_items,omitempty"`
}

// ProcessOrder processes new order
// 200 — заказ обработан (или возвращён ранее обработанный результат);
// 400 — неверный формат запроса;
// 402 — платёж отклонён, резерв снят;
// 409 — часть позиций недоступна или заказ с этим ключом ещё обрабатывается;
// 502 — внешний сервис недоступен;
// 500 — внутренняя ошибка сервера.
func (oh *OrderHandler) ProcessOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := models.ProcessOrderCommand{}
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			writeError(w, http.StatusBadRequest, "bad request")
			return
		}
		defer r.Body.Close()

		// header takes precedence over the body field
		if key := r.Header.Get("Idempotency-Key"); key != "" {
			cmd.IdempotencyKey = key
		}

		order, err := oh.svc.ProcessOrder(r.Context(), cmd)
		if err != nil {
			var vErr models.ValidationError
			var invErr models.InventoryUnavailableError
			var payErr *models.PaymentError
			switch {
			case errors.As(err, &vErr):
				writeError(w, http.StatusBadRequest, vErr.Error())
			case errors.As(err, &invErr):
				writeJSON(w, http.StatusConflict, errorResponse{
					Error:            "insufficient inventory",
					UnavailableItems: invErr.Items,
				})
			case errors.As(err, &payErr):
				writeError(w, http.StatusPaymentRequired, "payment failed")
			case errors.Is(err, models.ErrConflictData):
				writeError(w, http.StatusConflict, "order is being processed")
			case errors.Is(err, models.ErrServiceUnavailable):
				writeError(w, http.StatusBadGateway, "service unavailable")
			default:
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		writeJSON(w, http.StatusOK, order)
	}
}

type orderStatusResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// GetOrderStatus returns order status
// 200 — статус найден;
// 404 — заказ не найден.
func (oh *OrderHandler) GetOrderStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := chi.URLParam(r, "id")

		status, err := oh.svc.GetOrderStatus(r.Context(), orderID)
		if err != nil {
			if errors.Is(err, models.ErrDataNotFound) {
				writeError(w, http.StatusNotFound, "order not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, orderStatusResponse{OrderID: orderID, Status: status})
	}
}

// CancelOrder cancels pending order
// 204 — заказ отменён;
// 404 — заказ не найден;
// 409 — заказ уже в терминальном статусе.
func (oh *OrderHandler) CancelOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := chi.URLParam(r, "id")

		if err := oh.svc.CancelOrder(r.Context(), orderID); err != nil {
			switch {
			case errors.Is(err, models.ErrDataNotFound):
				writeError(w, http.StatusNotFound, "order not found")
			case errors.Is(err, models.ErrOrderNotCancellable):
				writeError(w, http.StatusConflict, "order is not cancellable")
			default:
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
