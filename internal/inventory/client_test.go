package inventory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rookgm/orderflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testItems = []models.OrderItem{{ProductID: "A", Quantity: 2, Price: 10}}

func TestClient_CheckAndReserve(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "reserved",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/inventory/reserve", r.URL.Path)
				w.WriteHeader(http.StatusOK)
			},
			check: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "unavailable_items",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				json.NewEncoder(w).Encode(map[string]any{
					"success":           false,
					"unavailable_items": []string{"A"},
				})
			},
			check: func(t *testing.T, err error) {
				var unavailable models.InventoryUnavailableError
				require.ErrorAs(t, err, &unavailable)
				assert.Equal(t, []string{"A"}, unavailable.Items)
			},
		},
		{
			name: "server_error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, models.ErrServiceUnavailable)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := NewClient(srv.URL, 5*time.Second)
			err := client.CheckAndReserve(context.Background(), testItems)
			tt.check(t, err)
		})
	}
}

func TestClient_CheckAndReserve_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 20*time.Millisecond)
	err := client.CheckAndReserve(context.Background(), testItems)
	assert.ErrorIs(t, err, models.ErrServiceUnavailable)
}

func TestClient_ReleaseReservation(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    bool
	}{
		{name: "released", statusCode: http.StatusOK},
		// releasing a reservation that does not exist is not an error
		{name: "no_reservation", statusCode: http.StatusNotFound},
		{name: "server_error", statusCode: http.StatusInternalServerError, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/inventory/release", r.URL.Path)

				req := struct {
					OrderID string             `json:"order_id"`
					Items   []models.OrderItem `json:"items"`
				}{}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "order-1", req.OrderID)

				w.WriteHeader(tt.statusCode)
			}))
			defer srv.Close()

			client := NewClient(srv.URL, 5*time.Second)
			err := client.ReleaseReservation(context.Background(), testItems, "order-1")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
