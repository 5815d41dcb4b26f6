package shiprocket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commercegate/internal/common/apperror"
	"commercegate/internal/common/money"
	"commercegate/internal/credentials"
	"commercegate/internal/domain"
	"commercegate/internal/providers"
)

func newTestAdapter(baseURL string) *Adapter {
	return New(Config{
		BaseURL: baseURL,
		Credentials: credentials.ProviderCredentials{
			KeyID:         "ops@example.com",
			KeySecret:     "sr_password",
			WebhookSecret: "whsec_test",
			Timeout:       5 * time.Second,
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// loginHandler answers the auth endpoint and counts logins.
func loginHandler(t *testing.T, logins *int) func(w http.ResponseWriter, r *http.Request) bool {
	return func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path != "/v1/external/auth/login" {
			return false
		}
		*logins++

		var body loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ops@example.com", body.Email)
		assert.Equal(t, "sr_password", body.Password)

		json.NewEncoder(w).Encode(loginResponse{Token: "sr_token_1"})
		return true
	}
}

func TestCreateShipment(t *testing.T) {
	var logins int
	auth := loginHandler(t, &logins)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth(w, r) {
			return
		}
		assert.Equal(t, "/v1/external/orders/create/adhoc", r.URL.Path)
		assert.Equal(t, "Bearer sr_token_1", r.Header.Get("Authorization"))

		var body createOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "shp_internal_1", body.OrderID)
		assert.Equal(t, "Priya Shah", body.BillingName)
		assert.Equal(t, "Mumbai", body.BillingCity)
		assert.Equal(t, "2500.00", body.SubTotal)
		assert.InDelta(t, 1.5, body.Weight, 0.001)
		require.Len(t, body.OrderItems, 1)
		assert.Equal(t, "1250.00", body.OrderItems[0].SellingPrice)
		assert.Equal(t, 2, body.OrderItems[0].Units)

		json.NewEncoder(w).Encode(map[string]any{
			"order_id":    401234,
			"shipment_id": 501234,
			"status":      "NEW",
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	result, err := adapter.CreateShipment(context.Background(), &providers.CreateShipmentRequest{
		Reference: "shp_internal_1",
		OrderID:   "ord_1",
		Recipient: domain.Customer{Name: "Priya Shah", Phone: "+919800000000"},
		Items: []domain.LineItem{
			{SKU: "SKU-1", Name: "Widget", Quantity: 2, UnitMinor: 125000},
		},
		Destination:   domain.Address{Line1: "12 Marine Drive", City: "Mumbai", State: "MH", PostalCode: "400001", Country: "IN"},
		WeightGrams:   1500,
		Dimensions:    domain.Dimensions{LengthCm: 30, WidthCm: 20, HeightCm: 10},
		DeclaredValue: money.New(250000, money.INR),
	})
	require.NoError(t, err)
	assert.Equal(t, "501234", result.ProviderShipmentID)
	assert.Equal(t, domain.ShipmentPending, result.Status)
	assert.Equal(t, 1, logins)
}

func TestAuthTokenIsCached(t *testing.T) {
	var logins int
	auth := loginHandler(t, &logins)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth(w, r) {
			return
		}
		fmt.Fprint(w, `{"tracking_data":{}}`)
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	_, err := adapter.TrackShipment(context.Background(), "AWB1")
	require.NoError(t, err)
	_, err = adapter.TrackShipment(context.Background(), "AWB2")
	require.NoError(t, err)

	assert.Equal(t, 1, logins, "second call reuses the cached token")
}

func TestAuthRefreshDoesNotBlockTokenHolders(t *testing.T) {
	loginStarted := make(chan struct{})
	releaseLogin := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/external/auth/login" {
			close(loginStarted)
			<-releaseLogin
			json.NewEncoder(w).Encode(loginResponse{Token: "sr_token_2"})
			return
		}
		fmt.Fprint(w, `{"tracking_data":{}}`)
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)

	done := make(chan error, 1)
	go func() {
		_, err := adapter.TrackShipment(context.Background(), "AWB1")
		done <- err
	}()
	<-loginStarted

	// A caller whose token is still fresh must not queue behind the login.
	adapter.mu.Lock()
	adapter.token = "sr_token_1"
	adapter.tokenIssued = time.Now()
	adapter.mu.Unlock()

	_, err := adapter.TrackShipment(context.Background(), "AWB2")
	require.NoError(t, err)

	close(releaseLogin)
	require.NoError(t, <-done)
}

func TestAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token":""}`)
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	_, err := adapter.TrackShipment(context.Background(), "AWB1")
	require.Error(t, err)

	var provErr *apperror.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "AUTH_FAILED", provErr.Code)
}

func TestTrackShipmentDoesNotRetryPermanentErrors(t *testing.T) {
	var logins, calls int
	auth := loginHandler(t, &logins)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth(w, r) {
			return
		}
		calls++
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"no tracking data found"}`)
	}))
	defer server.Close()

	adapter := New(Config{
		BaseURL: server.URL,
		Credentials: credentials.ProviderCredentials{
			KeyID:         "ops@example.com",
			KeySecret:     "sr_password",
			Timeout:       5 * time.Second,
			RetryAttempts: 2,
			RetryDelay:    time.Millisecond,
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := adapter.TrackShipment(context.Background(), "AWB404")
	require.Error(t, err)
	assert.Equal(t, 1, calls, "provider errors are not retried")
}

func TestTrackShipment(t *testing.T) {
	var logins int
	auth := loginHandler(t, &logins)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth(w, r) {
			return
		}
		assert.Equal(t, "/v1/external/courier/track/awb/AWB123", r.URL.Path)
		fmt.Fprint(w, `{"tracking_data":{
			"shipment_track": [{"awb_code": "AWB123", "current_status": "In Transit"}],
			"shipment_track_activities": [
				{"date": "2026-08-22 14:05:00", "sr-status-label": "In Transit", "activity": "Departed hub", "location": "Mumbai"},
				{"date": "2026-08-21 09:00:00", "sr-status-label": "Picked Up", "activity": "Picked up", "location": "Mumbai"},
				{"date": "2026-08-20 17:30:00", "sr-status-label": "Pickup Scheduled", "activity": "Pickup scheduled", "location": ""}
			]
		}}`)
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	updates, err := adapter.TrackShipment(context.Background(), "AWB123")
	require.NoError(t, err)
	require.Len(t, updates, 3)

	assert.Equal(t, domain.ShipmentInTransit, updates[0].Status)
	assert.Equal(t, "Mumbai", updates[0].Location)
	assert.Equal(t, domain.ShipmentInTransit, updates[1].Status)
	assert.Equal(t, domain.ShipmentPacked, updates[2].Status)
	assert.True(t, updates[0].At.After(updates[2].At))
}

func TestCancelShipment(t *testing.T) {
	var logins int
	auth := loginHandler(t, &logins)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth(w, r) {
			return
		}
		assert.Equal(t, "/v1/external/orders/cancel", r.URL.Path)

		var body cancelRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"501234"}, body.IDs)

		json.NewEncoder(w).Encode(cancelResponse{Message: "order cancelled"})
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	ok, err := adapter.CancelShipment(context.Background(), "501234", "out of stock")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCancelShipmentRefused(t *testing.T) {
	var logins int
	auth := loginHandler(t, &logins)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth(w, r) {
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error":{"code":"ORDER_CANNOT_CANCEL","message":"Order cannot be cancelled as it is already shipped"}}`)
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	ok, err := adapter.CancelShipment(context.Background(), "501234", "")
	require.NoError(t, err, "already-moving shipments refuse without an error")
	assert.False(t, ok)
}

func TestMapStatusIsCaseInsensitive(t *testing.T) {
	adapter := newTestAdapter("http://unused")

	assert.Equal(t, domain.ShipmentDelivered, adapter.mapStatus("DELIVERED"))
	assert.Equal(t, domain.ShipmentReturned, adapter.mapStatus("RTO Initiated"))
	assert.Equal(t, domain.ShipmentPacked, adapter.mapStatus("  Ready To Ship "))
	assert.Equal(t, domain.ShipmentPending, adapter.mapStatus("Some Future Status"))
}

func TestParseWebhook(t *testing.T) {
	adapter := newTestAdapter("http://unused")

	event, err := adapter.ParseWebhook([]byte(`{
		"awb": 123456789,
		"current_status": "Out For Delivery",
		"order_id": "shp_internal_1",
		"sr_shipment_id": 501234,
		"scan_location": "Mumbai"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "shiprocket:out for delivery:123456789", event.ID)
	assert.Equal(t, domain.WebhookShipmentUpdate, event.Type)
	assert.Equal(t, "123456789", event.TrackingNumber)
	assert.Equal(t, domain.ShipmentOutForDelivery, event.ShipmentStatus)
}

func TestParseWebhookMissingReference(t *testing.T) {
	adapter := newTestAdapter("http://unused")

	_, err := adapter.ParseWebhook([]byte(`{"current_status":"Delivered"}`))
	require.Error(t, err)
}
