package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/captiva/internal/config"
	paymentdomain "github.com/smallbiznis/captiva/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Config{}
	cfg.Gateway.BaseURL = srv.URL
	cfg.Gateway.AccessToken = "test-token"
	cfg.Gateway.Timeout = time.Second
	return NewClient(Params{Cfg: cfg, Log: zap.NewNop()})
}

func TestCreateIntentSendsPixPayment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "intent-1", r.Header.Get("X-Idempotency-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pix", body["payment_method_id"])
		assert.Equal(t, "WiFi - 1 hora", body["description"])
		assert.InDelta(t, 5.5, body["transaction_amount"], 0.0001)
		assert.Equal(t, "https://api.example.com/api/webhook/mercadopago", body["notification_url"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{
			"id": 123456789,
			"status": "pending",
			"point_of_interaction": {"transaction_data": {"qr_code": "000201pix", "qr_code_base64": "aVZCT1J3MEtHZ28="}}
		}`))
	})

	intent, err := client.CreateIntent(context.Background(), paymentdomain.GatewayCreateRequest{
		IdempotencyKey: "intent-1",
		AmountMills:    5500,
		Description:    "WiFi - 1 hora",
		CallbackURL:    "https://api.example.com/api/webhook/mercadopago",
		PayerEmail:     "cliente@captiva.local",
	})
	require.NoError(t, err)
	assert.Equal(t, "123456789", intent.GatewayID)
	assert.Equal(t, "pending", intent.Status)
	assert.Equal(t, "000201pix", intent.PixPayload)
	assert.Equal(t, "aVZCT1J3MEtHZ28=", intent.PixQRBase64)
}

func TestCreateIntentRejectedByGateway(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid payer"}`))
	})

	_, err := client.CreateIntent(context.Background(), paymentdomain.GatewayCreateRequest{
		IdempotencyKey: "intent-2",
		AmountMills:    1000,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayRejected)
}

func TestFetchStatusRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/987", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id": 987, "status": "approved", "status_detail": "accredited", "transaction_amount": 10.0}`))
	})

	status, err := client.FetchStatus(context.Background(), "987")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "approved", status.Status)
	assert.Equal(t, "accredited", status.StatusDetail)
	assert.Equal(t, int64(10000), status.AmountMills)
}

func TestFetchStatusNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.FetchStatus(context.Background(), "404")
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayNotFound)
}

func TestFetchStatusUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.FetchStatus(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, paymentdomain.ErrGatewayUnavailable))
}
