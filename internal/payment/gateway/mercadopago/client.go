// Package mercadopago talks to the Mercado Pago payments API for pix
// purchases.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/captiva/internal/commission"
	"github.com/smallbiznis/captiva/internal/config"
	obsmetrics "github.com/smallbiznis/captiva/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/captiva/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	Provider = "mercadopago"

	defaultBaseURL = "https://api.mercadopago.com"
	maxBodyBytes   = 1 << 20
)

var errRetryable = errors.New("gateway_retryable_response")

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	HTTPClient *http.Client        `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	log         *zap.Logger
	obsMetrics  *obsmetrics.Metrics

	create failsafe.Executor[*response]
	fetch  failsafe.Executor[*response]
}

type response struct {
	status int
	body   []byte
}

func NewClient(p Params) *Client {
	timeout := p.Cfg.Gateway.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(p.Cfg.Gateway.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	log := p.Log.Named("payment.gateway.mercadopago")

	breaker := circuitbreaker.NewBuilder[*response]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(15 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			log.Warn("gateway circuit breaker state change",
				zap.String("from_state", stateName(event.OldState)),
				zap.String("to_state", stateName(event.NewState)),
			)
		}).
		Build()
	retry := retrypolicy.NewBuilder[*response]().
		WithBackoff(200*time.Millisecond, 2*time.Second).
		WithMaxRetries(2).
		WithJitterFactor(0.1).
		Build()

	return &Client{
		baseURL:     baseURL,
		accessToken: p.Cfg.Gateway.AccessToken,
		httpClient:  httpClient,
		log:         log,
		obsMetrics:  p.ObsMetrics,
		create:      failsafe.With(breaker),
		fetch:       failsafe.With(retry, breaker),
	}
}

func (c *Client) Provider() string { return Provider }

type createPaymentRequest struct {
	TransactionAmount float64 `json:"transaction_amount"`
	Description       string  `json:"description"`
	PaymentMethodID   string  `json:"payment_method_id"`
	Payer             payer   `json:"payer"`
	NotificationURL   string  `json:"notification_url,omitempty"`
	ExternalReference string  `json:"external_reference,omitempty"`
}

type payer struct {
	Email string `json:"email"`
}

type paymentResponse struct {
	ID                 json.Number        `json:"id"`
	Status             string             `json:"status"`
	StatusDetail       string             `json:"status_detail"`
	TransactionAmount  decimal.Decimal    `json:"transaction_amount"`
	PointOfInteraction pointOfInteraction `json:"point_of_interaction"`
}

type pointOfInteraction struct {
	TransactionData struct {
		QRCode       string `json:"qr_code"`
		QRCodeBase64 string `json:"qr_code_base64"`
	} `json:"transaction_data"`
}

func (c *Client) CreateIntent(ctx context.Context, req paymentdomain.GatewayCreateRequest) (*paymentdomain.GatewayIntent, error) {
	if req.AmountMills <= 0 {
		return nil, paymentdomain.ErrInvalidIntent
	}
	body, err := json.Marshal(createPaymentRequest{
		TransactionAmount: commission.Float(req.AmountMills),
		Description:       req.Description,
		PaymentMethodID:   "pix",
		Payer:             payer{Email: req.PayerEmail},
		NotificationURL:   req.CallbackURL,
		ExternalReference: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, c.create, "create", http.MethodPost, "/v1/payments", body, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK && resp.status != http.StatusCreated {
		c.log.Warn("gateway rejected payment creation",
			zap.Int("status_code", resp.status),
			zap.ByteString("body", truncate(resp.body)),
		)
		return nil, paymentdomain.ErrGatewayRejected
	}

	payment, err := decodePayment(resp.body)
	if err != nil {
		return nil, err
	}
	return &paymentdomain.GatewayIntent{
		GatewayID:   payment.ID.String(),
		Status:      payment.Status,
		PixPayload:  payment.PointOfInteraction.TransactionData.QRCode,
		PixQRBase64: payment.PointOfInteraction.TransactionData.QRCodeBase64,
	}, nil
}

func (c *Client) FetchStatus(ctx context.Context, gatewayID string) (*paymentdomain.GatewayStatus, error) {
	gatewayID = strings.TrimSpace(gatewayID)
	if gatewayID == "" {
		return nil, paymentdomain.ErrInvalidIntent
	}

	resp, err := c.do(ctx, c.fetch, "fetch_status", http.MethodGet, "/v1/payments/"+gatewayID, nil, "")
	if err != nil {
		return nil, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		return nil, paymentdomain.ErrGatewayNotFound
	case resp.status != http.StatusOK:
		return nil, paymentdomain.ErrGatewayRejected
	}

	payment, err := decodePayment(resp.body)
	if err != nil {
		return nil, err
	}
	return &paymentdomain.GatewayStatus{
		GatewayID:    payment.ID.String(),
		Status:       payment.Status,
		StatusDetail: payment.StatusDetail,
		AmountMills:  commission.ToMills(payment.TransactionAmount.Truncate(commission.Scale)),
	}, nil
}

func (c *Client) do(
	ctx context.Context,
	executor failsafe.Executor[*response],
	operation string,
	method string,
	path string,
	body []byte,
	idempotencyKey string,
) (*response, error) {
	resp, err := executor.WithContext(ctx).Get(func() (*response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
		httpReq.Header.Set("Content-Type", "application/json")
		if idempotencyKey != "" {
			httpReq.Header.Set("X-Idempotency-Key", idempotencyKey)
		}

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()

		payload, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
		if err != nil {
			return nil, err
		}
		out := &response{status: httpResp.StatusCode, body: payload}
		if httpResp.StatusCode >= http.StatusInternalServerError || httpResp.StatusCode == http.StatusTooManyRequests {
			return out, fmt.Errorf("%w: status %d", errRetryable, httpResp.StatusCode)
		}
		return out, nil
	})
	c.obsMetrics.RecordGatewayCall(ctx, Provider, operation, err)
	if err != nil {
		c.log.Warn("gateway call failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrGatewayUnavailable, err.Error())
	}
	return resp, nil
}

func decodePayment(body []byte) (*paymentResponse, error) {
	var payment paymentResponse
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&payment); err != nil {
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrGatewayRejected, err.Error())
	}
	if payment.ID.String() == "" {
		return nil, paymentdomain.ErrGatewayRejected
	}
	if _, err := strconv.ParseInt(payment.ID.String(), 10, 64); err != nil {
		return nil, paymentdomain.ErrGatewayRejected
	}
	return &payment, nil
}

func truncate(body []byte) []byte {
	if len(body) > 512 {
		return body[:512]
	}
	return body
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	default:
		return "unknown"
	}
}
