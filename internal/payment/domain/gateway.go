package domain

import (
	"context"
	"net/http"
)

// Gateway is the external payment provider. Both calls are fallible and
// eventually consistent; callers leave durable state untouched on error.
type Gateway interface {
	Provider() string
	CreateIntent(ctx context.Context, req GatewayCreateRequest) (*GatewayIntent, error)
	FetchStatus(ctx context.Context, gatewayID string) (*GatewayStatus, error)
}

type GatewayCreateRequest struct {
	IdempotencyKey string
	AmountMills    int64
	Description    string
	CallbackURL    string
	PayerEmail     string
}

type GatewayIntent struct {
	GatewayID   string
	Status      string
	PixPayload  string
	PixQRBase64 string
}

type GatewayStatus struct {
	GatewayID    string
	Status       string
	StatusDetail string
	AmountMills  int64
}

// Notification is the provider-neutral content of a gateway callback. It
// only names the payment; the status is always re-fetched.
type Notification struct {
	Provider  string
	GatewayID string
	Action    string
}

type WebhookAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Notification, error)
}

type AdapterConfig struct {
	Provider      string
	WebhookSecret string
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (WebhookAdapter, error)
}
