package mercadopago

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	paymentdomain "github.com/smallbiznis/captiva/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "mercadopago"
}

// NewAdapter builds a notification adapter. An empty secret disables
// signature verification.
func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.WebhookAdapter, error) {
	return &Adapter{webhookSecret: strings.TrimSpace(cfg.WebhookSecret)}, nil
}

type Adapter struct {
	webhookSecret string
}

type notification struct {
	ID     json.RawMessage `json:"id"`
	Type   string          `json:"type"`
	Topic  string          `json:"topic"`
	Action string          `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return nil
	}
	sigHeader := strings.TrimSpace(headers.Get("x-signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}
	ts, v1 := parseSignature(sigHeader)
	if ts == "" || v1 == "" {
		return paymentdomain.ErrInvalidSignature
	}

	event, err := decode(payload)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	paymentID := event.paymentID()

	var manifest strings.Builder
	if paymentID != "" {
		fmt.Fprintf(&manifest, "id:%s;", strings.ToLower(paymentID))
	}
	if requestID := strings.TrimSpace(headers.Get("x-request-id")); requestID != "" {
		fmt.Fprintf(&manifest, "request-id:%s;", requestID)
	}
	fmt.Fprintf(&manifest, "ts:%s;", ts)

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(manifest.String()))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(v1)), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Notification, error) {
	event, err := decode(payload)
	if err != nil {
		return nil, err
	}

	kind := strings.TrimSpace(event.Type)
	if kind == "" {
		kind = strings.TrimSpace(event.Topic)
	}
	if kind != "" && kind != "payment" {
		return nil, paymentdomain.ErrEventIgnored
	}

	paymentID := event.paymentID()
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return &paymentdomain.Notification{
		Provider:  "mercadopago",
		GatewayID: paymentID,
		Action:    strings.TrimSpace(event.Action),
	}, nil
}

func decode(payload []byte) (*notification, error) {
	var event notification
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return &event, nil
}

// paymentID prefers data.id; legacy notifications carry the id at the top
// level. Ids arrive as either JSON numbers or strings.
func (n *notification) paymentID() string {
	if id := rawID(n.Data.ID); id != "" {
		return id
	}
	return rawID(n.ID)
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func parseSignature(header string) (ts string, v1 string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	return ts, v1
}
