package guard

import (
	"errors"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/captiva/internal/payment/domain"
)

var (
	ErrIntentSettled      = errors.New("payment_intent_settled")
	ErrMissingGatewayID   = errors.New("payment_intent_missing_gateway_id")
	ErrOutsideSweepWindow = errors.New("payment_intent_outside_sweep_window")
)

// EnsureIntentReconcilable reports whether the startup sweep may re-drive an
// intent: it must still be open, known to the gateway and created inside the
// lookback window.
func EnsureIntentReconcilable(status paymentdomain.Status, gatewayID *string, createdAt, since time.Time) error {
	if !status.Open() {
		return ErrIntentSettled
	}
	if gatewayID == nil || strings.TrimSpace(*gatewayID) == "" {
		return ErrMissingGatewayID
	}
	if createdAt.Before(since) {
		return ErrOutsideSweepWindow
	}
	return nil
}
