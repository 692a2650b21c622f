package guard

import (
	"errors"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/captiva/internal/payment/domain"
)

func TestEnsureIntentReconcilable(t *testing.T) {
	since := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	gw := "123"
	blank := " "

	cases := []struct {
		name      string
		status    paymentdomain.Status
		gatewayID *string
		createdAt time.Time
		want      error
	}{
		{"awaiting", paymentdomain.StatusAwaiting, &gw, since, nil},
		{"pending", paymentdomain.StatusPending, &gw, since.Add(time.Hour), nil},
		{"approved", paymentdomain.StatusApproved, &gw, since, ErrIntentSettled},
		{"expired", paymentdomain.StatusExpired, &gw, since, ErrIntentSettled},
		{"no gateway id", paymentdomain.StatusPending, nil, since, ErrMissingGatewayID},
		{"blank gateway id", paymentdomain.StatusPending, &blank, since, ErrMissingGatewayID},
		{"too old", paymentdomain.StatusPending, &gw, since.Add(-time.Second), ErrOutsideSweepWindow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := EnsureIntentReconcilable(tc.status, tc.gatewayID, tc.createdAt, since)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
