package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/captiva/internal/catalog/domain"
	paymentdomain "github.com/smallbiznis/captiva/internal/payment/domain"
	"github.com/smallbiznis/captiva/internal/payment/paymenttest"
	sessiondomain "github.com/smallbiznis/captiva/internal/session/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(h *paymenttest.Harness) paymentdomain.CreateIntentRequest {
	return paymentdomain.CreateIntentRequest{
		MACAddress:    paymenttest.TestMAC,
		PlanID:        snowflake.ID(h.Fixture.PlanID),
		AccessPointID: snowflake.ID(h.Fixture.AccessPointID),
	}
}

func TestCreatePaymentIntent(t *testing.T) {
	h := paymenttest.New(t)

	view, err := h.Payments.CreatePaymentIntent(context.Background(), request(h))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusAwaiting, view.Status)
	assert.Equal(t, "1 hora", view.PlanName)
	assert.Equal(t, 60, view.DurationMin)
	assert.Equal(t, int64(10000), view.AmountMills)
	assert.InDelta(t, 10.0, view.Amount, 0.0001)
	assert.Equal(t, "pix-gw-1", view.PixPayload)
	assert.Equal(t, paymenttest.Start.Add(10*time.Minute), view.ExpiresAt)

	created := h.Gateway.Created()
	require.Len(t, created, 1)
	assert.Equal(t, view.ID.String(), created[0].IdempotencyKey)
	assert.Equal(t, "WiFi - 1 hora", created[0].Description)
	assert.Equal(t, int64(10000), created[0].AmountMills)

	intent := h.Intent(t, view.ID)
	require.NotNil(t, intent.GatewayID)
	assert.Equal(t, "gw-1", *intent.GatewayID)
	assert.Equal(t, "mercadopago", intent.GatewayProvider)
	require.NotNil(t, intent.ResellerID)
	assert.Equal(t, snowflake.ID(h.Fixture.ResellerID), *intent.ResellerID)
	assert.True(t, intent.CommissionPercentage.Valid)
	assert.Equal(t, "12", intent.CommissionPercentage.Decimal.String())

	device := h.Device(t)
	assert.Equal(t, sessiondomain.StatusAwaitingPayment, device.Status)
	require.NotNil(t, device.PendingPayment)
	assert.Equal(t, view.ID, device.PendingPayment.IntentID)
}

func TestCreatePaymentIntentRejectsDuplicateOpenIntent(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()

	first, err := h.Payments.CreatePaymentIntent(ctx, request(h))
	require.NoError(t, err)

	_, err = h.Payments.CreatePaymentIntent(ctx, request(h))
	require.ErrorIs(t, err, paymentdomain.ErrPendingExists)
	assert.Len(t, h.Gateway.Created(), 1)

	h.Clock.Advance(11 * time.Minute)
	expired, deferred, err := h.Payments.ExpireStale(ctx, h.Clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, 0, deferred)
	assert.Equal(t, paymentdomain.StatusExpired, h.Intent(t, first.ID).Status)

	second, err := h.Payments.CreatePaymentIntent(ctx, request(h))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestConcurrentCreatesLeaveOneOpenIntent(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()

	// Both requests pass the open-intent lookup before either inserts, so the
	// partial unique index is what rejects the second one.
	var arrived sync.WaitGroup
	arrived.Add(2)
	h.Gateway.BeforeCreate = func() {
		arrived.Done()
		arrived.Wait()
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.Payments.CreatePaymentIntent(ctx, request(h))
		}(i)
	}
	wg.Wait()

	var created, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case assert.ErrorIs(t, err, paymentdomain.ErrPendingExists):
			rejected++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, rejected)
	assert.Len(t, h.Gateway.Created(), 2, "both requests reached the gateway")

	var open int64
	require.NoError(t, h.DB.Raw(
		`SELECT COUNT(*) FROM payment_intents WHERE status IN ('awaiting', 'pending')`,
	).Scan(&open).Error)
	assert.Equal(t, int64(1), open)
	assert.Equal(t, sessiondomain.StatusAwaitingPayment, h.Device(t).Status)
}

func TestCreatePaymentIntentGatewayFailurePersistsNothing(t *testing.T) {
	h := paymenttest.New(t)
	h.Gateway.CreateErr = paymentdomain.ErrGatewayUnavailable

	_, err := h.Payments.CreatePaymentIntent(context.Background(), request(h))
	require.ErrorIs(t, err, paymentdomain.ErrGatewayUnavailable)

	var count int64
	require.NoError(t, h.DB.Raw(`SELECT COUNT(*) FROM payment_intents`).Scan(&count).Error)
	assert.Zero(t, count)
	assert.NotEqual(t, sessiondomain.StatusAwaitingPayment, h.Device(t).Status)
}

func TestCreatePaymentIntentValidation(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()

	req := request(h)
	req.MACAddress = "not-a-mac"
	_, err := h.Payments.CreatePaymentIntent(ctx, req)
	require.ErrorIs(t, err, sessiondomain.ErrInvalidMAC)

	req = request(h)
	req.PlanID = 12345
	_, err = h.Payments.CreatePaymentIntent(ctx, req)
	require.ErrorIs(t, err, catalogdomain.ErrPlanNotFound)

	req = request(h)
	req.AccessPointID = 999
	_, err = h.Payments.CreatePaymentIntent(ctx, req)
	require.ErrorIs(t, err, catalogdomain.ErrAccessPointNotFound)

	assert.Empty(t, h.Gateway.Created())
}

func TestCreatePaymentIntentRejectsEntitledDevice(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()

	intent := h.CreateIntent(t)
	h.Gateway.SetStatus(*intent.GatewayID, "approved")
	view, err := h.Payments.CheckStatus(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.StatusApproved, view.Status)

	_, err = h.Payments.CreatePaymentIntent(ctx, request(h))
	require.ErrorIs(t, err, sessiondomain.ErrAlreadyEntitled)
}

func TestCheckStatusAppliesGatewayApproval(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()
	intent := h.CreateIntent(t)

	view, err := h.Payments.CheckStatus(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPending, view.Status)

	h.Clock.Advance(2 * time.Minute)
	h.Gateway.SetStatus(*intent.GatewayID, "approved")
	view, err = h.Payments.CheckStatus(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusApproved, view.Status)
	require.NotNil(t, view.ApprovedAt)
	assert.True(t, view.ApprovedAt.Equal(paymenttest.Start.Add(2*time.Minute)))

	// Terminal intents answer from storage.
	fetches := h.Gateway.Fetches()
	_, err = h.Payments.CheckStatus(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, fetches, h.Gateway.Fetches())

	device := h.Device(t)
	assert.Equal(t, sessiondomain.StatusEntitled, device.Status)
	assert.Equal(t, 60, device.RemainingMinutes)
}

func TestCheckStatusRateLimited(t *testing.T) {
	h := paymenttest.New(t, paymenttest.WithPollLimit(0.001, 1))
	ctx := context.Background()
	intent := h.CreateIntent(t)

	_, err := h.Payments.CheckStatus(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, 1, h.Gateway.Fetches())

	h.Gateway.SetStatus(*intent.GatewayID, "approved")
	view, err := h.Payments.CheckStatus(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Gateway.Fetches())
	assert.Equal(t, paymentdomain.StatusPending, view.Status)
}

func TestCheckStatusGatewayErrorReturnsDurableStatus(t *testing.T) {
	h := paymenttest.New(t)
	intent := h.CreateIntent(t)
	h.Gateway.FetchErr = paymentdomain.ErrGatewayUnavailable

	view, err := h.Payments.CheckStatus(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusAwaiting, view.Status)
}

func TestCheckStatusUnknownIntent(t *testing.T) {
	h := paymenttest.New(t)

	_, err := h.Payments.CheckStatus(context.Background(), 777)
	require.ErrorIs(t, err, paymentdomain.ErrIntentNotFound)
}

func TestListUnsettled(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()
	intent := h.CreateIntent(t)

	open, err := h.Payments.ListUnsettled(ctx, paymenttest.Start.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, intent.ID, open[0].ID)

	open, err = h.Payments.ListUnsettled(ctx, paymenttest.Start.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRecentSales(t *testing.T) {
	h := paymenttest.New(t)
	ctx := context.Background()
	apID := snowflake.ID(h.Fixture.AccessPointID)

	empty, err := h.Payments.RecentSales(ctx, apID, 0)
	require.NoError(t, err)
	assert.Empty(t, empty.Sales)
	assert.Zero(t, empty.TotalCount)

	intent := h.CreateIntent(t)
	h.Gateway.SetStatus(*intent.GatewayID, "approved")
	_, err = h.Payments.Reconcile(ctx, intent, paymentdomain.SourceWebhook)
	require.NoError(t, err)

	report, err := h.Payments.RecentSales(ctx, apID, 0)
	require.NoError(t, err)
	require.Len(t, report.Sales, 1)
	assert.Equal(t, intent.ID, report.Sales[0].IntentID)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", report.Sales[0].MACAddress)
	assert.Equal(t, int64(1), report.TotalCount)
	assert.Equal(t, int64(10000), report.TotalMills)
	assert.Equal(t, int64(8800), report.ResellerCut)

	_, err = h.Payments.RecentSales(ctx, 0, 0)
	require.ErrorIs(t, err, catalogdomain.ErrInvalidAccessPoint)
}
