package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/captiva/internal/payment/domain"
	"github.com/smallbiznis/captiva/internal/payment/paymenttest"
	"github.com/smallbiznis/captiva/internal/payment/reconcile"
	sessiondomain "github.com/smallbiznis/captiva/internal/session/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observe(status string) paymentdomain.Observation {
	return paymentdomain.Observation{
		Source:      paymentdomain.SourceWebhook,
		Status:      status,
		Detail:      "accredited",
		AmountMills: 10000,
	}
}

func TestApproveCreditsOnceUnderConcurrency(t *testing.T) {
	h := paymenttest.New(t)
	intent := h.CreateIntent(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		applied  int
		inFlight int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := h.Processor.ApplyPaymentOutcome(ctx, intent.ID, observe("approved"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, paymentdomain.ErrProcessingInFlight):
				inFlight++
			case err != nil:
				t.Errorf("apply: %v", err)
			case result.Outcome == reconcile.OutcomeApplied:
				applied++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(1), h.LedgerEntries(t, intent.ID))

	platform, reseller := h.Balances(t)
	assert.Equal(t, int64(1200), platform)
	assert.Equal(t, int64(8800), reseller)

	stored := h.Intent(t, intent.ID)
	assert.Equal(t, paymentdomain.StatusApproved, stored.Status)
	require.NotNil(t, stored.PlatformShareMills)
	require.NotNil(t, stored.ResellerShareMills)
	assert.Equal(t, int64(1200), *stored.PlatformShareMills)
	assert.Equal(t, int64(8800), *stored.ResellerShareMills)
	require.NotNil(t, stored.ApprovedAt)

	device := h.Device(t)
	assert.Equal(t, sessiondomain.StatusEntitled, device.Status)
	assert.Equal(t, 60, device.RemainingMinutes)
}

func TestRepeatedApprovalIsRecordedOnly(t *testing.T) {
	h := paymenttest.New(t)
	intent := h.CreateIntent(t)
	ctx := context.Background()

	first, err := h.Processor.ApplyPaymentOutcome(ctx, intent.ID, observe("approved"))
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeApplied, first.Outcome)
	assert.Equal(t, paymentdomain.StatusAwaiting, first.Previous)

	h.Clock.Advance(time.Minute)
	second, err := h.Processor.ApplyPaymentOutcome(ctx, intent.ID, observe("approved"))
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeTerminal, second.Outcome)

	platform, reseller := h.Balances(t)
	assert.Equal(t, int64(1200), platform)
	assert.Equal(t, int64(8800), reseller)
}

func TestRefundReversesExactly(t *testing.T) {
	h := paymenttest.New(t)
	intent := h.CreateIntent(t)
	ctx := context.Background()

	_, err := h.Processor.ApplyPaymentOutcome(ctx, intent.ID, observe("approved"))
	require.NoError(t, err)

	h.Clock.Advance(10 * time.Minute)
	result, err := h.Processor.ApplyPaymentOutcome(ctx, intent.ID, observe("refunded"))
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeReversed, result.Outcome)
	assert.Equal(t, paymentdomain.StatusRefunded, result.Status)

	platform, reseller := h.Balances(t)
	assert.Equal(t, int64(0), platform)
	assert.Equal(t, int64(0), reseller)
	assert.Equal(t, int64(2), h.LedgerEntries(t, intent.ID))

	device := h.Device(t)
	assert.Equal(t, sessiondomain.StatusRevoked, device.Status)
	assert.Equal(t, 0, device.RemainingMinutes)

	// A chargeback after the refund finds a terminal intent.
	again, err := h.Processor.ApplyPaymentOutcome(ctx, intent.ID, observe("charged_back"))
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeTerminal, again.Outcome)
	platform, reseller = h.Balances(t)
	assert.Equal(t, int64(0), platform)
	assert.Equal(t, int64(0), reseller)
}

func TestRejectionReleasesAwaitingSession(t *testing.T) {
	h := paymenttest.New(t)
	intent := h.CreateIntent(t)
	require.Equal(t, sessiondomain.StatusAwaitingPayment, h.Device(t).Status)

	result, err := h.Processor.ApplyPaymentOutcome(context.Background(), intent.ID, observe("rejected"))
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeApplied, result.Outcome)
	assert.Equal(t, paymentdomain.StatusRejected, h.Intent(t, intent.ID).Status)
	assert.Equal(t, sessiondomain.StatusUnauthenticated, h.Device(t).Status)
	assert.Equal(t, int64(0), h.LedgerEntries(t, intent.ID))
}

func TestTerminalIntentIgnoresLateApproval(t *testing.T) {
	h := paymenttest.New(t)
	intent := h.CreateIntent(t)
	ctx := context.Background()

	_, err := h.Processor.ApplyPaymentOutcome(ctx, intent.ID, observe("cancelled"))
	require.NoError(t, err)

	result, err := h.Processor.ApplyPaymentOutcome(ctx, intent.ID, observe("approved"))
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeTerminal, result.Outcome)
	assert.Equal(t, paymentdomain.StatusCancelled, result.Status)

	platform, reseller := h.Balances(t)
	assert.Zero(t, platform)
	assert.Zero(t, reseller)
	assert.NotEqual(t, sessiondomain.StatusEntitled, h.Device(t).Status)
}

func TestPendingObservationKeepsIntentOpen(t *testing.T) {
	h := paymenttest.New(t)
	intent := h.CreateIntent(t)
	ctx := context.Background()

	result, err := h.Processor.ApplyPaymentOutcome(ctx, intent.ID, observe("in_process"))
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeApplied, result.Outcome)
	assert.Equal(t, paymentdomain.StatusPending, result.Status)

	result, err = h.Processor.ApplyPaymentOutcome(ctx, intent.ID, observe("pending"))
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeRecorded, result.Outcome)

	assert.Equal(t, sessiondomain.StatusAwaitingPayment, h.Device(t).Status)
}

func TestUnknownStatusLeavesIntentUntouched(t *testing.T) {
	h := paymenttest.New(t)
	intent := h.CreateIntent(t)

	_, err := h.Processor.ApplyPaymentOutcome(context.Background(), intent.ID, observe("teleported"))
	require.ErrorIs(t, err, paymentdomain.ErrUnknownStatus)
	assert.Equal(t, paymentdomain.StatusAwaiting, h.Intent(t, intent.ID).Status)
}

func TestMissingIntent(t *testing.T) {
	h := paymenttest.New(t)

	_, err := h.Processor.ApplyPaymentOutcome(context.Background(), 4242, observe("approved"))
	require.ErrorIs(t, err, paymentdomain.ErrIntentNotFound)

	_, err = h.Processor.ApplyPaymentOutcome(context.Background(), 0, observe("approved"))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidIntent)
}

func TestHeldLeaseReportsInFlight(t *testing.T) {
	h := paymenttest.New(t)
	intent := h.CreateIntent(t)
	ctx := context.Background()

	token, ok, err := h.KeyLock.TryLock(ctx, reconcile.LockKey(intent.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := h.Processor.ApplyPaymentOutcome(ctx, intent.ID, observe("approved"))
	require.ErrorIs(t, err, paymentdomain.ErrProcessingInFlight)
	assert.Equal(t, reconcile.OutcomeInFlight, result.Outcome)
	assert.Equal(t, paymentdomain.StatusAwaiting, h.Intent(t, intent.ID).Status)

	require.NoError(t, h.KeyLock.Release(ctx, reconcile.LockKey(intent.ID), token))
	result, err = h.Processor.ApplyPaymentOutcome(ctx, intent.ID, observe("approved"))
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeApplied, result.Outcome)
}

func TestExpirySweepNeverUndoesApproval(t *testing.T) {
	h := paymenttest.New(t)
	intent := h.CreateIntent(t)
	ctx := context.Background()

	h.Clock.Advance(11 * time.Minute)

	// The sweep loses the race while a webhook holds the intent.
	token, ok, err := h.KeyLock.TryLock(ctx, reconcile.LockKey(intent.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	expired, deferred, err := h.Payments.ExpireStale(ctx, h.Clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
	assert.Equal(t, 1, deferred)
	require.NoError(t, h.KeyLock.Release(ctx, reconcile.LockKey(intent.ID), token))

	_, err = h.Processor.ApplyPaymentOutcome(ctx, intent.ID, observe("approved"))
	require.NoError(t, err)

	// Once approved the intent is no longer a sweep candidate.
	expired, deferred, err = h.Payments.ExpireStale(ctx, h.Clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
	assert.Equal(t, 0, deferred)

	result, err := h.Processor.ApplyPaymentOutcome(ctx, intent.ID, paymentdomain.Observation{
		Source: paymentdomain.SourceExpiry,
		Status: string(paymentdomain.StatusExpired),
	})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeTerminal, result.Outcome)
	assert.Equal(t, paymentdomain.StatusApproved, h.Intent(t, intent.ID).Status)
	assert.Equal(t, sessiondomain.StatusEntitled, h.Device(t).Status)
}
