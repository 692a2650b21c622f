package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/captiva/internal/clock"
	obsmetrics "github.com/smallbiznis/captiva/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/captiva/internal/payment/domain"
	"github.com/smallbiznis/captiva/internal/payment/paymenttest"
	"github.com/smallbiznis/captiva/internal/payment/reconcile"
	"go.uber.org/zap"
)

const secondMAC = "AA:BB:CC:DD:EE:02"

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := useTestRegistry(t)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "captiva",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "captiva_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "captiva",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "captiva_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunOnceExpiresStaleIntentsAndSessions(t *testing.T) {
	registry := useTestRegistry(t)
	h := paymenttest.New(t)
	sched := newTestScheduler(t, h, Config{})
	ctx := context.Background()

	paid := h.CreateIntent(t)
	if _, err := h.Processor.ApplyPaymentOutcome(ctx, paid.ID, paymentdomain.Observation{
		Source: paymentdomain.SourceWebhook,
		Status: "approved",
	}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	abandoned := createFor(t, h, secondMAC)

	h.Clock.Advance(61 * time.Minute)
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if got := h.Intent(t, abandoned.ID).Status; got != paymentdomain.StatusExpired {
		t.Fatalf("expected abandoned intent expired, got %s", got)
	}
	if got := h.Intent(t, paid.ID).Status; got != paymentdomain.StatusApproved {
		t.Fatalf("expected paid intent to stay approved, got %s", got)
	}
	if got := storedAccessStatus(t, h, paymenttest.TestMAC); got != "expired" {
		t.Fatalf("expected stored session expired, got %s", got)
	}
	if got := storedAccessStatus(t, h, secondMAC); got != "unauthenticated" {
		t.Fatalf("expected released session, got %s", got)
	}

	intentLabels := map[string]string{"service": "captiva", "env": "test", "job": JobExpireIntents, "resource": "payment_intents"}
	if got := getCounterValue(t, registry, "captiva_scheduler_batch_processed_total", intentLabels); got != 1 {
		t.Fatalf("expected 1 expired intent, got %v", got)
	}
	sessionLabels := map[string]string{"service": "captiva", "env": "test", "job": JobExpireSessions, "resource": "devices"}
	if got := getCounterValue(t, registry, "captiva_scheduler_batch_processed_total", sessionLabels); got != 1 {
		t.Fatalf("expected 1 expired session, got %v", got)
	}

	// A second run finds nothing left to do.
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if got := getCounterValue(t, registry, "captiva_scheduler_batch_processed_total", intentLabels); got != 1 {
		t.Fatalf("expected expired intent count to stay 1, got %v", got)
	}
}

func TestRunOnceDefersIntentInFlight(t *testing.T) {
	registry := useTestRegistry(t)
	h := paymenttest.New(t)
	sched := newTestScheduler(t, h, Config{})
	ctx := context.Background()

	intent := h.CreateIntent(t)
	h.Clock.Advance(11 * time.Minute)

	token, ok, err := h.KeyLock.TryLock(ctx, reconcile.LockKey(intent.ID), time.Minute)
	if err != nil || !ok {
		t.Fatalf("hold lock: ok=%v err=%v", ok, err)
	}
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := h.Intent(t, intent.ID).Status; got != paymentdomain.StatusAwaiting {
		t.Fatalf("expected intent untouched while in flight, got %s", got)
	}
	deferredLabels := map[string]string{
		"service": "captiva",
		"env":     "test",
		"job":     JobExpireIntents,
		"reason":  obsmetrics.SchedulerBatchDeferredReasonInFlight,
	}
	if got := getCounterValue(t, registry, "captiva_scheduler_batch_deferred_total", deferredLabels); got != 1 {
		t.Fatalf("expected 1 deferred intent, got %v", got)
	}

	_ = h.KeyLock.Release(ctx, reconcile.LockKey(intent.ID), token)
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce after release: %v", err)
	}
	if got := h.Intent(t, intent.ID).Status; got != paymentdomain.StatusExpired {
		t.Fatalf("expected intent expired after release, got %s", got)
	}
}

func TestStartupSweepReconcilesRecentOpenIntents(t *testing.T) {
	registry := useTestRegistry(t)
	h := paymenttest.New(t)
	sched := newTestScheduler(t, h, Config{})
	ctx := context.Background()

	h.Clock.Set(paymenttest.Start.Add(-5 * time.Hour))
	old := createFor(t, h, secondMAC)
	h.Clock.Set(paymenttest.Start)
	recent := h.CreateIntent(t)

	h.Gateway.SetStatus(*old.GatewayID, "approved")
	h.Gateway.SetStatus(*recent.GatewayID, "approved")

	h.Clock.Advance(time.Minute)
	if err := sched.RunStartupSweep(ctx); err != nil {
		t.Fatalf("RunStartupSweep: %v", err)
	}

	if got := h.Intent(t, recent.ID).Status; got != paymentdomain.StatusApproved {
		t.Fatalf("expected recent intent approved, got %s", got)
	}
	if got := h.Intent(t, old.ID).Status; got != paymentdomain.StatusAwaiting {
		t.Fatalf("expected intent outside lookback untouched, got %s", got)
	}
	platform, reseller := h.Balances(t)
	if platform != 1200 || reseller != 8800 {
		t.Fatalf("expected balances 1200/8800, got %d/%d", platform, reseller)
	}

	labels := map[string]string{"service": "captiva", "env": "test", "job": JobReconcileSweep, "resource": "payment_intents"}
	if got := getCounterValue(t, registry, "captiva_scheduler_batch_processed_total", labels); got != 1 {
		t.Fatalf("expected 1 swept intent, got %v", got)
	}

	// Running the sweep again is harmless.
	if err := sched.RunStartupSweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	platform, reseller = h.Balances(t)
	if platform != 1200 || reseller != 8800 {
		t.Fatalf("expected balances unchanged, got %d/%d", platform, reseller)
	}
}

func TestStartupSweepDefersGatewayFailures(t *testing.T) {
	registry := useTestRegistry(t)
	h := paymenttest.New(t)
	sched := newTestScheduler(t, h, Config{})
	ctx := context.Background()

	intent := h.CreateIntent(t)
	h.Gateway.FetchErr = paymentdomain.ErrGatewayUnavailable

	if err := sched.RunStartupSweep(ctx); err != nil {
		t.Fatalf("RunStartupSweep: %v", err)
	}
	if got := h.Intent(t, intent.ID).Status; got != paymentdomain.StatusAwaiting {
		t.Fatalf("expected intent untouched, got %s", got)
	}
	labels := map[string]string{
		"service": "captiva",
		"env":     "test",
		"job":     JobReconcileSweep,
		"reason":  obsmetrics.SchedulerBatchDeferredReasonGateway,
	}
	if got := getCounterValue(t, registry, "captiva_scheduler_batch_deferred_total", labels); got != 1 {
		t.Fatalf("expected 1 gateway deferral, got %v", got)
	}
}

func TestDisabledJobsAreSkipped(t *testing.T) {
	useTestRegistry(t)
	h := paymenttest.New(t)
	sched := newTestScheduler(t, h, Config{EnabledJobs: []string{JobExpireSessions}})
	ctx := context.Background()

	intent := h.CreateIntent(t)
	h.Clock.Advance(time.Hour)
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if err := sched.RunStartupSweep(ctx); err != nil {
		t.Fatalf("RunStartupSweep: %v", err)
	}
	if got := h.Intent(t, intent.ID).Status; got != paymentdomain.StatusAwaiting {
		t.Fatalf("expected intent untouched, got %s", got)
	}
	if got := h.Gateway.Fetches(); got != 0 {
		t.Fatalf("expected no gateway calls, got %d", got)
	}
}

func newTestScheduler(t *testing.T, h *paymenttest.Harness, cfg Config) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	cfg.SweepRate = 1000
	cfg.SweepBurst = 10
	sched, err := New(Params{
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      h.Clock,
		PaymentSvc: h.Payments,
		SessionSvc: h.Sessions,
		Config:     cfg,
	})
	if err != nil {
		t.Fatalf("New scheduler: %v", err)
	}
	return sched
}

func createFor(t *testing.T, h *paymenttest.Harness, mac string) *paymentdomain.PaymentIntent {
	t.Helper()
	view, err := h.Payments.CreatePaymentIntent(context.Background(), paymentdomain.CreateIntentRequest{
		MACAddress:    mac,
		PlanID:        snowflake.ID(h.Fixture.PlanID),
		AccessPointID: snowflake.ID(h.Fixture.AccessPointID),
	})
	if err != nil {
		t.Fatalf("create intent for %s: %v", mac, err)
	}
	return h.Intent(t, view.ID)
}

func storedAccessStatus(t *testing.T, h *paymenttest.Harness, mac string) string {
	t.Helper()
	var status string
	if err := h.DB.Raw(
		`SELECT access_status FROM devices WHERE mac_address = ? AND access_point_id = ?`,
		strings.ToLower(mac), h.Fixture.AccessPointID,
	).Scan(&status).Error; err != nil {
		t.Fatalf("load access status: %v", err)
	}
	return status
}

func useTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "captiva",
		Environment: "test",
	})
	return registry
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
