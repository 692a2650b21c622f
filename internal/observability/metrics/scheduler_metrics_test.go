package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/captiva/internal/apperr"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  fmt.Errorf("expire_intents: %w", context.DeadlineExceeded),
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "gateway",
			err:  apperr.Gateway("gateway_unavailable"),
			want: SchedulerJobReasonGateway,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "captiva",
		Environment: "test",
	})

	metrics.AddBatchProcessed("expire_intents", "payment_intents", 3)
	metrics.AddBatchProcessed("expire_intents", "payment_intents", 0)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("expire_intents", "payment_intents"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestApplyOutcomeCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{ServiceName: "captiva", Environment: "test"})

	metrics.IncApplyOutcome("webhook", "applied")
	metrics.IncApplyOutcome("webhook", "noop")
	metrics.IncApplyOutcome("webhook", "noop")
	metrics.IncApplyInFlight("poll")

	if got := testutil.ToFloat64(metrics.applyOutcomes.WithLabelValues("webhook", "noop")); got != 2 {
		t.Fatalf("expected 2 noop outcomes, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.applyInFlight.WithLabelValues("poll")); got != 1 {
		t.Fatalf("expected 1 in-flight rejection, got %v", got)
	}
}
