package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/captiva/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestJobRunFinishReportsDeferredByReason(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	s := &Scheduler{log: zap.New(core), genID: node, clock: clk}

	ctx, run, owner := s.ensureJobRun(context.Background(), JobReconcileSweep, 50)
	require.True(t, owner)

	_, nested, nestedOwner := s.ensureJobRun(ctx, JobReconcileSweep, 50)
	assert.False(t, nestedOwner)
	assert.Same(t, run, nested)

	run.AddProcessed(3)
	run.Skip()
	run.Defer("in_flight", 2)
	run.Defer("gateway", 1)
	run.Defer("gateway", 0)
	s.logSchedulerError(ctx, run, "scheduler.sweep.reconcile.failed", errors.New("boom"))
	clk.Advance(1500 * time.Millisecond)
	s.logJobFinish(ctx, run)

	finish := logs.FilterMessage("scheduler.job.finish").All()
	require.Len(t, finish, 1)
	assert.Equal(t, zapcore.WarnLevel, finish[0].Level)

	fields := finish[0].ContextMap()
	assert.EqualValues(t, 3, fields["processed"])
	assert.EqualValues(t, 1, fields["skipped"])
	assert.EqualValues(t, 1, fields["errors"])
	assert.Equal(t, 1500*time.Millisecond, fields["elapsed"])
	assert.Equal(t, map[string]interface{}{"gateway": 1, "in_flight": 2}, fields["deferred"])
}
