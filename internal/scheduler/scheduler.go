package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/captiva/internal/clock"
	obsmetrics "github.com/smallbiznis/captiva/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/captiva/internal/payment/domain"
	paymentservice "github.com/smallbiznis/captiva/internal/payment/service"
	"github.com/smallbiznis/captiva/internal/scheduler/guard"
	sessiondomain "github.com/smallbiznis/captiva/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	JobExpireIntents  = "expire_intents"
	JobExpireSessions = "expire_sessions"
	JobReconcileSweep = "reconcile_sweep"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	PaymentSvc *paymentservice.Service
	SessionSvc sessiondomain.Service
	Config     Config `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	paymentSvc *paymentservice.Service
	sessionSvc sessiondomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.PaymentSvc == nil || p.SessionSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		paymentSvc: p.PaymentSvc,
		sessionSvc: p.SessionSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errors == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A timed out batch resumes on the next tick.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs the periodic sweeps: stale payment intents first, then
// sessions whose entitlement window has closed.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobExpireIntents, s.ExpireIntentsJob},
		{JobExpireSessions, s.ExpireSessionsJob},
	}
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

// RunStartupSweep re-drives reconciliation once for intents left open by a
// previous process, covering webhooks that were missed while it was down.
func (s *Scheduler) RunStartupSweep(parent context.Context) error {
	if !s.isJobEnabled(JobReconcileSweep) {
		return nil
	}
	return s.runJob(parent, JobReconcileSweep, s.cfg.SweepLimit, s.cfg.SweepTimeout, s.ReconcileSweepJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ExpireIntentsJob expires awaiting and pending intents past the grace
// window. Batches repeat while they come back full; an intent held by a
// concurrent reconciliation is left for the next tick.
func (s *Scheduler) ExpireIntentsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobExpireIntents, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()
	now := s.clock.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		expired, deferred, err := s.paymentSvc.ExpireStale(ctx, now, s.cfg.BatchSize)
		run.AddProcessed(expired)
		run.Defer(obsmetrics.SchedulerBatchDeferredReasonInFlight, deferred)
		schedMetrics.AddBatchProcessed(JobExpireIntents, "payment_intents", expired)
		for i := 0; i < deferred; i++ {
			schedMetrics.IncBatchDeferred(JobExpireIntents, obsmetrics.SchedulerBatchDeferredReasonInFlight)
		}
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.intent.expire.failed", err)
			return err
		}
		if expired < s.cfg.BatchSize {
			return nil
		}
	}
}

// ExpireSessionsJob closes sessions whose entitlement window has passed,
// whether or not the device is still seen by its access point.
func (s *Scheduler) ExpireSessionsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobExpireSessions, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		expired, err := s.sessionSvc.ExpireDue(ctx, now, s.cfg.BatchSize)
		run.AddProcessed(expired)
		obsmetrics.Scheduler().AddBatchProcessed(JobExpireSessions, "devices", expired)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.session.expire.failed", err)
			return err
		}
		if expired < s.cfg.BatchSize {
			return nil
		}
	}
}

// ReconcileSweepJob fetches the gateway status of every open intent created
// inside the lookback window and applies it, paced so a large backlog does
// not trip the gateway's rate limits. Failures are left for the webhook and
// poll paths.
func (s *Scheduler) ReconcileSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReconcileSweep, s.cfg.SweepLimit)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()
	since := s.clock.Now().Add(-s.cfg.SweepLookback)

	intents, err := s.paymentSvc.ListUnsettled(ctx, since, s.cfg.SweepLimit)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.sweep.list.failed", err)
		return err
	}
	if len(intents) >= s.cfg.SweepLimit {
		s.logger(ctx).Warn("startup sweep truncated", zap.Int("limit", s.cfg.SweepLimit))
	}

	limiter := rate.NewLimiter(rate.Limit(s.cfg.SweepRate), s.cfg.SweepBurst)
	for i := range intents {
		intent := &intents[i]
		if err := guard.EnsureIntentReconcilable(intent.Status, intent.GatewayID, intent.CreatedAt, since); err != nil {
			run.Skip()
			continue
		}

		waitStart := time.Now()
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		schedMetrics.ObserveSweepPacingWait(time.Since(waitStart))

		result, err := s.paymentSvc.Reconcile(ctx, intent, paymentdomain.SourceSweep)
		switch {
		case errors.Is(err, paymentdomain.ErrProcessingInFlight):
			run.Defer(obsmetrics.SchedulerBatchDeferredReasonInFlight, 1)
			schedMetrics.IncBatchDeferred(JobReconcileSweep, obsmetrics.SchedulerBatchDeferredReasonInFlight)
		case errors.Is(err, paymentdomain.ErrGatewayUnavailable), errors.Is(err, paymentdomain.ErrGatewayNotFound):
			run.Defer(obsmetrics.SchedulerBatchDeferredReasonGateway, 1)
			schedMetrics.IncBatchDeferred(JobReconcileSweep, obsmetrics.SchedulerBatchDeferredReasonGateway)
		case err != nil:
			s.logSchedulerError(ctx, run, "scheduler.sweep.reconcile.failed", err,
				zap.String("payment_intent_id", intent.ID.String()),
			)
		default:
			run.AddProcessed(1)
			schedMetrics.AddBatchProcessed(JobReconcileSweep, "payment_intents", 1)
			s.logger(ctx).Debug("scheduler.sweep.reconciled",
				zap.String("payment_intent_id", intent.ID.String()),
				zap.String("status", string(result.Status)),
				zap.String("outcome", string(result.Outcome)),
			)
		}
	}
	return nil
}
