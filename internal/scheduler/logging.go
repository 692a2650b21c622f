package scheduler

import (
	"context"
	"sort"
	"time"

	obscontext "github.com/smallbiznis/captiva/internal/observability/context"
	obslogger "github.com/smallbiznis/captiva/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/captiva/internal/observability/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// jobRun tallies one job execution. Nested job calls share the outer run so
// a sweep triggered from RunOnce logs a single start/finish pair.
type jobRun struct {
	job       string
	runID     string
	limit     int
	startedAt time.Time

	processed int
	skipped   int
	errors    int
	deferred  map[string]int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(n int) {
	if r != nil && n > 0 {
		r.processed += n
	}
}

// Defer records intents left for a later tick, keyed by reason.
func (r *jobRun) Defer(reason string, n int) {
	if r == nil || n <= 0 {
		return
	}
	if r.deferred == nil {
		r.deferred = map[string]int{}
	}
	r.deferred[reason] += n
}

// Skip counts rows the guard filtered out before any gateway call.
func (r *jobRun) Skip() {
	if r != nil {
		r.skipped++
	}
}

func (r *jobRun) IncError() {
	if r != nil {
		r.errors++
	}
}

func (r *jobRun) deferredTotal() int {
	total := 0
	for _, n := range r.deferred {
		total += n
	}
	return total
}

func (r *jobRun) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	reasons := make([]string, 0, len(r.deferred))
	for reason := range r.deferred {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		enc.AddInt(reason, r.deferred[reason])
	}
	return nil
}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string, limit int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing, ok := ctx.Value(jobRunKey{}).(*jobRun); ok && existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		limit:     limit,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	return ctx, run, true
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("limit", run.limit),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Duration("elapsed", s.clock.Now().Sub(run.startedAt)),
		zap.Int("processed", run.processed),
		zap.Int("skipped", run.skipped),
		zap.Int("errors", run.errors),
	}
	if run.deferredTotal() > 0 {
		fields = append(fields, zap.Object("deferred", run))
	}

	level := zapcore.InfoLevel
	if run.errors > 0 {
		level = zapcore.WarnLevel
	}
	if ce := s.logger(ctx).Check(level, "scheduler.job.finish"); ce != nil {
		ce.Write(fields...)
	}
}

func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	run.IncError()
	base := []zap.Field{
		zap.String("job", run.job),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	}
	s.logger(ctx).Error(msg, append(base, fields...)...)
}
