package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/captiva/internal/config"
	"github.com/smallbiznis/captiva/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// Dispatcher runs callback work in the background after a short delay, so the
// gateway sees its acknowledgement before the status is re-fetched. Jobs
// still waiting when the dispatcher stops are dropped; the startup sweep
// picks their intents up again.
type Dispatcher struct {
	delay    time.Duration
	deadline time.Duration
	log      *zap.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

func NewDispatcher(cfg config.Config, log *zap.Logger) *Dispatcher {
	deadline := cfg.Reconcile.WebhookDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	delay := cfg.Reconcile.WebhookDelay
	if delay < 0 {
		delay = 0
	}
	return &Dispatcher{
		delay:    delay,
		deadline: deadline,
		log:      log.Named("payment.webhook.dispatcher"),
		stop:     make(chan struct{}),
	}
}

// Dispatch schedules fn. fn receives a context that keeps the request's
// correlation and trace identifiers but not its cancellation.
func (d *Dispatcher) Dispatch(parent context.Context, name string, fn func(ctx context.Context)) {
	select {
	case <-d.stop:
		d.log.Warn("dispatcher stopped, job dropped", zap.String("job", name))
		return
	default:
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if d.delay > 0 {
			timer := time.NewTimer(d.delay)
			select {
			case <-timer.C:
			case <-d.stop:
				timer.Stop()
				d.log.Info("dispatcher stopped before job ran", zap.String("job", name))
				return
			}
		}

		ctx, cancel := context.WithTimeout(correlation.Detach(parent), d.deadline)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("webhook job panicked", zap.String("job", name), zap.Any("panic", r))
			}
		}()
		fn(ctx)
	}()
}

// Wait blocks until every dispatched job has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.stop) })
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
