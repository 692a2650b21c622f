// Package reconcile applies gateway observations to payment intents. Every
// path that learns about a payment status (webhook, client poll, startup
// sweep, expiry) goes through Processor.ApplyPaymentOutcome.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/captiva/internal/clock"
	"github.com/smallbiznis/captiva/internal/commission"
	"github.com/smallbiznis/captiva/internal/config"
	ledgerdomain "github.com/smallbiznis/captiva/internal/ledger/domain"
	"github.com/smallbiznis/captiva/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/captiva/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/captiva/internal/payment/domain"
	"github.com/smallbiznis/captiva/internal/ratelimit"
	sessiondomain "github.com/smallbiznis/captiva/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const lockKeyPrefix = "captiva:reconcile:intent:"

type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeReversed Outcome = "reversed"
	OutcomeRecorded Outcome = "recorded"
	OutcomeTerminal Outcome = "terminal_noop"
	OutcomeInFlight Outcome = "in_flight"
	OutcomeFailed   Outcome = "failed"
)

type Result struct {
	IntentID snowflake.ID
	Previous paymentdomain.Status
	Status   paymentdomain.Status
	Outcome  Outcome
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Cfg        config.Config
	Policy     *config.PolicyHolder `optional:"true"`
	Repo       paymentdomain.Repository
	LedgerSvc  ledgerdomain.Service
	SessionSvc sessiondomain.Service
	KeyLock    *KeyLock
	RedisLock  *ratelimit.Locker   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Processor struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	policy      *config.PolicyHolder
	repo        paymentdomain.Repository
	ledgerSvc   ledgerdomain.Service
	sessionSvc  sessiondomain.Service
	local       Locker
	distributed Locker
	lockTTL     time.Duration
	obsMetrics  *obsmetrics.Metrics
}

func NewProcessor(p Params) *Processor {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	ttl := p.Cfg.Reconcile.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	local := p.KeyLock
	if local == nil {
		local = NewKeyLock(clk)
	}

	proc := &Processor{
		db:         p.DB,
		log:        p.Log.Named("payment.processor"),
		clock:      clk,
		policy:     p.Policy,
		repo:       p.Repo,
		ledgerSvc:  p.LedgerSvc,
		sessionSvc: p.SessionSvc,
		local:      local,
		lockTTL:    ttl,
		obsMetrics: p.ObsMetrics,
	}
	if p.RedisLock != nil {
		proc.distributed = p.RedisLock
	}
	return proc
}

// ApplyPaymentOutcome moves an intent according to one gateway observation.
// It is idempotent: the intent's durable status is re-read under a row lock,
// and a terminal intent is never changed except for the reversal of an
// approved one. Concurrent callers for the same intent get
// ErrProcessingInFlight.
func (p *Processor) ApplyPaymentOutcome(ctx context.Context, intentID snowflake.ID, obs paymentdomain.Observation) (Result, error) {
	if intentID == 0 {
		return Result{}, paymentdomain.ErrInvalidIntent
	}
	if obs.Source == "" {
		obs.Source = paymentdomain.SourcePoll
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = p.clock.Now()
	}
	log := logger.WithIntent(logger.WithContext(ctx, p.log), intentID.String(), "").With(
		zap.String("source", string(obs.Source)),
		zap.String("observed_status", obs.Status),
	)

	target, err := paymentdomain.MapGatewayStatus(obs.Status)
	if err != nil {
		log.Warn("unknown gateway status ignored", zap.String("status_detail", obs.Detail))
		p.record(ctx, obs.Source, "", OutcomeFailed)
		return Result{IntentID: intentID, Outcome: OutcomeFailed}, err
	}

	release, err := p.acquire(ctx, intentID, log)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrProcessingInFlight) {
			obsmetrics.Scheduler().IncApplyInFlight(string(obs.Source))
			log.Debug("payment already being processed")
			return Result{IntentID: intentID, Outcome: OutcomeInFlight}, err
		}
		return Result{IntentID: intentID, Outcome: OutcomeFailed}, err
	}
	defer release()

	txCtx, cancel := context.WithTimeout(ctx, p.lockTTL)
	defer cancel()

	var result Result
	err = p.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		started := time.Now()
		intent, err := p.repo.GetForUpdate(txCtx, tx, intentID)
		obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourcePaymentIntentByID, time.Since(started))
		if err != nil {
			return err
		}
		if intent == nil {
			return paymentdomain.ErrIntentNotFound
		}
		result, err = p.apply(txCtx, tx, intent, target, obs)
		return err
	})
	if err != nil {
		log.Error("apply payment outcome failed", zap.Error(err))
		p.record(ctx, obs.Source, target, OutcomeFailed)
		return Result{IntentID: intentID, Outcome: OutcomeFailed}, err
	}

	p.record(ctx, obs.Source, result.Status, result.Outcome)
	switch result.Outcome {
	case OutcomeApplied, OutcomeReversed:
		log.Info("payment outcome applied",
			zap.String("previous_status", string(result.Previous)),
			zap.String("status", string(result.Status)),
			zap.String("outcome", string(result.Outcome)),
		)
	default:
		log.Debug("payment outcome unchanged",
			zap.String("status", string(result.Status)),
			zap.String("outcome", string(result.Outcome)),
		)
	}
	return result, nil
}

func (p *Processor) apply(
	ctx context.Context,
	tx *gorm.DB,
	intent *paymentdomain.PaymentIntent,
	target paymentdomain.Status,
	obs paymentdomain.Observation,
) (Result, error) {
	now := p.clock.Now()
	result := Result{IntentID: intent.ID, Previous: intent.Status, Status: intent.Status}

	observation, err := json.Marshal(obs)
	if err != nil {
		return result, err
	}
	update := paymentdomain.OutcomeUpdate{
		IntentID:     intent.ID,
		Status:       target,
		StatusDetail: obs.Detail,
		Observation:  datatypes.JSON(observation),
		UpdatedAt:    now,
	}

	switch {
	case intent.Status == paymentdomain.StatusApproved && target.Reversal():
		if _, err := p.ledgerSvc.Reverse(ctx, tx, intent.ID); err != nil {
			return result, err
		}
		if _, err := p.sessionSvc.RevokeForIntent(ctx, tx, intent.DeviceID, intent.ID, now); err != nil {
			return result, err
		}
		result.Outcome = OutcomeReversed

	case intent.Status.Terminal():
		result.Outcome = OutcomeTerminal
		return result, nil

	case target == intent.Status:
		result.Outcome = OutcomeRecorded

	case target == paymentdomain.StatusApproved:
		if err := p.approve(ctx, tx, intent, obs, &update, now); err != nil {
			return result, err
		}
		result.Outcome = OutcomeApplied

	case target == paymentdomain.StatusPending:
		result.Outcome = OutcomeApplied

	default:
		if err := p.sessionSvc.ReleaseAwaiting(ctx, tx, intent.DeviceID, intent.ID, now); err != nil {
			return result, err
		}
		result.Outcome = OutcomeApplied
	}

	if err := p.repo.UpdateOutcome(ctx, tx, update); err != nil {
		return result, err
	}
	result.Status = target
	return result, nil
}

// approve credits the split of the snapshotted amount and opens the
// entitlement window, all inside the caller's transaction.
func (p *Processor) approve(
	ctx context.Context,
	tx *gorm.DB,
	intent *paymentdomain.PaymentIntent,
	obs paymentdomain.Observation,
	update *paymentdomain.OutcomeUpdate,
	now time.Time,
) error {
	if obs.AmountMills > 0 && obs.AmountMills != intent.Plan.AmountMills {
		p.log.Warn("gateway amount differs from snapshot",
			zap.String("payment_intent_id", intent.ID.String()),
			zap.Int64("snapshot_mills", intent.Plan.AmountMills),
			zap.Int64("observed_mills", obs.AmountMills),
		)
	}

	split, err := commission.ComputeWithDefault(
		commission.FromMills(intent.Plan.AmountMills),
		intent.CommissionPercentage,
		p.defaultPercentage(),
	)
	if err != nil {
		return err
	}
	platform := split.PlatformMills()
	reseller := split.ResellerMills()

	if _, err := p.ledgerSvc.Credit(ctx, tx, ledgerdomain.Posting{
		PaymentIntentID: intent.ID,
		ResellerID:      intent.ResellerID,
		PlatformMills:   platform,
		ResellerMills:   reseller,
	}); err != nil {
		return err
	}

	if err := p.sessionSvc.Entitle(ctx, tx, sessiondomain.Entitlement{
		DeviceID:    intent.DeviceID,
		IntentID:    intent.ID,
		Duration:    intent.Plan.Duration(),
		PlanName:    intent.Plan.Name,
		AmountMills: intent.Plan.AmountMills,
	}, now); err != nil {
		return err
	}

	update.PlatformShareMills = &platform
	update.ResellerShareMills = &reseller
	update.ApprovedAt = &now
	return nil
}

func (p *Processor) acquire(ctx context.Context, intentID snowflake.ID, log *zap.Logger) (func(), error) {
	key := LockKey(intentID)

	token, ok, err := p.local.TryLock(ctx, key, p.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, paymentdomain.ErrProcessingInFlight
	}
	releaseLocal := func() { _ = p.local.Release(context.WithoutCancel(ctx), key, token) }

	if p.distributed == nil {
		return releaseLocal, nil
	}

	remoteToken, ok, err := p.distributed.TryLock(ctx, key, p.lockTTL)
	if err != nil {
		// Row locks still serialize writers across instances.
		log.Warn("distributed lock unavailable", zap.Error(err))
		return releaseLocal, nil
	}
	if !ok {
		releaseLocal()
		return nil, paymentdomain.ErrProcessingInFlight
	}
	return func() {
		err := p.distributed.Release(context.WithoutCancel(ctx), key, remoteToken)
		switch {
		case errors.Is(err, ratelimit.ErrLeaseLost):
			log.Warn("distributed lease expired before release", zap.Duration("ttl", p.lockTTL))
		case err != nil:
			log.Warn("distributed lock release failed", zap.Error(err))
		}
		releaseLocal()
	}, nil
}

// LockKey is the lease key guarding one intent.
func LockKey(intentID snowflake.ID) string {
	return lockKeyPrefix + intentID.String()
}

func (p *Processor) defaultPercentage() decimal.Decimal {
	return decimal.NewFromFloat(p.policy.Get().DefaultCommissionPercentage)
}

func (p *Processor) record(ctx context.Context, source paymentdomain.Source, status paymentdomain.Status, outcome Outcome) {
	p.obsMetrics.RecordPaymentOutcome(ctx, string(source), string(status), string(outcome))
	obsmetrics.Scheduler().IncApplyOutcome(string(source), string(outcome))
}
