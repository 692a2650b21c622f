package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/captiva/internal/catalog/domain"
	"github.com/smallbiznis/captiva/internal/clock"
	"github.com/smallbiznis/captiva/internal/commission"
	"github.com/smallbiznis/captiva/internal/config"
	"github.com/smallbiznis/captiva/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/captiva/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/captiva/internal/payment/domain"
	"github.com/smallbiznis/captiva/internal/payment/reconcile"
	"github.com/smallbiznis/captiva/internal/ratelimit"
	sessiondomain "github.com/smallbiznis/captiva/internal/session/domain"
	"github.com/smallbiznis/captiva/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxRecentSales = 100

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         config.Config
	Policy      *config.PolicyHolder `optional:"true"`
	Repo        paymentdomain.Repository
	Gateway     paymentdomain.Gateway
	Processor   *reconcile.Processor
	CatalogSvc  catalogdomain.Service
	SessionSvc  sessiondomain.Service
	PollLimiter *ratelimit.StatusPollLimiter `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics          `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.Config
	policy      *config.PolicyHolder
	repo        paymentdomain.Repository
	gateway     paymentdomain.Gateway
	processor   *reconcile.Processor
	catalogSvc  catalogdomain.Service
	sessionSvc  sessiondomain.Service
	pollLimiter *ratelimit.StatusPollLimiter
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       clk,
		cfg:         p.Cfg,
		policy:      p.Policy,
		repo:        p.Repo,
		gateway:     p.Gateway,
		processor:   p.Processor,
		catalogSvc:  p.CatalogSvc,
		sessionSvc:  p.SessionSvc,
		pollLimiter: p.PollLimiter,
		obsMetrics:  p.ObsMetrics,
	}
}

// CreatePaymentIntent opens a pix purchase of a plan for a device. At most
// one awaiting or pending intent may exist per (device, plan, access point);
// a second request fails with ErrPendingExists. Nothing is persisted when the
// gateway call fails.
func (s *Service) CreatePaymentIntent(ctx context.Context, req paymentdomain.CreateIntentRequest) (*paymentdomain.IntentView, error) {
	mac, err := sessiondomain.NormalizeMAC(req.MACAddress)
	if err != nil {
		return nil, err
	}
	ap, err := s.catalogSvc.GetAccessPoint(ctx, req.AccessPointID)
	if err != nil {
		return nil, err
	}
	if !ap.Active {
		return nil, catalogdomain.ErrAccessPointInactive
	}
	plan, err := s.catalogSvc.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.AccessPointID != ap.ID {
		return nil, catalogdomain.ErrPlanNotFound
	}
	if plan.PriceMills <= 0 || plan.DurationMinutes <= 0 {
		return nil, paymentdomain.ErrInvalidIntent
	}
	maxMills := commission.ToMills(decimal.NewFromFloat(s.policy.Get().MaxIntentAmount))
	if plan.PriceMills > maxMills {
		return nil, paymentdomain.ErrAmountAboveLimit
	}

	now := s.clock.Now()
	var device *sessiondomain.Device
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		device, err = s.sessionSvc.EnsureDevice(ctx, tx, mac, ap.ID, now)
		if err != nil {
			return err
		}
		switch device.Session().Evaluate(now).Status {
		case sessiondomain.StatusEntitled, sessiondomain.StatusAuthenticated:
			return sessiondomain.ErrAlreadyEntitled
		}
		open, err := s.repo.FindOpen(ctx, tx, device.ID, plan.ID, ap.ID)
		if err != nil {
			return err
		}
		if open != nil {
			return paymentdomain.ErrPendingExists
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	intentID := s.genID.Generate()
	log := logger.WithIntent(logger.WithContext(ctx, s.log), intentID.String(), "")
	created, err := s.gateway.CreateIntent(ctx, paymentdomain.GatewayCreateRequest{
		IdempotencyKey: intentID.String(),
		AmountMills:    plan.PriceMills,
		Description:    "WiFi - " + strings.TrimSpace(plan.Name),
		CallbackURL:    s.cfg.WebhookURL(),
		PayerEmail:     s.cfg.Gateway.PayerEmail,
	})
	if err != nil {
		log.Warn("gateway intent creation failed", zap.Error(err))
		return nil, err
	}

	gatewayID := created.GatewayID
	intent := &paymentdomain.PaymentIntent{
		ID:            intentID,
		DeviceID:      device.ID,
		AccessPointID: ap.ID,
		ResellerID:    ap.ResellerID,
		Plan: paymentdomain.PlanSnapshot{
			PlanID:          plan.ID,
			Name:            plan.Name,
			DurationMinutes: plan.DurationMinutes,
			AmountMills:     plan.PriceMills,
		},
		CommissionPercentage: ap.CommissionPercentage,
		GatewayProvider:      s.gateway.Provider(),
		GatewayID:            &gatewayID,
		Status:               paymentdomain.StatusAwaiting,
		PixPayload:           created.PixPayload,
		PixQRBase64:          created.PixQRBase64,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, intent); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return paymentdomain.ErrPendingExists
			}
			return err
		}
		return s.sessionSvc.MarkAwaiting(ctx, tx, device.ID, now)
	})
	if err != nil {
		// The gateway payment stays unpaid and expires on the provider side.
		log.Warn("payment intent not persisted",
			zap.String("gateway_id", gatewayID),
			zap.Error(err),
		)
		return nil, err
	}

	s.obsMetrics.RecordIntentCreated(ctx, intent.GatewayProvider)
	log.Info("payment intent created",
		zap.String("gateway_id", gatewayID),
		zap.String("device_id", device.ID.String()),
		zap.String("plan_id", plan.ID.String()),
		zap.Int64("amount_mills", plan.PriceMills),
	)
	return s.view(intent), nil
}

// CheckStatus is the client poll. It asks the gateway for the current status
// when the intent is still open and the per-intent rate allows it, and always
// answers with the durable status.
func (s *Service) CheckStatus(ctx context.Context, id snowflake.ID) (*paymentdomain.IntentView, error) {
	intent, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.Status.Terminal() || intent.GatewayID == nil {
		return s.view(intent), nil
	}
	if !s.pollLimiter.Allow(ctx, id.String()) {
		s.obsMetrics.RecordRateLimitDenied(ctx, "status_poll", "intent")
		return s.view(intent), nil
	}

	if _, err := s.Reconcile(ctx, intent, paymentdomain.SourcePoll); err != nil {
		return s.view(intent), nil
	}
	return s.GetIntent(ctx, id)
}

func (s *Service) GetIntent(ctx context.Context, id snowflake.ID) (*paymentdomain.IntentView, error) {
	intent, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(intent), nil
}

// FindByGatewayID resolves a gateway callback to its intent. A nil intent
// means the gateway payment is not ours.
func (s *Service) FindByGatewayID(ctx context.Context, provider, gatewayID string) (*paymentdomain.PaymentIntent, error) {
	return s.repo.FindByGatewayID(ctx, s.db, strings.ToLower(strings.TrimSpace(provider)), strings.TrimSpace(gatewayID))
}

// Reconcile fetches the gateway status of intent and applies it. Gateway
// failures leave the intent untouched for the next path to retry.
func (s *Service) Reconcile(ctx context.Context, intent *paymentdomain.PaymentIntent, source paymentdomain.Source) (reconcile.Result, error) {
	if intent == nil || intent.GatewayID == nil {
		return reconcile.Result{}, paymentdomain.ErrInvalidIntent
	}
	log := logger.WithIntent(logger.WithContext(ctx, s.log), intent.ID.String(), *intent.GatewayID).
		With(zap.String("source", string(source)))

	timeout := s.cfg.Gateway.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	status, err := s.gateway.FetchStatus(fetchCtx, *intent.GatewayID)
	cancel()
	if err != nil {
		log.Warn("gateway status fetch failed", zap.Error(err))
		return reconcile.Result{IntentID: intent.ID, Outcome: reconcile.OutcomeFailed}, err
	}

	result, err := s.processor.ApplyPaymentOutcome(ctx, intent.ID, paymentdomain.Observation{
		Source:      source,
		Status:      status.Status,
		Detail:      status.StatusDetail,
		AmountMills: status.AmountMills,
		ObservedAt:  s.clock.Now(),
	})
	if err != nil && !errors.Is(err, paymentdomain.ErrProcessingInFlight) {
		log.Warn("reconcile failed", zap.Error(err))
	}
	return result, err
}

// ExpireStale closes awaiting and pending intents older than the grace
// window. Intents being processed right now are skipped and counted as
// deferred.
func (s *Service) ExpireStale(ctx context.Context, now time.Time, limit int) (expired int, deferred int, err error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := now.Add(-s.policy.Get().PendingGrace)
	stale, err := s.repo.ListOpenCreatedBefore(ctx, s.db, cutoff, limit)
	if err != nil {
		return 0, 0, err
	}

	for _, intent := range stale {
		if err := ctx.Err(); err != nil {
			return expired, deferred, err
		}
		result, err := s.processor.ApplyPaymentOutcome(ctx, intent.ID, paymentdomain.Observation{
			Source:     paymentdomain.SourceExpiry,
			Status:     string(paymentdomain.StatusExpired),
			Detail:     "pending_grace_elapsed",
			ObservedAt: now,
		})
		if errors.Is(err, paymentdomain.ErrProcessingInFlight) {
			deferred++
			continue
		}
		if err != nil {
			return expired, deferred, err
		}
		if result.Outcome == reconcile.OutcomeApplied {
			expired++
		}
	}
	return expired, deferred, nil
}

// ListUnsettled returns gateway-backed intents created since the lookback
// cutoff that are still awaiting or pending.
func (s *Service) ListUnsettled(ctx context.Context, since time.Time, limit int) ([]paymentdomain.PaymentIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListUnsettledSince(ctx, s.db, since, limit)
}

func (s *Service) RecentSales(ctx context.Context, accessPointID snowflake.ID, limit int) (paymentdomain.SalesReport, error) {
	if accessPointID == 0 {
		return paymentdomain.SalesReport{}, catalogdomain.ErrInvalidAccessPoint
	}
	if limit <= 0 {
		limit = s.policy.Get().RecentSalesLimit
	}
	if limit > maxRecentSales {
		limit = maxRecentSales
	}

	report, err := s.repo.SalesTotals(ctx, s.db, accessPointID)
	if err != nil {
		return paymentdomain.SalesReport{}, err
	}
	sales, err := s.repo.ListSales(ctx, s.db, accessPointID, limit)
	if err != nil {
		return paymentdomain.SalesReport{}, err
	}
	if sales == nil {
		sales = []paymentdomain.Sale{}
	}
	report.Sales = sales
	return report, nil
}

func (s *Service) load(ctx context.Context, id snowflake.ID) (*paymentdomain.PaymentIntent, error) {
	if id == 0 {
		return nil, paymentdomain.ErrInvalidIntent
	}
	intent, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, paymentdomain.ErrIntentNotFound
	}
	return intent, nil
}

func (s *Service) view(intent *paymentdomain.PaymentIntent) *paymentdomain.IntentView {
	return &paymentdomain.IntentView{
		ID:          intent.ID,
		Status:      intent.Status,
		PlanName:    intent.Plan.Name,
		DurationMin: intent.Plan.DurationMinutes,
		AmountMills: intent.Plan.AmountMills,
		Amount:      commission.Float(intent.Plan.AmountMills),
		PixPayload:  intent.PixPayload,
		PixQRBase64: intent.PixQRBase64,
		CreatedAt:   intent.CreatedAt,
		ExpiresAt:   intent.CreatedAt.Add(s.policy.Get().PendingGrace),
		ApprovedAt:  intent.ApprovedAt,
	}
}
