package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/smallbiznis/captiva/internal/config"
	"github.com/smallbiznis/captiva/internal/observability/logger"
	"github.com/smallbiznis/captiva/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/captiva/internal/payment/domain"
	paymentservice "github.com/smallbiznis/captiva/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	PaymentSvc *paymentservice.Service
	Adapters   *adapters.Registry
	Dispatcher *Dispatcher
}

type Service struct {
	log        *zap.Logger
	paymentSvc *paymentservice.Service
	adapters   *adapters.Registry
	dispatcher *Dispatcher
	secret     string
}

func NewService(p Params) *Service {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
		dispatcher: p.Dispatcher,
		secret:     p.Cfg.Gateway.WebhookSecret,
	}
}

// HandleGatewayCallback verifies and parses a gateway notification, then
// schedules the status re-fetch. The returned error is for logging only;
// transports acknowledge every callback.
func (s *Service) HandleGatewayCallback(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{WebhookSecret: s.secret})
	if err != nil {
		return err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		return err
	}
	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}

	s.dispatcher.Dispatch(ctx, "reconcile_"+provider, func(jobCtx context.Context) {
		s.process(jobCtx, provider, event.GatewayID)
	})
	return nil
}

func (s *Service) process(ctx context.Context, provider, gatewayID string) {
	log := logger.WithIntent(logger.WithContext(ctx, s.log), "", gatewayID)

	intent, err := s.paymentSvc.FindByGatewayID(ctx, provider, gatewayID)
	if err != nil {
		log.Error("webhook intent lookup failed", zap.Error(err))
		return
	}
	if intent == nil {
		log.Info("webhook for unknown gateway payment")
		return
	}

	result, err := s.paymentSvc.Reconcile(ctx, intent, paymentdomain.SourceWebhook)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrProcessingInFlight) {
			log.Debug("webhook reconcile skipped, already in flight")
			return
		}
		log.Warn("webhook reconcile failed", zap.Error(err))
		return
	}
	log.Info("webhook reconciled",
		zap.String("payment_intent_id", intent.ID.String()),
		zap.String("status", string(result.Status)),
		zap.String("outcome", string(result.Outcome)),
	)
}
