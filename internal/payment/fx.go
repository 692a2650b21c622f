package payment

import (
	"context"
	"fmt"

	"github.com/smallbiznis/captiva/internal/config"
	"github.com/smallbiznis/captiva/internal/payment/adapters"
	"github.com/smallbiznis/captiva/internal/payment/adapters/mercadopago"
	"github.com/smallbiznis/captiva/internal/payment/domain"
	mpgateway "github.com/smallbiznis/captiva/internal/payment/gateway/mercadopago"
	"github.com/smallbiznis/captiva/internal/payment/reconcile"
	"github.com/smallbiznis/captiva/internal/payment/repository"
	paymentservice "github.com/smallbiznis/captiva/internal/payment/service"
	"github.com/smallbiznis/captiva/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			mercadopago.NewFactory(),
		)
	}),
	fx.Provide(mpgateway.NewClient),
	fx.Provide(newGateway),
	fx.Provide(reconcile.NewKeyLock),
	fx.Provide(reconcile.NewProcessor),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewDispatcher),
	fx.Provide(webhook.NewService),
	fx.Invoke(registerLifecycle),
)

func newGateway(cfg config.Config, client *mpgateway.Client) (domain.Gateway, error) {
	switch cfg.Gateway.Provider {
	case "", mpgateway.Provider:
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported payment gateway %q", cfg.Gateway.Provider)
	}
}

func registerLifecycle(lc fx.Lifecycle, cfg config.Config, keyLock *reconcile.KeyLock, dispatcher *webhook.Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go keyLock.RunJanitor(ctx, cfg.Reconcile.LockJanitor)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return dispatcher.Stop(stopCtx)
		},
	})
}
