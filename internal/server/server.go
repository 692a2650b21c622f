package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	catalogdomain "github.com/smallbiznis/captiva/internal/catalog/domain"
	"github.com/smallbiznis/captiva/internal/config"
	ledgerdomain "github.com/smallbiznis/captiva/internal/ledger/domain"
	"github.com/smallbiznis/captiva/internal/observability"
	obslogger "github.com/smallbiznis/captiva/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/captiva/internal/observability/metrics"
	obstracing "github.com/smallbiznis/captiva/internal/observability/tracing"
	paymentservice "github.com/smallbiznis/captiva/internal/payment/service"
	"github.com/smallbiznis/captiva/internal/payment/webhook"
	sessiondomain "github.com/smallbiznis/captiva/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	catalogSvc catalogdomain.Service
	sessionSvc sessiondomain.Service
	paymentSvc *paymentservice.Service
	webhookSvc *webhook.Service
	ledgerSvc  ledgerdomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	CatalogSvc catalogdomain.Service
	SessionSvc sessiondomain.Service
	PaymentSvc *paymentservice.Service
	WebhookSvc *webhook.Service
	LedgerSvc  ledgerdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http"),
		catalogSvc: p.CatalogSvc,
		sessionSvc: p.SessionSvc,
		paymentSvc: p.PaymentSvc,
		webhookSvc: p.WebhookSvc,
		ledgerSvc:  p.LedgerSvc,
	}

	svc.registerCaptiveRoutes()
	svc.registerWebhookRoutes()
	svc.registerAccessPointRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerCaptiveRoutes() {
	captive := s.engine.Group("/api/captive")

	captive.POST("/plans", s.ListPlans)
	captive.POST("/intents", s.CreatePaymentIntent)
	captive.GET("/intents/:id", s.GetPaymentIntent)
	captive.POST("/status", s.GetSessionStatus)
}

func (s *Server) registerWebhookRoutes() {
	api := s.engine.Group("/api/webhook")

	api.POST("/:provider", s.HandleGatewayWebhook)
	api.GET("/:provider", s.WebhookReachability)
}

func (s *Server) registerAccessPointRoutes() {
	ap := s.engine.Group("/api/access-points", s.AccessPointRequired())

	ap.POST("/presence", s.OnPresence)
	ap.POST("/heartbeat", s.Heartbeat)
	ap.POST("/recent-sales", s.RecentSales)
	ap.POST("/install-scripts", s.InstallScripts)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/admin", s.AdminRequired())

	admin.GET("/access-points/status", s.FleetStatus)
	admin.POST("/access-points/:id/regenerate-token", s.RegenerateAccessPointToken)
	admin.POST("/access-points/:id/install-scripts", s.AdminInstallScripts)
	admin.POST("/devices/revoke", s.RevokeDevice)
	admin.GET("/ledger", s.LedgerBalances)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
