// Package paymenttest wires the payment services over an in-memory sqlite
// database and a scripted gateway.
package paymenttest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/captiva/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/captiva/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/captiva/internal/catalog/service"
	"github.com/smallbiznis/captiva/internal/clock"
	"github.com/smallbiznis/captiva/internal/config"
	"github.com/smallbiznis/captiva/internal/dbtest"
	ledgerdomain "github.com/smallbiznis/captiva/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/captiva/internal/ledger/service"
	paymentdomain "github.com/smallbiznis/captiva/internal/payment/domain"
	"github.com/smallbiznis/captiva/internal/payment/reconcile"
	"github.com/smallbiznis/captiva/internal/payment/repository"
	paymentservice "github.com/smallbiznis/captiva/internal/payment/service"
	"github.com/smallbiznis/captiva/internal/ratelimit"
	sessiondomain "github.com/smallbiznis/captiva/internal/session/domain"
	sessionrepo "github.com/smallbiznis/captiva/internal/session/repository"
	sessionservice "github.com/smallbiznis/captiva/internal/session/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const TestMAC = "AA:BB:CC:DD:EE:01"

var Start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Gateway is a scripted paymentdomain.Gateway.
type Gateway struct {
	mu        sync.Mutex
	seq       int
	statuses  map[string]string
	amounts   map[string]int64
	created   []paymentdomain.GatewayCreateRequest
	fetches   int
	CreateErr error
	FetchErr  error
	// BeforeCreate runs outside the gateway lock at the start of CreateIntent,
	// letting tests hold concurrent creations at the same point.
	BeforeCreate func()
}

func NewGateway() *Gateway {
	return &Gateway{
		statuses: map[string]string{},
		amounts:  map[string]int64{},
	}
}

func (g *Gateway) Provider() string { return "mercadopago" }

func (g *Gateway) CreateIntent(ctx context.Context, req paymentdomain.GatewayCreateRequest) (*paymentdomain.GatewayIntent, error) {
	if g.BeforeCreate != nil {
		g.BeforeCreate()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CreateErr != nil {
		return nil, g.CreateErr
	}
	g.seq++
	id := fmt.Sprintf("gw-%d", g.seq)
	g.statuses[id] = "pending"
	g.amounts[id] = req.AmountMills
	g.created = append(g.created, req)
	return &paymentdomain.GatewayIntent{
		GatewayID:   id,
		Status:      "pending",
		PixPayload:  "pix-" + id,
		PixQRBase64: "qr-" + id,
	}, nil
}

func (g *Gateway) FetchStatus(ctx context.Context, gatewayID string) (*paymentdomain.GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.FetchErr != nil {
		return nil, g.FetchErr
	}
	status, ok := g.statuses[gatewayID]
	if !ok {
		return nil, paymentdomain.ErrGatewayNotFound
	}
	return &paymentdomain.GatewayStatus{
		GatewayID:    gatewayID,
		Status:       status,
		StatusDetail: "detail_" + status,
		AmountMills:  g.amounts[gatewayID],
	}, nil
}

func (g *Gateway) SetStatus(gatewayID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[gatewayID] = status
}

func (g *Gateway) Created() []paymentdomain.GatewayCreateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]paymentdomain.GatewayCreateRequest(nil), g.created...)
}

func (g *Gateway) Fetches() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches
}

type Harness struct {
	DB        *gorm.DB
	Clock     *clock.FakeClock
	Cfg       config.Config
	Policy    *config.PolicyHolder
	Fixture   dbtest.Fixture
	Gateway   *Gateway
	KeyLock   *reconcile.KeyLock
	Repo      paymentdomain.Repository
	Ledger    ledgerdomain.Service
	Sessions  sessiondomain.Service
	Catalog   catalogdomain.Service
	Processor *reconcile.Processor
	Payments  *paymentservice.Service
}

type Option func(*config.Config)

func WithPollLimit(rate float64, burst int) Option {
	return func(cfg *config.Config) {
		cfg.StatusPoll.Rate = rate
		cfg.StatusPoll.Burst = burst
	}
}

func New(t testing.TB, opts ...Option) *Harness {
	t.Helper()
	db := dbtest.Open(t)
	fixture := dbtest.DefaultFixture()
	dbtest.Seed(t, db, fixture)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	clk := clock.NewFakeClock(Start)
	cfg := config.Config{APIDomain: "https://api.captiva.test"}
	cfg.Gateway.Provider = "mercadopago"
	cfg.Gateway.Timeout = time.Second
	cfg.Gateway.PayerEmail = "cliente@captiva.test"
	cfg.Reconcile.LockTTL = 30 * time.Second
	cfg.StatusPoll.Rate = 1000
	cfg.StatusPoll.Burst = 1000
	for _, opt := range opts {
		opt(&cfg)
	}
	policy := config.NewStaticPolicyHolder(config.DefaultPolicy())
	log := zap.NewNop()

	h := &Harness{
		DB:      db,
		Clock:   clk,
		Cfg:     cfg,
		Policy:  policy,
		Fixture: fixture,
		Gateway: NewGateway(),
		KeyLock: reconcile.NewKeyLock(clk),
		Repo:    repository.Provide(),
	}
	h.Ledger = ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Clock: clk})
	h.Sessions = sessionservice.NewService(sessionservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: sessionrepo.Provide()})
	h.Catalog = catalogservice.NewService(catalogservice.Params{DB: db, Log: log, Clock: clk, Policy: policy, Repo: catalogrepo.Provide()})
	h.Processor = reconcile.NewProcessor(reconcile.Params{
		DB:         db,
		Log:        log,
		Clock:      clk,
		Cfg:        cfg,
		Policy:     policy,
		Repo:       h.Repo,
		LedgerSvc:  h.Ledger,
		SessionSvc: h.Sessions,
		KeyLock:    h.KeyLock,
	})
	h.Payments = paymentservice.NewService(paymentservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Cfg:         cfg,
		Policy:      policy,
		Repo:        h.Repo,
		Gateway:     h.Gateway,
		Processor:   h.Processor,
		CatalogSvc:  h.Catalog,
		SessionSvc:  h.Sessions,
		PollLimiter: ratelimit.NewStatusPollLimiter(cfg, nil, log),
	})
	return h
}

// CreateIntent opens an intent for TestMAC on the fixture plan.
func (h *Harness) CreateIntent(t testing.TB) *paymentdomain.PaymentIntent {
	t.Helper()
	view, err := h.Payments.CreatePaymentIntent(context.Background(), paymentdomain.CreateIntentRequest{
		MACAddress:    TestMAC,
		PlanID:        snowflake.ID(h.Fixture.PlanID),
		AccessPointID: snowflake.ID(h.Fixture.AccessPointID),
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	return h.Intent(t, view.ID)
}

func (h *Harness) Intent(t testing.TB, id snowflake.ID) *paymentdomain.PaymentIntent {
	t.Helper()
	intent, err := h.Repo.FindByID(context.Background(), h.DB, id)
	if err != nil || intent == nil {
		t.Fatalf("load intent %s: %v", id, err)
	}
	return intent
}

func (h *Harness) Device(t testing.TB) sessiondomain.StatusView {
	t.Helper()
	view, err := h.Sessions.GetSessionStatus(context.Background(), TestMAC, snowflake.ID(h.Fixture.AccessPointID))
	if err != nil {
		t.Fatalf("session status: %v", err)
	}
	return view
}

func (h *Harness) Balances(t testing.TB) (platform int64, reseller int64) {
	t.Helper()
	balances, err := h.Ledger.Balances(context.Background())
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	for _, rb := range balances.Resellers {
		if int64(rb.ResellerID) == h.Fixture.ResellerID {
			reseller = rb.BalanceMills
		}
	}
	return balances.PlatformMills, reseller
}

func (h *Harness) LedgerEntries(t testing.TB, intentID snowflake.ID) int64 {
	t.Helper()
	var count int64
	if err := h.DB.Raw(`SELECT COUNT(*) FROM ledger_entries WHERE payment_intent_id = ?`, intentID).Scan(&count).Error; err != nil {
		t.Fatalf("count ledger entries: %v", err)
	}
	return count
}
