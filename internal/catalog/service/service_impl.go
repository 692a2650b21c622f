package service

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/captiva/internal/cache"
	"github.com/smallbiznis/captiva/internal/catalog/domain"
	"github.com/smallbiznis/captiva/internal/catalog/repository"
	"github.com/smallbiznis/captiva/internal/clock"
	"github.com/smallbiznis/captiva/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Policy *config.PolicyHolder
	Repo   repository.Repository
	Plans  *cache.PlanCache `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	policy *config.PolicyHolder
	repo   repository.Repository
	plans  *cache.PlanCache
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("catalog.service"),
		clock:  clk,
		policy: p.Policy,
		repo:   p.Repo,
		plans:  p.Plans,
	}
}

func (s *Service) GetPlan(ctx context.Context, id snowflake.ID) (*domain.Plan, error) {
	if id == 0 {
		return nil, domain.ErrInvalidPlan
	}
	plan, err := s.repo.FindPlan(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.Active {
		return nil, domain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) GetAccessPoint(ctx context.Context, id snowflake.ID) (*domain.AccessPoint, error) {
	if id == 0 {
		return nil, domain.ErrInvalidAccessPoint
	}
	ap, err := s.repo.FindAccessPoint(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if ap == nil {
		return nil, domain.ErrAccessPointNotFound
	}
	return ap, nil
}

func (s *Service) ListPlans(ctx context.Context, accessPointID snowflake.ID) ([]domain.Plan, error) {
	ap, err := s.GetAccessPoint(ctx, accessPointID)
	if err != nil {
		return nil, err
	}
	if !ap.Active {
		return nil, domain.ErrAccessPointInactive
	}
	if plans, ok := s.plans.Get(accessPointID); ok {
		return plans, nil
	}
	plans, err := s.repo.ListActivePlans(ctx, s.db, accessPointID)
	if err != nil {
		return nil, err
	}
	s.plans.Set(accessPointID, plans)
	return plans, nil
}

func (s *Service) AuthenticateAccessPoint(ctx context.Context, id snowflake.ID, token string) (*domain.AccessPoint, error) {
	token = strings.TrimSpace(token)
	if id == 0 || token == "" {
		return nil, domain.ErrInvalidToken
	}
	ap, err := s.repo.FindAccessPoint(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if ap == nil {
		return nil, domain.ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(ap.APIToken), []byte(token)) != 1 {
		return nil, domain.ErrInvalidToken
	}
	if !ap.Active {
		return nil, domain.ErrAccessPointInactive
	}
	return ap, nil
}

func (s *Service) Heartbeat(ctx context.Context, req domain.HeartbeatRequest) error {
	if req.AccessPointID == 0 {
		return domain.ErrInvalidAccessPoint
	}
	if req.ConnectedDevices < 0 {
		req.ConnectedDevices = 0
	}
	req.ReportedStatus = strings.TrimSpace(req.ReportedStatus)

	affected, err := s.repo.RecordHeartbeat(ctx, s.db, req, s.clock.Now())
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrAccessPointNotFound
	}
	return nil
}

func (s *Service) FleetStatus(ctx context.Context) (domain.FleetReport, error) {
	aps, err := s.repo.ListAccessPoints(ctx, s.db)
	if err != nil {
		return domain.FleetReport{}, err
	}

	policy := s.policy.Get()
	now := s.clock.Now()
	report := domain.FleetReport{AccessPoints: make([]domain.AccessPointStatus, 0, len(aps))}
	for _, ap := range aps {
		status := domain.ConnectionStatusAt(ap.LastHeartbeat, now, policy.HeartbeatUnstableAfter, policy.HeartbeatOfflineAfter)
		entry := domain.AccessPointStatus{
			ID:               ap.ID,
			Name:             ap.Name,
			Active:           ap.Active,
			ConnectionStatus: status,
			LastHeartbeat:    ap.LastHeartbeat,
			ReportedStatus:   ap.ReportedStatus,
			ConnectedDevices: ap.ConnectedDevices,
		}
		if ap.LastHeartbeat != nil {
			minutes := int(now.Sub(*ap.LastHeartbeat).Minutes())
			entry.MinutesSinceLastHB = &minutes
		}

		report.Total++
		switch status {
		case domain.ConnectionOnline:
			report.Online++
			report.ConnectedDevices += ap.ConnectedDevices
		case domain.ConnectionUnstable:
			report.Unstable++
			report.ConnectedDevices += ap.ConnectedDevices
		case domain.ConnectionOffline:
			report.Offline++
		default:
			report.NeverConnected++
		}
		report.AccessPoints = append(report.AccessPoints, entry)
	}
	return report, nil
}

func (s *Service) RegenerateToken(ctx context.Context, id snowflake.ID) (string, error) {
	if id == 0 {
		return "", domain.ErrInvalidAccessPoint
	}
	token := newToken()
	affected, err := s.repo.UpdateToken(ctx, s.db, id, token, s.clock.Now())
	if err != nil {
		return "", err
	}
	if affected == 0 {
		return "", domain.ErrAccessPointNotFound
	}
	s.log.Info("access point token regenerated", zap.String("access_point_id", id.String()))
	return token, nil
}

func (s *Service) InstallScripts(ctx context.Context, req domain.InstallScriptRequest) (*domain.InstallScripts, error) {
	ap, err := s.GetAccessPoint(ctx, req.AccessPointID)
	if err != nil {
		return nil, err
	}
	if !ap.Active {
		return nil, domain.ErrAccessPointInactive
	}

	scripts, err := domain.RenderInstallScripts(*ap, req.APIURL)
	if err != nil {
		return nil, err
	}
	s.log.Info("access point install scripts generated",
		zap.String("access_point_id", ap.ID.String()),
		zap.String("api_url", scripts.APIURL),
	)
	return scripts, nil
}

func newToken() string {
	a := uuid.New()
	b := uuid.New()
	return "ap_" + hex.EncodeToString(a[:]) + hex.EncodeToString(b[:8])
}
