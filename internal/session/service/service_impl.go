package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/captiva/internal/clock"
	obsmetrics "github.com/smallbiznis/captiva/internal/observability/metrics"
	"github.com/smallbiznis/captiva/internal/session/domain"
	"github.com/smallbiznis/captiva/internal/session/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       repository.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       repository.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("session.service"),
		genID:      p.GenID,
		clock:      clk,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) GetSessionStatus(ctx context.Context, mac string, accessPointID snowflake.ID) (domain.StatusView, error) {
	normalized, err := domain.NormalizeMAC(mac)
	if err != nil {
		return domain.StatusView{}, err
	}
	if accessPointID == 0 {
		return domain.StatusView{}, domain.ErrInvalidAccessPoint
	}

	device, err := s.repo.FindDevice(ctx, s.db, normalized, accessPointID)
	if err != nil {
		return domain.StatusView{}, err
	}
	if device == nil {
		return domain.StatusView{
			MACAddress: normalized,
			Status:     domain.StatusUnauthenticated,
		}, nil
	}

	now := s.clock.Now()
	session := device.Session().Evaluate(now)
	view := domain.StatusView{
		DeviceID:         device.ID,
		MACAddress:       device.MACAddress,
		Status:           session.Status,
		RemainingMinutes: session.RemainingMinutes(now),
	}
	if session.Status == domain.StatusEntitled || session.Status == domain.StatusAuthenticated {
		view.EntitlementEnd = session.EntitlementEnd
	}

	pending, err := s.repo.LatestOpenIntent(ctx, s.db, device.ID)
	if err != nil {
		return domain.StatusView{}, err
	}
	view.PendingPayment = pending
	return view, nil
}

func (s *Service) OnPresence(ctx context.Context, req domain.PresenceRequest) (domain.PresenceResult, error) {
	mac, err := domain.NormalizeMAC(req.MACAddress)
	if err != nil {
		return domain.PresenceResult{}, err
	}
	if req.AccessPointID == 0 {
		return domain.PresenceResult{}, domain.ErrInvalidAccessPoint
	}
	var eventType domain.EventType
	switch req.Event {
	case domain.PresenceConnect:
		eventType = domain.EventConnect
	case domain.PresenceDisconnect:
		eventType = domain.EventDisconnect
	default:
		return domain.PresenceResult{}, domain.ErrInvalidEvent
	}

	var result domain.PresenceResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		found, err := s.repo.FindDevice(ctx, tx, mac, req.AccessPointID)
		if err != nil {
			return err
		}
		if found == nil {
			if req.Event == domain.PresenceConnect {
				result = domain.PresenceResult{Reason: domain.ReasonNotEntitled, Status: domain.StatusUnauthenticated}
			} else {
				result = domain.PresenceResult{Accepted: true, Status: domain.StatusUnauthenticated}
			}
			return nil
		}

		device, err := s.repo.GetDeviceForUpdate(ctx, tx, found.ID)
		if err != nil {
			return err
		}
		if device == nil {
			return domain.ErrDeviceNotFound
		}

		transition, err := domain.Apply(device.Session(), domain.Event{Type: eventType}, now)
		if err != nil {
			return err
		}
		if transition.Changed {
			if err := s.repo.SaveSession(ctx, tx, device.ID, transition.Session, now); err != nil {
				return err
			}
		}
		if err := s.repo.Touch(ctx, tx, device.ID, now); err != nil {
			return err
		}

		result = domain.PresenceResult{
			Accepted:         !transition.Rejected,
			Reason:           transition.Reason,
			Status:           transition.Session.Status,
			RemainingMinutes: transition.Session.RemainingMinutes(now),
		}
		return nil
	})
	if err != nil {
		return domain.PresenceResult{}, err
	}

	s.obsMetrics.RecordPresence(ctx, string(req.Event), result.Accepted)
	if !result.Accepted {
		s.log.Info("presence rejected",
			zap.String("mac_address", mac),
			zap.String("access_point_id", req.AccessPointID.String()),
			zap.String("reason", result.Reason),
		)
	}
	return result, nil
}

func (s *Service) Revoke(ctx context.Context, mac string, accessPointID snowflake.ID) error {
	normalized, err := domain.NormalizeMAC(mac)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.repo.FindDevice(ctx, tx, normalized, accessPointID)
		if err != nil {
			return err
		}
		if found == nil {
			return domain.ErrDeviceNotFound
		}
		device, err := s.repo.GetDeviceForUpdate(ctx, tx, found.ID)
		if err != nil {
			return err
		}
		if device == nil {
			return domain.ErrDeviceNotFound
		}
		now := s.clock.Now()
		if _, err := s.apply(ctx, tx, device, domain.Event{Type: domain.EventRevoke}, now); err != nil {
			return err
		}
		s.log.Info("session revoked",
			zap.String("device_id", device.ID.String()),
			zap.String("previous_status", string(device.AccessStatus)),
		)
		return nil
	})
}

// ExpireDue moves entitled and authenticated sessions whose window has closed
// to expired. Each device is re-read under lock so a concurrent approval that
// extended the window wins.
func (s *Service) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	due, err := s.repo.ListExpirable(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		changed := false
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			device, err := s.repo.GetDeviceForUpdate(ctx, tx, candidate.ID)
			if err != nil || device == nil {
				return err
			}
			changed, err = s.apply(ctx, tx, device, domain.Event{Type: domain.EventExpire}, now)
			return err
		})
		if err != nil {
			return expired, err
		}
		if changed {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) EnsureDevice(ctx context.Context, tx *gorm.DB, mac string, accessPointID snowflake.ID, now time.Time) (*domain.Device, error) {
	normalized, err := domain.NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}
	if accessPointID == 0 {
		return nil, domain.ErrInvalidAccessPoint
	}
	return s.repo.UpsertDevice(ctx, tx, domain.Device{
		ID:            s.genID.Generate(),
		MACAddress:    normalized,
		AccessPointID: accessPointID,
		AccessStatus:  domain.StatusUnauthenticated,
		FirstSeen:     now,
		LastSeen:      now,
		UpdatedAt:     now,
	})
}

func (s *Service) MarkAwaiting(ctx context.Context, tx *gorm.DB, deviceID snowflake.ID, now time.Time) error {
	device, err := s.lock(ctx, tx, deviceID)
	if err != nil {
		return err
	}
	_, err = s.apply(ctx, tx, device, domain.Event{Type: domain.EventIntentCreated}, now)
	return err
}

func (s *Service) Entitle(ctx context.Context, tx *gorm.DB, grant domain.Entitlement, now time.Time) error {
	device, err := s.lock(ctx, tx, grant.DeviceID)
	if err != nil {
		return err
	}
	if _, err := s.apply(ctx, tx, device, domain.Event{
		Type:     domain.EventApproved,
		IntentID: grant.IntentID,
		Duration: grant.Duration,
	}, now); err != nil {
		return err
	}
	return s.repo.RecordPurchase(ctx, tx, device.ID, strings.TrimSpace(grant.PlanName), grant.AmountMills, now)
}

// RevokeForIntent revokes the session only while it is still backed by
// intentID; a later purchase keeps its own entitlement.
func (s *Service) RevokeForIntent(ctx context.Context, tx *gorm.DB, deviceID, intentID snowflake.ID, now time.Time) (bool, error) {
	device, err := s.lock(ctx, tx, deviceID)
	if err != nil {
		return false, err
	}
	if device.EntitlementIntentID == nil || *device.EntitlementIntentID != intentID {
		return false, nil
	}
	return s.apply(ctx, tx, device, domain.Event{Type: domain.EventRevoke}, now)
}

// ReleaseAwaiting returns an awaiting device to unauthenticated once its last
// open intent closes without payment.
func (s *Service) ReleaseAwaiting(ctx context.Context, tx *gorm.DB, deviceID, intentID snowflake.ID, now time.Time) error {
	device, err := s.lock(ctx, tx, deviceID)
	if err != nil {
		return err
	}
	if device.AccessStatus != domain.StatusAwaitingPayment {
		return nil
	}
	open, err := s.repo.CountOpenIntents(ctx, tx, deviceID, intentID)
	if err != nil {
		return err
	}
	if open > 0 {
		return nil
	}
	_, err = s.apply(ctx, tx, device, domain.Event{Type: domain.EventIntentReleased}, now)
	return err
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, deviceID snowflake.ID) (*domain.Device, error) {
	started := time.Now()
	device, err := s.repo.GetDeviceForUpdate(ctx, tx, deviceID)
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceDeviceByID, time.Since(started))
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, domain.ErrDeviceNotFound
	}
	return device, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, device *domain.Device, ev domain.Event, now time.Time) (bool, error) {
	transition, err := domain.Apply(device.Session(), ev, now)
	if err != nil {
		return false, err
	}
	if !transition.Changed {
		return false, nil
	}
	if err := s.repo.SaveSession(ctx, tx, device.ID, transition.Session, now); err != nil {
		return false, err
	}
	return true, nil
}
