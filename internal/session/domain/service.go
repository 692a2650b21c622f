package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	GetSessionStatus(ctx context.Context, mac string, accessPointID snowflake.ID) (StatusView, error)
	OnPresence(ctx context.Context, req PresenceRequest) (PresenceResult, error)
	Revoke(ctx context.Context, mac string, accessPointID snowflake.ID) error
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)

	// Transaction-scoped steps driven by payment processing. tx must be the
	// caller's open transaction.
	EnsureDevice(ctx context.Context, tx *gorm.DB, mac string, accessPointID snowflake.ID, now time.Time) (*Device, error)
	MarkAwaiting(ctx context.Context, tx *gorm.DB, deviceID snowflake.ID, now time.Time) error
	Entitle(ctx context.Context, tx *gorm.DB, grant Entitlement, now time.Time) error
	RevokeForIntent(ctx context.Context, tx *gorm.DB, deviceID, intentID snowflake.ID, now time.Time) (bool, error)
	ReleaseAwaiting(ctx context.Context, tx *gorm.DB, deviceID, intentID snowflake.ID, now time.Time) error
}

// Entitlement is an approved purchase being turned into network access.
type Entitlement struct {
	DeviceID    snowflake.ID
	IntentID    snowflake.ID
	Duration    time.Duration
	PlanName    string
	AmountMills int64
}
