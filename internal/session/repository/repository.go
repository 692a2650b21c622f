package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/captiva/internal/session/domain"
	"gorm.io/gorm"
)

type Repository interface {
	FindDevice(ctx context.Context, db *gorm.DB, mac string, accessPointID snowflake.ID) (*domain.Device, error)
	GetDeviceForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Device, error)
	UpsertDevice(ctx context.Context, db *gorm.DB, device domain.Device) (*domain.Device, error)
	Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	SaveSession(ctx context.Context, db *gorm.DB, id snowflake.ID, session domain.Session, now time.Time) error
	RecordPurchase(ctx context.Context, db *gorm.DB, id snowflake.ID, planName string, amountMills int64, now time.Time) error
	ListExpirable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Device, error)
	CountOpenIntents(ctx context.Context, db *gorm.DB, deviceID, excludeIntentID snowflake.ID) (int64, error)
	LatestOpenIntent(ctx context.Context, db *gorm.DB, deviceID snowflake.ID) (*domain.PendingPayment, error)
}
