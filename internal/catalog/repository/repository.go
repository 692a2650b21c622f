package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/captiva/internal/catalog/domain"
	"gorm.io/gorm"
)

type Repository interface {
	FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error)
	ListActivePlans(ctx context.Context, db *gorm.DB, accessPointID snowflake.ID) ([]domain.Plan, error)
	FindAccessPoint(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.AccessPoint, error)
	ListAccessPoints(ctx context.Context, db *gorm.DB) ([]domain.AccessPoint, error)
	RecordHeartbeat(ctx context.Context, db *gorm.DB, req domain.HeartbeatRequest, now time.Time) (int64, error)
	UpdateToken(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now time.Time) (int64, error)
}
