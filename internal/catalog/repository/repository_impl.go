package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/captiva/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() Repository {
	return &repo{}
}

const accessPointColumns = `id, name, reseller_id, commission_percentage, api_token,
	token_regenerated_at, active, last_heartbeat, reported_status,
	connected_devices, created_at, updated_at`

func (r *repo) FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var plans []domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, access_point_id, name, price_mills, duration_minutes, active, created_at, updated_at
		 FROM plans
		 WHERE id = ?`,
		id,
	).Scan(&plans).Error
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, nil
	}
	return &plans[0], nil
}

func (r *repo) ListActivePlans(ctx context.Context, db *gorm.DB, accessPointID snowflake.ID) ([]domain.Plan, error) {
	var plans []domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, access_point_id, name, price_mills, duration_minutes, active, created_at, updated_at
		 FROM plans
		 WHERE access_point_id = ? AND active = ?
		 ORDER BY price_mills ASC, id ASC`,
		accessPointID,
		true,
	).Scan(&plans).Error
	return plans, err
}

func (r *repo) FindAccessPoint(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.AccessPoint, error) {
	var aps []domain.AccessPoint
	err := db.WithContext(ctx).Raw(
		`SELECT `+accessPointColumns+`
		 FROM access_points
		 WHERE id = ?`,
		id,
	).Scan(&aps).Error
	if err != nil {
		return nil, err
	}
	if len(aps) == 0 {
		return nil, nil
	}
	return &aps[0], nil
}

func (r *repo) ListAccessPoints(ctx context.Context, db *gorm.DB) ([]domain.AccessPoint, error) {
	var aps []domain.AccessPoint
	err := db.WithContext(ctx).Raw(
		`SELECT ` + accessPointColumns + `
		 FROM access_points
		 ORDER BY name ASC, id ASC`,
	).Scan(&aps).Error
	return aps, err
}

func (r *repo) RecordHeartbeat(ctx context.Context, db *gorm.DB, req domain.HeartbeatRequest, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE access_points
		 SET last_heartbeat = ?, reported_status = ?, connected_devices = ?, updated_at = ?
		 WHERE id = ?`,
		now,
		req.ReportedStatus,
		req.ConnectedDevices,
		now,
		req.AccessPointID,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) UpdateToken(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE access_points
		 SET api_token = ?, token_regenerated_at = ?, updated_at = ?
		 WHERE id = ?`,
		token,
		now,
		now,
		id,
	)
	return result.RowsAffected, result.Error
}
