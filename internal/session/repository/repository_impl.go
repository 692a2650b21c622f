package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/captiva/internal/session/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() Repository {
	return &repo{}
}

const deviceColumns = `id, mac_address, access_point_id, access_status,
	entitlement_start, entitlement_end, entitlement_intent_id,
	first_seen, last_seen, purchase_count, total_spent_mills,
	last_plan_name, last_plan_amount_mills, updated_at`

func (r *repo) FindDevice(ctx context.Context, db *gorm.DB, mac string, accessPointID snowflake.ID) (*domain.Device, error) {
	var devices []domain.Device
	err := db.WithContext(ctx).Raw(
		`SELECT `+deviceColumns+`
		 FROM devices
		 WHERE mac_address = ? AND access_point_id = ?
		 LIMIT 1`,
		mac,
		accessPointID,
	).Scan(&devices).Error
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}
	return &devices[0], nil
}

func (r *repo) GetDeviceForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Device, error) {
	var devices []domain.Device
	err := db.WithContext(ctx).Raw(
		`SELECT `+deviceColumns+`
		 FROM devices
		 WHERE id = ?
		 FOR UPDATE`,
		id,
	).Scan(&devices).Error
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}
	return &devices[0], nil
}

// UpsertDevice inserts the device on first sighting and refreshes last_seen
// otherwise. The stored row is returned.
func (r *repo) UpsertDevice(ctx context.Context, db *gorm.DB, device domain.Device) (*domain.Device, error) {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO devices (
			id, mac_address, access_point_id, access_status,
			first_seen, last_seen, purchase_count, total_spent_mills,
			last_plan_name, last_plan_amount_mills, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, 0, '', 0, ?)
		ON CONFLICT (mac_address, access_point_id)
		DO UPDATE SET last_seen = excluded.last_seen`,
		device.ID,
		device.MACAddress,
		device.AccessPointID,
		string(domain.StatusUnauthenticated),
		device.FirstSeen,
		device.LastSeen,
		device.UpdatedAt,
	).Error
	if err != nil {
		return nil, err
	}
	return r.FindDevice(ctx, db, device.MACAddress, device.AccessPointID)
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE devices SET last_seen = ? WHERE id = ?`,
		now,
		id,
	).Error
}

func (r *repo) SaveSession(ctx context.Context, db *gorm.DB, id snowflake.ID, session domain.Session, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE devices
		 SET access_status = ?,
		     entitlement_start = ?,
		     entitlement_end = ?,
		     entitlement_intent_id = ?,
		     updated_at = ?
		 WHERE id = ?`,
		string(session.Status),
		session.EntitlementStart,
		session.EntitlementEnd,
		session.IntentID,
		now,
		id,
	).Error
}

func (r *repo) RecordPurchase(ctx context.Context, db *gorm.DB, id snowflake.ID, planName string, amountMills int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE devices
		 SET purchase_count = purchase_count + 1,
		     total_spent_mills = total_spent_mills + ?,
		     last_plan_name = ?,
		     last_plan_amount_mills = ?,
		     updated_at = ?
		 WHERE id = ?`,
		amountMills,
		planName,
		amountMills,
		now,
		id,
	).Error
}

func (r *repo) ListExpirable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Device, error) {
	var devices []domain.Device
	err := db.WithContext(ctx).Raw(
		`SELECT `+deviceColumns+`
		 FROM devices
		 WHERE access_status IN (?, ?)
		   AND entitlement_end IS NOT NULL
		   AND entitlement_end <= ?
		 ORDER BY entitlement_end ASC
		 LIMIT ?`,
		string(domain.StatusEntitled),
		string(domain.StatusAuthenticated),
		now,
		limit,
	).Scan(&devices).Error
	return devices, err
}

func (r *repo) CountOpenIntents(ctx context.Context, db *gorm.DB, deviceID, excludeIntentID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM payment_intents
		 WHERE device_id = ? AND id <> ? AND status IN ('awaiting', 'pending')`,
		deviceID,
		excludeIntentID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) LatestOpenIntent(ctx context.Context, db *gorm.DB, deviceID snowflake.ID) (*domain.PendingPayment, error) {
	var rows []domain.PendingPayment
	err := db.WithContext(ctx).Raw(
		`SELECT id AS intent_id, status, plan_name, amount_mills, pix_payload, created_at
		 FROM payment_intents
		 WHERE device_id = ? AND status IN ('awaiting', 'pending')
		 ORDER BY created_at DESC
		 LIMIT 1`,
		deviceID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
