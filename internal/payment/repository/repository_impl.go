package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/captiva/internal/payment/domain"
	"gorm.io/gorm"
)

const intentColumns = `id, device_id, access_point_id, reseller_id, plan_id, plan_name,
	plan_duration_minutes, amount_mills, commission_percentage, gateway_provider,
	gateway_id, status, status_detail, pix_payload, pix_qr_base64,
	platform_share_mills, reseller_share_mills, last_observation,
	created_at, updated_at, approved_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, intent *domain.PaymentIntent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_intents (`+intentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.ID,
		intent.DeviceID,
		intent.AccessPointID,
		intent.ResellerID,
		intent.Plan.PlanID,
		intent.Plan.Name,
		intent.Plan.DurationMinutes,
		intent.Plan.AmountMills,
		intent.CommissionPercentage,
		intent.GatewayProvider,
		intent.GatewayID,
		intent.Status,
		intent.StatusDetail,
		intent.PixPayload,
		intent.PixQRBase64,
		intent.PlatformShareMills,
		intent.ResellerShareMills,
		intent.LastObservation,
		intent.CreatedAt,
		intent.UpdatedAt,
		intent.ApprovedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentIntent, error) {
	return r.one(ctx, db,
		`SELECT `+intentColumns+`
		 FROM payment_intents
		 WHERE id = ?
		 LIMIT 1`,
		id,
	)
}

func (r *repo) FindByGatewayID(ctx context.Context, db *gorm.DB, provider, gatewayID string) (*domain.PaymentIntent, error) {
	return r.one(ctx, db,
		`SELECT `+intentColumns+`
		 FROM payment_intents
		 WHERE gateway_provider = ? AND gateway_id = ?
		 LIMIT 1`,
		provider,
		gatewayID,
	)
}

func (r *repo) GetForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentIntent, error) {
	return r.one(ctx, db,
		`SELECT `+intentColumns+`
		 FROM payment_intents
		 WHERE id = ?
		 FOR UPDATE`,
		id,
	)
}

func (r *repo) FindOpen(ctx context.Context, db *gorm.DB, deviceID, planID, accessPointID snowflake.ID) (*domain.PaymentIntent, error) {
	return r.one(ctx, db,
		`SELECT `+intentColumns+`
		 FROM payment_intents
		 WHERE device_id = ? AND plan_id = ? AND access_point_id = ?
		   AND status IN (?, ?)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		deviceID,
		planID,
		accessPointID,
		domain.StatusAwaiting,
		domain.StatusPending,
	)
}

func (r *repo) UpdateOutcome(ctx context.Context, db *gorm.DB, update domain.OutcomeUpdate) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_intents
		 SET status = ?,
		     status_detail = ?,
		     last_observation = ?,
		     platform_share_mills = COALESCE(?, platform_share_mills),
		     reseller_share_mills = COALESCE(?, reseller_share_mills),
		     approved_at = COALESCE(?, approved_at),
		     updated_at = ?
		 WHERE id = ?`,
		update.Status,
		update.StatusDetail,
		update.Observation,
		update.PlatformShareMills,
		update.ResellerShareMills,
		update.ApprovedAt,
		update.UpdatedAt,
		update.IntentID,
	).Error
}

func (r *repo) ListOpenCreatedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.PaymentIntent, error) {
	return r.many(ctx, db,
		`SELECT `+intentColumns+`
		 FROM payment_intents
		 WHERE status IN (?, ?) AND created_at < ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		domain.StatusAwaiting,
		domain.StatusPending,
		cutoff,
		limit,
	)
}

// ListUnsettledSince returns intents the gateway knows about that have not
// reached a terminal status yet.
func (r *repo) ListUnsettledSince(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]domain.PaymentIntent, error) {
	return r.many(ctx, db,
		`SELECT `+intentColumns+`
		 FROM payment_intents
		 WHERE status IN (?, ?) AND created_at >= ? AND gateway_id IS NOT NULL
		 ORDER BY created_at ASC
		 LIMIT ?`,
		domain.StatusAwaiting,
		domain.StatusPending,
		since,
		limit,
	)
}

func (r *repo) ListSales(ctx context.Context, db *gorm.DB, accessPointID snowflake.ID, limit int) ([]domain.Sale, error) {
	var sales []domain.Sale
	err := db.WithContext(ctx).Raw(
		`SELECT pi.id AS intent_id, d.mac_address, pi.plan_name, pi.amount_mills, pi.approved_at
		 FROM payment_intents pi
		 JOIN devices d ON d.id = pi.device_id
		 WHERE pi.access_point_id = ? AND pi.status = ? AND pi.approved_at IS NOT NULL
		 ORDER BY pi.approved_at DESC
		 LIMIT ?`,
		accessPointID,
		domain.StatusApproved,
		limit,
	).Scan(&sales).Error
	if err != nil {
		return nil, err
	}
	return sales, nil
}

func (r *repo) SalesTotals(ctx context.Context, db *gorm.DB, accessPointID snowflake.ID) (domain.SalesReport, error) {
	var row struct {
		TotalCount  int64
		TotalMills  int64
		ResellerCut int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS total_count,
		        COALESCE(SUM(amount_mills), 0) AS total_mills,
		        COALESCE(SUM(reseller_share_mills), 0) AS reseller_cut
		 FROM payment_intents
		 WHERE access_point_id = ? AND status = ?`,
		accessPointID,
		domain.StatusApproved,
	).Scan(&row).Error
	if err != nil {
		return domain.SalesReport{}, err
	}
	return domain.SalesReport{
		TotalCount:  row.TotalCount,
		TotalMills:  row.TotalMills,
		ResellerCut: row.ResellerCut,
	}, nil
}

func (r *repo) one(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.PaymentIntent, error) {
	var items []domain.PaymentIntent
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) many(ctx context.Context, db *gorm.DB, query string, args ...any) ([]domain.PaymentIntent, error) {
	var items []domain.PaymentIntent
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
