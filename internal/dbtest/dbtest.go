// Package dbtest opens an in-memory sqlite database carrying the production
// schema, for repository and service tests.
package dbtest

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/captiva/internal/migration"
	captivadb "github.com/smallbiznis/captiva/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a fresh database private to the test, configured the way the
// sqlite runtime backend is.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	if err := captivadb.StripRowLocks(db); err != nil {
		t.Fatalf("register row lock callbacks: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.ApplySQLiteSchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	return db
}

// Fixture describes a reseller with one access point selling one plan.
type Fixture struct {
	ResellerID           int64
	AccessPointID        int64
	PlanID               int64
	APIToken             string
	PlanName             string
	PriceMills           int64
	DurationMinutes      int
	CommissionPercentage string
}

// DefaultFixture sells a 60 minute plan for 10.000 at a 12% platform cut.
func DefaultFixture() Fixture {
	return Fixture{
		ResellerID:           7,
		AccessPointID:        500,
		PlanID:               900,
		APIToken:             "ap_test_token",
		PlanName:             "1 hora",
		PriceMills:           10000,
		DurationMinutes:      60,
		CommissionPercentage: "12",
	}
}

// Seed inserts f. An empty CommissionPercentage stores NULL; a zero
// ResellerID leaves the access point without a reseller.
func Seed(t testing.TB, db *gorm.DB, f Fixture) {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var resellerID any
	if f.ResellerID != 0 {
		resellerID = f.ResellerID
		if err := db.Exec(
			`INSERT INTO resellers (id, name, created_at) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
			f.ResellerID, "Reseller", now,
		).Error; err != nil {
			t.Fatalf("seed reseller: %v", err)
		}
	}
	var pct any
	if f.CommissionPercentage != "" {
		pct = f.CommissionPercentage
	}
	if err := db.Exec(
		`INSERT INTO access_points (id, name, reseller_id, commission_percentage, api_token, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.AccessPointID, "AP", resellerID, pct, f.APIToken, true, now, now,
	).Error; err != nil {
		t.Fatalf("seed access point: %v", err)
	}
	if err := db.Exec(
		`INSERT INTO plans (id, access_point_id, name, price_mills, duration_minutes, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.PlanID, f.AccessPointID, f.PlanName, f.PriceMills, f.DurationMinutes, true, now, now,
	).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
}
