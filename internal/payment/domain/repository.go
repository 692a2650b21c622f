package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, intent *PaymentIntent) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentIntent, error)
	FindByGatewayID(ctx context.Context, db *gorm.DB, provider, gatewayID string) (*PaymentIntent, error)
	GetForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentIntent, error)
	FindOpen(ctx context.Context, db *gorm.DB, deviceID, planID, accessPointID snowflake.ID) (*PaymentIntent, error)
	UpdateOutcome(ctx context.Context, db *gorm.DB, update OutcomeUpdate) error
	ListOpenCreatedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]PaymentIntent, error)
	ListUnsettledSince(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]PaymentIntent, error)
	ListSales(ctx context.Context, db *gorm.DB, accessPointID snowflake.ID, limit int) ([]Sale, error)
	SalesTotals(ctx context.Context, db *gorm.DB, accessPointID snowflake.ID) (SalesReport, error)
}
