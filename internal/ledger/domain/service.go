package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// Credit and Reverse run inside the caller's transaction and report
	// whether the posting was applied (false when it already was).
	Credit(ctx context.Context, tx *gorm.DB, posting Posting) (bool, error)
	Reverse(ctx context.Context, tx *gorm.DB, paymentIntentID snowflake.ID) (bool, error)
	Balances(ctx context.Context) (Balances, error)
}
