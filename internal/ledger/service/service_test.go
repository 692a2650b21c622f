package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/captiva/internal/clock"
	"github.com/smallbiznis/captiva/internal/dbtest"
	ledgerdomain "github.com/smallbiznis/captiva/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newLedger(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}).(*Service)
	return svc, db
}

func resellerPtr(id int64) *snowflake.ID {
	v := snowflake.ID(id)
	return &v
}

func TestCreditIsIdempotent(t *testing.T) {
	svc, db := newLedger(t)
	ctx := context.Background()
	posting := ledgerdomain.Posting{
		PaymentIntentID: 10,
		ResellerID:      resellerPtr(7),
		PlatformMills:   1200,
		ResellerMills:   8800,
	}

	for i := 0; i < 3; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			applied, err := svc.Credit(ctx, tx, posting)
			if err != nil {
				return err
			}
			assert.Equal(t, i == 0, applied)
			return nil
		})
		require.NoError(t, err)
	}

	balances, err := svc.Balances(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), balances.PlatformMills)
	require.Len(t, balances.Resellers, 1)
	assert.Equal(t, int64(8800), balances.Resellers[0].BalanceMills)
}

func TestReverseRestoresBalances(t *testing.T) {
	svc, db := newLedger(t)
	ctx := context.Background()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Credit(ctx, tx, ledgerdomain.Posting{PaymentIntentID: 1, ResellerID: resellerPtr(7), PlatformMills: 500, ResellerMills: 4500})
		return err
	}))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Credit(ctx, tx, ledgerdomain.Posting{PaymentIntentID: 2, ResellerID: resellerPtr(7), PlatformMills: 1200, ResellerMills: 8800})
		return err
	}))

	for i := 0; i < 2; i++ {
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			applied, err := svc.Reverse(ctx, tx, snowflake.ID(2))
			assert.Equal(t, i == 0, applied)
			return err
		}))
	}

	balances, err := svc.Balances(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balances.PlatformMills)
	require.Len(t, balances.Resellers, 1)
	assert.Equal(t, int64(4500), balances.Resellers[0].BalanceMills)
}

func TestReverseWithoutCredit(t *testing.T) {
	svc, db := newLedger(t)
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Reverse(context.Background(), tx, snowflake.ID(3))
		return err
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrMissingCredit)
}

func TestCreditWithoutResellerAccruesToPlatform(t *testing.T) {
	svc, db := newLedger(t)
	ctx := context.Background()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Credit(ctx, tx, ledgerdomain.Posting{PaymentIntentID: 4, PlatformMills: 100, ResellerMills: 900})
		return err
	}))

	balances, err := svc.Balances(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balances.PlatformMills)
	assert.Empty(t, balances.Resellers)
}

func TestCreditRollsBackWithCallerTransaction(t *testing.T) {
	svc, db := newLedger(t)
	ctx := context.Background()
	_ = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Credit(ctx, tx, ledgerdomain.Posting{PaymentIntentID: 5, ResellerID: resellerPtr(1), PlatformMills: 100, ResellerMills: 900})
		require.NoError(t, err)
		return assert.AnError
	})

	balances, err := svc.Balances(ctx)
	require.NoError(t, err)
	assert.Zero(t, balances.PlatformMills)
	assert.Empty(t, balances.Resellers)
}

func TestCreditValidates(t *testing.T) {
	svc, db := newLedger(t)
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Credit(context.Background(), tx, ledgerdomain.Posting{PaymentIntentID: 6, PlatformMills: -1})
		return err
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrNegativeShare)
}
