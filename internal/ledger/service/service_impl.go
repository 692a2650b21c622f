package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/captiva/internal/clock"
	ledgerdomain "github.com/smallbiznis/captiva/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/captiva/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      clk,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Credit(ctx context.Context, tx *gorm.DB, posting ledgerdomain.Posting) (bool, error) {
	if posting.PaymentIntentID == 0 {
		return false, ledgerdomain.ErrInvalidPaymentIntent
	}
	if posting.PlatformMills < 0 || posting.ResellerMills < 0 {
		return false, ledgerdomain.ErrNegativeShare
	}

	now := s.clock.Now()
	inserted, err := s.insertEntry(ctx, tx, ledgerdomain.EntryKindCredit, posting, now)
	if err != nil || !inserted {
		return false, err
	}
	if err := s.applyDeltas(ctx, tx, posting, 1, now); err != nil {
		return false, err
	}

	s.obsMetrics.RecordLedgerPosting(ctx, string(ledgerdomain.EntryKindCredit))
	s.log.Info("ledger credited",
		zap.String("payment_intent_id", posting.PaymentIntentID.String()),
		zap.Int64("platform_mills", posting.PlatformMills),
		zap.Int64("reseller_mills", posting.ResellerMills),
	)
	return true, nil
}

// Reverse undoes the recorded credit of an intent using the journaled
// amounts, never a recomputed split.
func (s *Service) Reverse(ctx context.Context, tx *gorm.DB, paymentIntentID snowflake.ID) (bool, error) {
	if paymentIntentID == 0 {
		return false, ledgerdomain.ErrInvalidPaymentIntent
	}

	var credits []ledgerdomain.Entry
	if err := tx.WithContext(ctx).Raw(
		`SELECT id, payment_intent_id, kind, reseller_id, platform_mills, reseller_mills, created_at
		 FROM ledger_entries
		 WHERE payment_intent_id = ? AND kind = ?`,
		paymentIntentID,
		string(ledgerdomain.EntryKindCredit),
	).Scan(&credits).Error; err != nil {
		return false, err
	}
	if len(credits) == 0 {
		return false, ledgerdomain.ErrMissingCredit
	}
	credit := credits[0]
	posting := ledgerdomain.Posting{
		PaymentIntentID: paymentIntentID,
		ResellerID:      credit.ResellerID,
		PlatformMills:   credit.PlatformMills,
		ResellerMills:   credit.ResellerMills,
	}

	now := s.clock.Now()
	inserted, err := s.insertEntry(ctx, tx, ledgerdomain.EntryKindReversal, posting, now)
	if err != nil || !inserted {
		return false, err
	}
	if err := s.applyDeltas(ctx, tx, posting, -1, now); err != nil {
		return false, err
	}

	s.obsMetrics.RecordLedgerPosting(ctx, string(ledgerdomain.EntryKindReversal))
	s.log.Info("ledger credit reversed",
		zap.String("payment_intent_id", paymentIntentID.String()),
		zap.Int64("platform_mills", posting.PlatformMills),
		zap.Int64("reseller_mills", posting.ResellerMills),
	)
	return true, nil
}

func (s *Service) Balances(ctx context.Context) (ledgerdomain.Balances, error) {
	var platform int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(balance_mills), 0) FROM ledger_platform WHERE id = ?`,
		ledgerdomain.PlatformAccountID,
	).Scan(&platform).Error; err != nil {
		return ledgerdomain.Balances{}, err
	}

	var resellers []ledgerdomain.ResellerBalance
	if err := s.db.WithContext(ctx).Raw(
		`SELECT reseller_id, balance_mills, updated_at
		 FROM ledger_reseller
		 ORDER BY reseller_id ASC`,
	).Scan(&resellers).Error; err != nil {
		return ledgerdomain.Balances{}, err
	}

	return ledgerdomain.Balances{PlatformMills: platform, Resellers: resellers}, nil
}

func (s *Service) insertEntry(ctx context.Context, tx *gorm.DB, kind ledgerdomain.EntryKind, posting ledgerdomain.Posting, now time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (
			id, payment_intent_id, kind, reseller_id, platform_mills, reseller_mills, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (payment_intent_id, kind) DO NOTHING`,
		s.genID.Generate(),
		posting.PaymentIntentID,
		string(kind),
		posting.ResellerID,
		posting.PlatformMills,
		posting.ResellerMills,
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// applyDeltas increments balances in place; sign is +1 for a credit and -1
// for a reversal.
func (s *Service) applyDeltas(ctx context.Context, tx *gorm.DB, posting ledgerdomain.Posting, sign int64, now time.Time) error {
	platformDelta := posting.PlatformMills
	if posting.ResellerID == nil {
		platformDelta += posting.ResellerMills
	}

	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_platform (id, balance_mills, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET balance_mills = ledger_platform.balance_mills + excluded.balance_mills,
		     updated_at = excluded.updated_at`,
		ledgerdomain.PlatformAccountID,
		sign*platformDelta,
		now,
	).Error; err != nil {
		return err
	}

	if posting.ResellerID == nil {
		return nil
	}
	return tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_reseller (reseller_id, balance_mills, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (reseller_id) DO UPDATE
		 SET balance_mills = ledger_reseller.balance_mills + excluded.balance_mills,
		     updated_at = excluded.updated_at`,
		*posting.ResellerID,
		sign*posting.ResellerMills,
		now,
	).Error
}
