package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryKind distinguishes the original credit of a sale from its reversal.
type EntryKind string

const (
	EntryKindCredit   EntryKind = "credit"
	EntryKindReversal EntryKind = "reversal"
)

const PlatformAccountID = 1

type PlatformBalance struct {
	ID           int       `gorm:"primaryKey"`
	BalanceMills int64     `gorm:"not null;default:0"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (PlatformBalance) TableName() string { return "ledger_platform" }

type ResellerBalance struct {
	ResellerID   snowflake.ID `gorm:"primaryKey" json:"reseller_id"`
	BalanceMills int64        `gorm:"not null;default:0" json:"balance_mills"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

func (ResellerBalance) TableName() string { return "ledger_reseller" }

// Entry is the journal row proving a posting happened exactly once.
type Entry struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	PaymentIntentID snowflake.ID  `gorm:"not null;uniqueIndex:ux_ledger_entries_intent_kind,priority:1"`
	Kind            EntryKind     `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_intent_kind,priority:2"`
	ResellerID      *snowflake.ID `gorm:"index"`
	PlatformMills   int64         `gorm:"not null"`
	ResellerMills   int64         `gorm:"not null"`
	CreatedAt       time.Time     `gorm:"not null"`
}

func (Entry) TableName() string { return "ledger_entries" }

// Posting is the split of one payment intent. A reseller share without a
// reseller accrues to the platform.
type Posting struct {
	PaymentIntentID snowflake.ID
	ResellerID      *snowflake.ID
	PlatformMills   int64
	ResellerMills   int64
}

type Balances struct {
	PlatformMills int64             `json:"platform_mills"`
	Resellers     []ResellerBalance `json:"resellers"`
}
