package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Device is a network client seen on an access point. Its row carries the
// access session; devices are never deleted.
type Device struct {
	ID                  snowflake.ID  `gorm:"primaryKey" json:"id"`
	MACAddress          string        `gorm:"column:mac_address;not null;uniqueIndex:ux_devices_mac_ap,priority:1" json:"mac_address"`
	AccessPointID       snowflake.ID  `gorm:"not null;uniqueIndex:ux_devices_mac_ap,priority:2" json:"access_point_id"`
	AccessStatus        Status        `gorm:"type:text;not null" json:"access_status"`
	EntitlementStart    *time.Time    `json:"entitlement_start,omitempty"`
	EntitlementEnd      *time.Time    `json:"entitlement_end,omitempty"`
	EntitlementIntentID *snowflake.ID `json:"entitlement_intent_id,omitempty"`
	FirstSeen           time.Time     `gorm:"not null" json:"first_seen"`
	LastSeen            time.Time     `gorm:"not null" json:"last_seen"`
	PurchaseCount       int           `gorm:"not null;default:0" json:"purchase_count"`
	TotalSpentMills     int64         `gorm:"not null;default:0" json:"total_spent_mills"`
	LastPlanName        string        `gorm:"type:text;not null;default:''" json:"last_plan_name"`
	LastPlanAmountMills int64         `gorm:"not null;default:0" json:"last_plan_amount_mills"`
	UpdatedAt           time.Time     `gorm:"not null" json:"updated_at"`
}

func (Device) TableName() string { return "devices" }

// Session projects the session columns of a device.
func (d Device) Session() Session {
	return Session{
		Status:           d.AccessStatus,
		EntitlementStart: d.EntitlementStart,
		EntitlementEnd:   d.EntitlementEnd,
		IntentID:         d.EntitlementIntentID,
	}
}

// PendingPayment summarizes the newest open intent of a device.
type PendingPayment struct {
	IntentID    snowflake.ID `json:"payment_intent_id"`
	Status      string       `json:"status"`
	PlanName    string       `json:"plan_name"`
	AmountMills int64        `json:"amount_mills"`
	PixPayload  string       `json:"pix_payload,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

type StatusView struct {
	DeviceID         snowflake.ID    `json:"device_id,omitempty"`
	MACAddress       string          `json:"mac_address"`
	Status           Status          `json:"status"`
	RemainingMinutes int             `json:"remaining_minutes"`
	EntitlementEnd   *time.Time      `json:"entitlement_end,omitempty"`
	PendingPayment   *PendingPayment `json:"pending_payment,omitempty"`
}

type PresenceEvent string

const (
	PresenceConnect    PresenceEvent = "connect"
	PresenceDisconnect PresenceEvent = "disconnect"
)

type PresenceRequest struct {
	MACAddress    string
	AccessPointID snowflake.ID
	Event         PresenceEvent
}

// PresenceResult reports whether the access point may let the device through.
type PresenceResult struct {
	Accepted         bool   `json:"accepted"`
	Reason           string `json:"reason,omitempty"`
	Status           Status `json:"status"`
	RemainingMinutes int    `json:"remaining_minutes"`
}
