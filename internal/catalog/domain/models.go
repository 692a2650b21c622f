package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Reseller struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (Reseller) TableName() string { return "resellers" }

// AccessPoint is a router selling access. CommissionPercentage is the
// platform's cut of each sale; NULL falls back to the operator default.
type AccessPoint struct {
	ID                   snowflake.ID        `gorm:"primaryKey" json:"id"`
	Name                 string              `gorm:"type:text;not null" json:"name"`
	ResellerID           *snowflake.ID       `json:"reseller_id,omitempty"`
	CommissionPercentage decimal.NullDecimal `gorm:"type:numeric" json:"commission_percentage"`
	APIToken             string              `gorm:"column:api_token;type:text;not null" json:"-"`
	TokenRegeneratedAt   *time.Time          `json:"token_regenerated_at,omitempty"`
	Active               bool                `gorm:"not null;default:true" json:"active"`
	LastHeartbeat        *time.Time          `json:"last_heartbeat,omitempty"`
	ReportedStatus       string              `gorm:"type:text;not null;default:''" json:"reported_status"`
	ConnectedDevices     int                 `gorm:"not null;default:0" json:"connected_devices"`
	CreatedAt            time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time           `gorm:"not null" json:"updated_at"`
}

func (AccessPoint) TableName() string { return "access_points" }

type Plan struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	AccessPointID   snowflake.ID `gorm:"not null;index" json:"access_point_id"`
	Name            string       `gorm:"type:text;not null" json:"name"`
	PriceMills      int64        `gorm:"not null" json:"price_mills"`
	DurationMinutes int          `gorm:"not null" json:"duration_minutes"`
	Active          bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

func (p Plan) Duration() time.Duration {
	return time.Duration(p.DurationMinutes) * time.Minute
}

type ConnectionStatus string

const (
	ConnectionNeverConnected ConnectionStatus = "never_connected"
	ConnectionOnline         ConnectionStatus = "online"
	ConnectionUnstable       ConnectionStatus = "unstable"
	ConnectionOffline        ConnectionStatus = "offline"
)

// ConnectionStatusAt classifies an access point by the age of its last heartbeat.
func ConnectionStatusAt(lastHeartbeat *time.Time, now time.Time, unstableAfter, offlineAfter time.Duration) ConnectionStatus {
	if lastHeartbeat == nil {
		return ConnectionNeverConnected
	}
	age := now.Sub(*lastHeartbeat)
	switch {
	case age > offlineAfter:
		return ConnectionOffline
	case age > unstableAfter:
		return ConnectionUnstable
	default:
		return ConnectionOnline
	}
}

type HeartbeatRequest struct {
	AccessPointID    snowflake.ID
	ReportedStatus   string
	ConnectedDevices int
}

type AccessPointStatus struct {
	ID                 snowflake.ID     `json:"id"`
	Name               string           `json:"name"`
	Active             bool             `json:"active"`
	ConnectionStatus   ConnectionStatus `json:"connection_status"`
	LastHeartbeat      *time.Time       `json:"last_heartbeat,omitempty"`
	MinutesSinceLastHB *int             `json:"minutes_since_heartbeat,omitempty"`
	ReportedStatus     string           `json:"reported_status"`
	ConnectedDevices   int              `json:"connected_devices"`
}

type FleetReport struct {
	AccessPoints     []AccessPointStatus `json:"access_points"`
	Total            int                 `json:"total"`
	Online           int                 `json:"online"`
	Unstable         int                 `json:"unstable"`
	Offline          int                 `json:"offline"`
	NeverConnected   int                 `json:"never_connected"`
	ConnectedDevices int                 `json:"connected_devices"`
}
