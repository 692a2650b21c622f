package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusAwaiting    Status = "awaiting"
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusCancelled   Status = "cancelled"
	StatusExpired     Status = "expired"
	StatusRefunded    Status = "refunded"
	StatusChargedBack Status = "charged_back"
)

// Terminal reports whether no further transition is allowed, apart from the
// reversal of an approved intent.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusExpired, StatusRefunded, StatusChargedBack:
		return true
	default:
		return false
	}
}

func (s Status) Open() bool {
	return s == StatusAwaiting || s == StatusPending
}

func (s Status) Reversal() bool {
	return s == StatusRefunded || s == StatusChargedBack
}

// MapGatewayStatus translates a gateway-reported status into an intent
// status. Intermediate gateway states collapse into pending.
func MapGatewayStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved":
		return StatusApproved, nil
	case "pending", "authorized", "in_process", "in_mediation":
		return StatusPending, nil
	case "rejected":
		return StatusRejected, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	case "expired":
		return StatusExpired, nil
	case "refunded":
		return StatusRefunded, nil
	case "charged_back", "chargeback":
		return StatusChargedBack, nil
	default:
		return "", ErrUnknownStatus
	}
}

// PlanSnapshot is the plan as it was priced when the intent was created.
// Later catalog edits never reach it.
type PlanSnapshot struct {
	PlanID          snowflake.ID `gorm:"column:plan_id;not null" json:"plan_id"`
	Name            string       `gorm:"column:plan_name;type:text;not null" json:"name"`
	DurationMinutes int          `gorm:"column:plan_duration_minutes;not null" json:"duration_minutes"`
	AmountMills     int64        `gorm:"column:amount_mills;not null" json:"amount_mills"`
}

func (p PlanSnapshot) Duration() time.Duration {
	return time.Duration(p.DurationMinutes) * time.Minute
}

type PaymentIntent struct {
	ID                   snowflake.ID        `gorm:"primaryKey" json:"id"`
	DeviceID             snowflake.ID        `gorm:"not null;index" json:"device_id"`
	AccessPointID        snowflake.ID        `gorm:"not null;index" json:"access_point_id"`
	ResellerID           *snowflake.ID       `json:"reseller_id,omitempty"`
	Plan                 PlanSnapshot        `gorm:"embedded" json:"plan"`
	CommissionPercentage decimal.NullDecimal `gorm:"type:numeric" json:"commission_percentage"`
	GatewayProvider      string              `gorm:"type:text;not null" json:"gateway_provider"`
	GatewayID            *string             `gorm:"type:text;uniqueIndex" json:"gateway_id,omitempty"`
	Status               Status              `gorm:"type:text;not null" json:"status"`
	StatusDetail         string              `gorm:"type:text;not null;default:''" json:"status_detail"`
	PixPayload           string              `gorm:"type:text;not null;default:''" json:"pix_payload"`
	PixQRBase64          string              `gorm:"column:pix_qr_base64;type:text;not null;default:''" json:"pix_qr_base64"`
	PlatformShareMills   *int64              `json:"platform_share_mills,omitempty"`
	ResellerShareMills   *int64              `json:"reseller_share_mills,omitempty"`
	LastObservation      datatypes.JSON      `gorm:"type:jsonb" json:"last_observation,omitempty"`
	CreatedAt            time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time           `gorm:"not null" json:"updated_at"`
	ApprovedAt           *time.Time          `json:"approved_at,omitempty"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }

// Source names the path that observed a gateway status.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceSweep   Source = "sweep"
	SourceExpiry  Source = "expiry"
)

// Observation is one reading of an intent's status at the gateway.
type Observation struct {
	Source      Source    `json:"source"`
	Status      string    `json:"status"`
	Detail      string    `json:"detail,omitempty"`
	AmountMills int64     `json:"amount_mills,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// OutcomeUpdate is the durable write produced by one applied observation.
type OutcomeUpdate struct {
	IntentID           snowflake.ID
	Status             Status
	StatusDetail       string
	Observation        datatypes.JSON
	PlatformShareMills *int64
	ResellerShareMills *int64
	ApprovedAt         *time.Time
	UpdatedAt          time.Time
}

// IntentView is what the captive portal sees of an intent.
type IntentView struct {
	ID          snowflake.ID `json:"id"`
	Status      Status       `json:"status"`
	PlanName    string       `json:"plan_name"`
	DurationMin int          `json:"duration_minutes"`
	AmountMills int64        `json:"amount_mills"`
	Amount      float64      `json:"amount"`
	PixPayload  string       `json:"pix_payload"`
	PixQRBase64 string       `json:"pix_qr_base64"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
	ApprovedAt  *time.Time   `json:"approved_at,omitempty"`
}

type CreateIntentRequest struct {
	MACAddress    string
	PlanID        snowflake.ID
	AccessPointID snowflake.ID
}

// Sale is an approved intent as reported back to its access point.
type Sale struct {
	IntentID    snowflake.ID `json:"intent_id"`
	MACAddress  string       `json:"mac_address"`
	PlanName    string       `json:"plan_name"`
	AmountMills int64        `json:"amount_mills"`
	ApprovedAt  time.Time    `json:"approved_at"`
}

type SalesReport struct {
	Sales       []Sale `json:"sales"`
	TotalCount  int64  `json:"total_count"`
	TotalMills  int64  `json:"total_mills"`
	ResellerCut int64  `json:"reseller_mills"`
}
