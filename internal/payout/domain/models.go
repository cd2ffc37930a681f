// Package domain holds the payout run models. A run groups payable
// commissions for one settlement; run status and member status move in
// lockstep, so a paid run never contains an unpaid commission.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PayoutRunStatus string

const (
	RunStatusDraft    PayoutRunStatus = "draft"
	RunStatusApproved PayoutRunStatus = "approved"
	RunStatusPaid     PayoutRunStatus = "paid"
)

// Provider settlement states recorded on runs submitted to an external
// payout API. Empty means no submission happened.
const (
	ProviderStatusSubmitted = "submitted"
	ProviderStatusSettled   = "settled"
	ProviderStatusFailed    = "failed"
)

type PayoutRun struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	ShopID      snowflake.ID    `gorm:"not null;index" json:"shop_id"`
	PeriodStart time.Time       `gorm:"not null" json:"period_start"`
	PeriodEnd   time.Time       `gorm:"not null" json:"period_end"`
	Status      PayoutRunStatus `gorm:"type:text;not null;default:'draft';index" json:"status"`
	TotalCents  int64           `gorm:"not null" json:"total_cents"`
	Currency    string          `gorm:"type:text;not null" json:"currency"`
	MemberCount int             `gorm:"not null" json:"member_count"`
	// ExternalBatchID is the settlement reference: operator-supplied on
	// approval, or returned by the provider on submission.
	ExternalBatchID string     `gorm:"type:text" json:"external_batch_id,omitempty"`
	Provider        string     `gorm:"type:text" json:"provider,omitempty"`
	ProviderStatus  string     `gorm:"type:text;index" json:"provider_status,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CreatedAt       time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (PayoutRun) TableName() string { return "payout_runs" }

// PayoutRunCommission links one commission into one run. The unique
// index on commission_id means a commission joins at most one run, ever.
type PayoutRunCommission struct {
	PayoutRunID  snowflake.ID `gorm:"primaryKey" json:"payout_run_id"`
	CommissionID snowflake.ID `gorm:"primaryKey;uniqueIndex:ux_payout_run_commissions_commission" json:"commission_id"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (PayoutRunCommission) TableName() string { return "payout_run_commissions" }

// ProviderConfig stores one shop's payout provider credentials,
// overriding the process-level default for that shop.
type ProviderConfig struct {
	ID        snowflake.ID   `gorm:"primaryKey" json:"id"`
	ShopID    snowflake.ID   `gorm:"not null;uniqueIndex:ux_payout_provider_configs_shop,priority:1" json:"shop_id"`
	Provider  string         `gorm:"type:text;not null" json:"provider"`
	Config    datatypes.JSON `gorm:"type:jsonb;not null" json:"config"`
	IsActive  bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (ProviderConfig) TableName() string { return "payout_provider_configs" }
