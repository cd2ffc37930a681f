package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CommissionType selects how a rule turns an order into a commission amount.
type CommissionType string

const (
	CommissionTypeFlatRate   CommissionType = "flat_rate"
	CommissionTypePercentage CommissionType = "percentage"
)

// RebillPolicy controls whether subscription rebills earn commissions.
type RebillPolicy string

const (
	RebillPolicyNo              RebillPolicy = "no"
	RebillPolicyCreditAll       RebillPolicy = "credit_all"
	RebillPolicyCreditNone      RebillPolicy = "credit_none"
	RebillPolicyCreditFirstOnly RebillPolicy = "credit_first_only"
)

type OfferStatus string

const (
	OfferStatusActive   OfferStatus = "active"
	OfferStatusArchived OfferStatus = "archived"
)

// Offer is a commission plan. Commissions snapshot the rule fields at
// calculation time, so editing an offer only affects future orders.
type Offer struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	ShopID         snowflake.ID   `gorm:"not null;index" json:"shop_id"`
	Name           string         `gorm:"not null" json:"name"`
	Slug           string         `gorm:"not null" json:"slug"`
	Status         OfferStatus    `gorm:"not null;default:'active'" json:"status"`
	CommissionType CommissionType `gorm:"not null" json:"commission_type"`
	AmountCents    int64          `json:"amount_cents,omitempty"`
	PercentBps     int64          `json:"percent_bps,omitempty"`
	Currency       string         `gorm:"not null" json:"currency"`
	// WindowDays is the attribution window applied to this offer's
	// affiliates. Both window ends are inclusive.
	WindowDays int `gorm:"not null" json:"window_days"`

	SellingSubscriptions    RebillPolicy   `gorm:"not null;default:'no'" json:"selling_subscriptions"`
	SubscriptionMaxPayments int            `json:"subscription_max_payments,omitempty"`
	RebillType              CommissionType `json:"rebill_type,omitempty"`
	RebillAmountCents       int64          `json:"rebill_amount_cents,omitempty"`
	RebillPercentBps        int64          `json:"rebill_percent_bps,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}
