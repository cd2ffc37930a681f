package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type AffiliateStatus string

const (
	AffiliateStatusPending   AffiliateStatus = "pending"
	AffiliateStatusActive    AffiliateStatus = "active"
	AffiliateStatusSuspended AffiliateStatus = "suspended"
	AffiliateStatusRejected  AffiliateStatus = "rejected"
)

type PayoutMethod string

const (
	PayoutMethodPaypal PayoutMethod = "paypal"
	PayoutMethodBank   PayoutMethod = "bank"
	PayoutMethodManual PayoutMethod = "manual"
)

const DefaultPayoutTermsDays = 30

type Affiliate struct {
	ID     snowflake.ID `gorm:"primaryKey" json:"id"`
	ShopID snowflake.ID `gorm:"not null;uniqueIndex:ux_affiliates_shop_email,priority:1" json:"shop_id"`
	// AffiliateNumber is the per-shop display number shown to merchants.
	// Assigned under a shop row lock so concurrent signups never collide.
	AffiliateNumber int64             `gorm:"not null" json:"affiliate_number"`
	Name            string            `gorm:"not null" json:"name"`
	Slug            string            `gorm:"not null" json:"slug"`
	Email           string            `gorm:"not null;uniqueIndex:ux_affiliates_shop_email,priority:2" json:"email"`
	Status          AffiliateStatus   `gorm:"not null;default:'pending'" json:"status"`
	OfferID         snowflake.ID      `gorm:"index" json:"offer_id,omitempty"`
	PayoutTermsDays int               `gorm:"not null;default:30" json:"payout_terms_days"`
	PayoutMethod    PayoutMethod      `json:"payout_method,omitempty"`
	PayoutReference string            `json:"payout_reference,omitempty"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

type Coupon struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	ShopID      snowflake.ID `gorm:"not null;uniqueIndex:ux_coupons_shop_code,priority:1" json:"shop_id"`
	AffiliateID snowflake.ID `gorm:"not null;index" json:"affiliate_id"`
	// Code is stored uppercase; lookups normalize before matching.
	Code      string    `gorm:"not null;uniqueIndex:ux_coupons_shop_code,priority:2" json:"code"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}
