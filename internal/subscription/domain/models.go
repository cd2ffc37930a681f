// Package domain contains persistence models for recurring-order lineages.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionAttribution tracks one recurring-order lineage: how many
// payments the subscription has made and whether it still runs. The
// payments counter starts at zero for the initial purchase and feeds the
// rebill commission rules.
type SubscriptionAttribution struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	ShopID             snowflake.ID `gorm:"not null;index:ix_subscription_attributions_lookup,priority:1"`
	OrderAttributionID snowflake.ID `gorm:"not null;uniqueIndex:ux_subscription_attributions_attribution"`
	CustomerRef        string       `gorm:"type:text;not null;index:ix_subscription_attributions_lookup,priority:2"`
	SellingPlanID      string       `gorm:"type:text;index:ix_subscription_attributions_lookup,priority:3"`
	PaymentsMade       int          `gorm:"not null;default:0"`
	Active             bool         `gorm:"not null;default:true"`
	// LastOrderID guards against replayed rebill webhooks: a rebill
	// carrying the order we already counted is a no-op.
	LastOrderID string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SubscriptionAttribution) TableName() string { return "subscription_attributions" }
