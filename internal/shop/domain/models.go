// Package domain contains persistence models for the shop service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ShopStatus string

const (
	ShopStatusActive    ShopStatus = "active"
	ShopStatusSuspended ShopStatus = "suspended"
)

// Shop represents a merchant store. Every attribution-side record is scoped
// to exactly one shop.
type Shop struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	Name     string       `gorm:"type:text;not null" json:"name"`
	Slug     string       `gorm:"type:text;not null;uniqueIndex:ux_shops_slug" json:"slug"`
	Domain   string       `gorm:"type:text" json:"domain"`
	Currency string       `gorm:"type:text;not null" json:"currency"`
	// PostbackURL is the shop's listener for approval/payment events.
	// Macros: {commission_id} {event} {amount} {amount_cents} {currency}
	// {affiliate_id} {order_id}.
	PostbackURL string            `gorm:"column:postback_url;type:text" json:"postback_url"`
	Status      ShopStatus        `gorm:"type:text;not null;default:'active'" json:"status"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Shop) TableName() string { return "shops" }

const (
	RoleOwner   = "owner"
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
)

// ShopMember ties an externally managed user identity to a role within
// one shop. One row per (shop, user); upserts change the role in place.
type ShopMember struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	ShopID    snowflake.ID `gorm:"not null;uniqueIndex:ux_shop_members_shop_user,priority:1" json:"shop_id"`
	UserID    string       `gorm:"type:text;not null;uniqueIndex:ux_shop_members_shop_user,priority:2" json:"user_id"`
	Role      string       `gorm:"type:text;not null" json:"role"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (ShopMember) TableName() string { return "shop_members" }
