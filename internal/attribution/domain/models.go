// Package domain contains the order attribution models. One attribution
// row exists per attributed order; unattributed orders leave no trace.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type AttributionMethod string

const (
	MethodLink        AttributionMethod = "link"
	MethodCoupon      AttributionMethod = "coupon"
	MethodFingerprint AttributionMethod = "fingerprint"
)

// OrderAttribution binds an external order to the affiliate that earned
// it. Rows are immutable once created; commissions reference them.
type OrderAttribution struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	ShopID      snowflake.ID `gorm:"not null;uniqueIndex:ux_order_attributions_shop_order,priority:1"`
	OrderID     string       `gorm:"type:text;not null;uniqueIndex:ux_order_attributions_shop_order,priority:2"`
	OrderNumber string       `gorm:"type:text"`
	AffiliateID snowflake.ID `gorm:"not null;index"`
	// ClickRef points at the winning click row. Zero for coupon wins,
	// which need no click evidence.
	ClickRef      snowflake.ID      `gorm:"column:click_id"`
	Method        AttributionMethod `gorm:"type:text;not null"`
	SubtotalCents int64             `gorm:"not null"`
	Currency      string            `gorm:"type:text;not null"`
	CreatedAt     time.Time         `gorm:"not null;index"`
}

// TableName sets the database table name.
func (OrderAttribution) TableName() string { return "order_attributions" }

// AttributionSignals are the candidate signals carried by an inbound
// order event, all optional.
type AttributionSignals struct {
	ClickID string `json:"click_id"`
	Coupon  string `json:"coupon"`
	IPHash  string `json:"ip_hash"`
	UAHash  string `json:"ua_hash"`
}

// OrderEvent is a pre-verified inbound order or rebill event.
type OrderEvent struct {
	OrderID        string `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	SubtotalCents  int64  `json:"subtotal_cents"`
	Currency       string `json:"currency"`
	CustomerRef    string `json:"customer_ref"`
	IsSubscription bool   `json:"is_subscription"`
	SellingPlanID  string `json:"selling_plan_id"`
	// OccurredAt is the order timestamp used for window math. Zero means
	// "now", for senders that do not carry one.
	OccurredAt time.Time          `json:"occurred_at"`
	RiskScore  float64            `json:"risk_score"`
	Signals    AttributionSignals `json:"attribution_signals"`
}
