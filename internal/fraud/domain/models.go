// Package domain contains fraud flag models for commission review holds.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// FlagType names how a flag was raised.
type FlagType string

const (
	FlagTypeManual    FlagType = "manual"
	FlagTypeRiskScore FlagType = "risk_score"
	FlagTypeExternal  FlagType = "external"
)

// FraudFlag holds a commission (or a whole affiliate) for review. Only an
// explicit resolution clears it; nothing expires on its own.
type FraudFlag struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	ShopID      snowflake.ID `gorm:"not null;index:ix_fraud_flags_shop_commission,priority:1"`
	AffiliateID snowflake.ID `gorm:"not null;index"`
	// CommissionID is zero for affiliate-level flags, which mark the
	// affiliate for review without blocking any specific commission.
	CommissionID snowflake.ID `gorm:"index:ix_fraud_flags_shop_commission,priority:2"`
	FlagType     FlagType     `gorm:"type:text;not null"`
	Score        float64      `gorm:"not null;default:0"`
	Reason       string       `gorm:"type:text;not null"`
	Resolved     bool         `gorm:"not null;default:false"`
	ResolvedBy   *string      `gorm:"type:text"`
	ResolvedAt   *time.Time   `gorm:""`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (FraudFlag) TableName() string { return "fraud_flags" }
