// Package domain contains persistence models for the click store.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Click is one recorded click event. Rows are append-only and never
// updated; they serve as the evidence trail for attribution.
type Click struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	ShopID      snowflake.ID `gorm:"not null;uniqueIndex:ux_clicks_shop_click_id,priority:1;index:ix_clicks_shop_fingerprint,priority:1"`
	AffiliateID snowflake.ID `gorm:"not null;index"`
	// ClickID is the public token carried by tracking links, unique per
	// shop. Externally supplied or generated at ingest.
	ClickID    string    `gorm:"type:text;not null;uniqueIndex:ux_clicks_shop_click_id,priority:2"`
	LinkID     string    `gorm:"type:text"`
	LandingURL string    `gorm:"type:text;not null"`
	IPHash     string    `gorm:"type:text;not null;index:ix_clicks_shop_fingerprint,priority:2"`
	UAHash     string    `gorm:"type:text;not null;index:ix_clicks_shop_fingerprint,priority:3"`
	Referrer   string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"not null;index"`
}

// TableName sets the database table name.
func (Click) TableName() string { return "clicks" }

// HashSignal sha256-hexes a raw connection signal (IP, user agent) for
// callers that did not hash at the edge. Empty input stays empty so
// absent signals never collide on a shared digest.
func HashSignal(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
