// Package domain contains the commission models: the monetary record an
// attributed order earns and the rule snapshot frozen alongside it.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	offerdomain "github.com/smallbiznis/partnerly/internal/offer/domain"
)

// CommissionStatus is the lifecycle state. Transitions run through the
// service; nothing writes the column directly.
type CommissionStatus string

const (
	StatusPending  CommissionStatus = "pending"
	StatusEligible CommissionStatus = "eligible"
	StatusApproved CommissionStatus = "approved"
	StatusPaid     CommissionStatus = "paid"
	StatusReversed CommissionStatus = "reversed"
)

// Rule is one closed commission rule: exactly one amount field applies,
// selected by Kind.
type Rule struct {
	Kind        offerdomain.CommissionType `json:"kind"`
	AmountCents int64                      `json:"amount_cents,omitempty"`
	PercentBps  int64                      `json:"percent_bps,omitempty"`
}

// RuleSnapshot freezes the offer terms a commission was computed under.
// Offers mutate freely afterwards; the snapshot is the audit record of
// what actually applied.
type RuleSnapshot struct {
	OfferID string `json:"offer_id"`
	// Applied is the rule this commission's amount came from, either the
	// offer's main rule or its rebill rule.
	Applied     Rule                     `json:"applied"`
	Policy      offerdomain.RebillPolicy `json:"policy"`
	MaxPayments int                      `json:"max_payments,omitempty"`
	RebillRule  *Rule                    `json:"rebill_rule,omitempty"`
	WindowDays  int                      `json:"window_days"`
}

// Value implements driver.Valuer so gorm stores the snapshot as JSON.
func (s RuleSnapshot) Value() (driver.Value, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (s *RuleSnapshot) Scan(value any) error {
	if value == nil {
		*s = RuleSnapshot{}
		return nil
	}
	switch typed := value.(type) {
	case []byte:
		return json.Unmarshal(typed, s)
	case string:
		return json.Unmarshal([]byte(typed), s)
	default:
		return errors.New("unsupported rule snapshot column type")
	}
}

// Commission is the payable record for one attributed payment. Amount and
// snapshot are immutable after creation; only Status, PayoutRunID and
// UpdatedAt change, and only through state-machine transitions.
type Commission struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	ShopID             snowflake.ID `gorm:"not null;uniqueIndex:ux_commissions_shop_order,priority:1" json:"shop_id"`
	AffiliateID        snowflake.ID `gorm:"not null;index" json:"affiliate_id"`
	OrderAttributionID snowflake.ID `gorm:"not null;uniqueIndex:ux_commissions_attribution_sequence,priority:1" json:"order_attribution_id"`
	// OrderID is the external order the payment belongs to; rebills carry
	// their own order id, so the pair (shop, order) is unique as well.
	OrderID        string           `gorm:"type:text;not null;uniqueIndex:ux_commissions_shop_order,priority:2" json:"order_id"`
	RebillSequence int              `gorm:"not null;default:0;uniqueIndex:ux_commissions_attribution_sequence,priority:2" json:"rebill_sequence"`
	AmountCents    int64            `gorm:"not null" json:"amount_cents"`
	Currency       string           `gorm:"type:text;not null" json:"currency"`
	Status         CommissionStatus `gorm:"type:text;not null;default:'pending';index" json:"status"`
	// EligibleDate is creation time plus the affiliate's payout terms,
	// fixed at creation and never recomputed.
	EligibleDate time.Time    `gorm:"not null" json:"eligible_date"`
	RuleSnapshot RuleSnapshot `gorm:"type:jsonb;not null" json:"rule_snapshot"`
	// PayoutRunID is zero until the commission joins a run.
	PayoutRunID snowflake.ID `gorm:"index" json:"payout_run_id,omitempty"`
	CreatedAt   time.Time    `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Commission) TableName() string { return "commissions" }
