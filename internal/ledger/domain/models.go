// Package domain contains the affiliate earnings ledger model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryType names the financial event a posting records.
type EntryType string

const (
	EntryCommissionApproved EntryType = "commission_approved"
	EntryCommissionReversed EntryType = "commission_reversed"
	EntryPayoutPaid         EntryType = "payout_paid"
)

// SourceType names the record a posting originates from.
type SourceType string

const (
	SourceCommission SourceType = "commission"
	SourcePayoutRun  SourceType = "payout_run"
)

// LedgerEntry is one immutable signed posting. An affiliate's balance is
// the sum of its postings; the unique source index makes replays of the
// same financial event converge on the first row.
type LedgerEntry struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	ShopID      snowflake.ID `gorm:"not null;uniqueIndex:ux_ledger_entries_source,priority:1"`
	AffiliateID snowflake.ID `gorm:"not null;index:ix_ledger_entries_affiliate"`
	EntryType   EntryType    `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_source,priority:2"`
	SourceType  SourceType   `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_source,priority:3"`
	SourceID    snowflake.ID `gorm:"not null;uniqueIndex:ux_ledger_entries_source,priority:4"`
	AmountCents int64        `gorm:"not null"`
	Currency    string       `gorm:"type:text;not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// SignedAmount applies the posting sign convention: approvals credit the
// affiliate, reversals and payouts debit it. Magnitudes are always
// non-negative at call sites.
func SignedAmount(entryType EntryType, magnitudeCents int64) int64 {
	switch entryType {
	case EntryCommissionReversed, EntryPayoutPaid:
		return -magnitudeCents
	default:
		return magnitudeCents
	}
}
