package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
)

// ListFilter narrows ledger queries.
type ListFilter struct {
	EntryType EntryType
}

// Totals aggregates an affiliate's postings by entry type. BalanceCents
// is the signed sum of everything.
type Totals struct {
	BalanceCents  int64 `gorm:"column:balance_cents" json:"balance_cents"`
	ApprovedCents int64 `gorm:"column:approved_cents" json:"approved_cents"`
	ReversedCents int64 `gorm:"column:reversed_cents" json:"reversed_cents"`
	PaidCents     int64 `gorm:"column:paid_cents" json:"paid_cents"`
}

type Repository interface {
	// Insert appends one posting. The returned bool reports false when a
	// posting for the same (entry_type, source) already exists.
	Insert(ctx context.Context, db *gorm.DB, entry *LedgerEntry) (bool, error)
	FindBySource(ctx context.Context, db *gorm.DB, shopID snowflake.ID, entryType EntryType, sourceType SourceType, sourceID snowflake.ID) (*LedgerEntry, error)
	ListByAffiliate(ctx context.Context, db *gorm.DB, shopID, affiliateID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]*LedgerEntry, error)
	TotalsByAffiliate(ctx context.Context, db *gorm.DB, shopID, affiliateID snowflake.ID) (*Totals, error)
}
