package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
)

// AppendEntryRequest describes one posting. AmountCents is the magnitude;
// the sign is derived from the entry type.
type AppendEntryRequest struct {
	ShopID      snowflake.ID
	AffiliateID snowflake.ID
	EntryType   EntryType
	SourceType  SourceType
	SourceID    snowflake.ID
	AmountCents int64
	Currency    string
}

type ListLedgerRequest struct {
	pagination.Pagination
	AffiliateID string `form:"affiliate_id"`
	EntryType   string `form:"entry_type"`
}

type ListLedgerResponse struct {
	pagination.PageInfo
	Entries []LedgerEntry `json:"entries"`
}

type BalanceResponse struct {
	AffiliateID string `json:"affiliate_id"`
	Totals
}

//go:generate mockgen -source=service.go -destination=mock/service_mock.go -package=mock
type Service interface {
	// Append writes one posting inside the caller's transaction. Replays
	// of the same financial event return the existing row with inserted
	// false.
	Append(ctx context.Context, db *gorm.DB, req AppendEntryRequest) (*LedgerEntry, bool, error)
	Balance(ctx context.Context, affiliateID string) (BalanceResponse, error)
	List(ctx context.Context, req ListLedgerRequest) (ListLedgerResponse, error)
}

var (
	ErrInvalidShop      = errors.New("invalid_shop")
	ErrInvalidAffiliate = errors.New("invalid_affiliate")
	ErrInvalidEntryType = errors.New("invalid_entry_type")
	ErrInvalidSource    = errors.New("invalid_source")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidCurrency  = errors.New("invalid_currency")
)
