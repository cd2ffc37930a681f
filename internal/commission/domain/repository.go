package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
)

// ListFilter narrows List queries. Zero values mean "no filter".
type ListFilter struct {
	Status      CommissionStatus
	AffiliateID snowflake.ID
	OrderID     string
	PayoutRunID snowflake.ID
}

type Repository interface {
	// Insert writes a commission. It reports false when the
	// (attribution, rebill sequence) pair already exists; replayed payment
	// events converge on the first row.
	Insert(ctx context.Context, db *gorm.DB, commission *Commission) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*Commission, error)
	// FindByIDForUpdate locks the row for the transaction so concurrent
	// transitions serialize.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*Commission, error)
	FindBySequence(ctx context.Context, db *gorm.DB, shopID, attributionID snowflake.ID, sequence int) (*Commission, error)
	FindByOrderID(ctx context.Context, db *gorm.DB, shopID snowflake.ID, orderID string) ([]*Commission, error)
	FindByIDs(ctx context.Context, db *gorm.DB, shopID snowflake.ID, ids []snowflake.ID) ([]*Commission, error)
	// Update persists status, payout run binding and UpdatedAt. Amounts
	// and snapshots never change after insert.
	Update(ctx context.Context, db *gorm.DB, commission *Commission) error
	List(ctx context.Context, db *gorm.DB, shopID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]*Commission, error)
	CountByStatus(ctx context.Context, db *gorm.DB, shopID snowflake.ID) (map[CommissionStatus]int64, error)
}
