package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
)

// ListFilter narrows fraud flag queries. Resolved is tri-state: nil means
// both resolved and unresolved flags.
type ListFilter struct {
	AffiliateID  snowflake.ID
	CommissionID snowflake.ID
	Resolved     *bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, flag *FraudFlag) error
	FindByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*FraudFlag, error)
	List(ctx context.Context, db *gorm.DB, shopID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]*FraudFlag, error)
	Update(ctx context.Context, db *gorm.DB, flag *FraudFlag) error
	// BlockedCommissionIDs returns the subset of ids carrying at least one
	// unresolved flag, ascending, with no side effects.
	BlockedCommissionIDs(ctx context.Context, db *gorm.DB, shopID snowflake.ID, commissionIDs []snowflake.ID) ([]snowflake.ID, error)
}
