package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
)

// ListFilter narrows run listings.
type ListFilter struct {
	Status PayoutRunStatus
}

// Repository is the stateless data access layer for payout runs. Methods
// accept the transaction handle so services control commit scope.
type Repository interface {
	InsertRun(ctx context.Context, db *gorm.DB, run *PayoutRun) error
	FindRunByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*PayoutRun, error)
	// FindRunByIDForUpdate locks the run row so concurrent approvals
	// serialize.
	FindRunByIDForUpdate(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*PayoutRun, error)
	UpdateRun(ctx context.Context, db *gorm.DB, run *PayoutRun) error
	ListRuns(ctx context.Context, db *gorm.DB, shopID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]*PayoutRun, error)

	InsertMembers(ctx context.Context, db *gorm.DB, members []PayoutRunCommission) error
	MemberIDs(ctx context.Context, db *gorm.DB, runID snowflake.ID) ([]snowflake.ID, error)
	// JoinedCommissionIDs returns the subset of the given commissions
	// already bound to any run; used to refuse double-batching.
	JoinedCommissionIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]snowflake.ID, error)

	// FindSubmittedRuns returns runs across all shops awaiting provider
	// settlement, oldest first.
	FindSubmittedRuns(ctx context.Context, db *gorm.DB, limit int) ([]*PayoutRun, error)

	FindProviderConfig(ctx context.Context, db *gorm.DB, shopID snowflake.ID) (*ProviderConfig, error)
	UpsertProviderConfig(ctx context.Context, db *gorm.DB, cfg *ProviderConfig) error
}
