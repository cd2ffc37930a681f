package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
)

// ListFilter narrows List queries. Zero values mean "no filter".
type ListFilter struct {
	AffiliateID snowflake.ID
	Since       time.Time
	Until       time.Time
}

type Repository interface {
	// Insert appends a click. It reports false when the (shop, click_id)
	// pair already exists; the row is left untouched in that case.
	Insert(ctx context.Context, db *gorm.DB, click *Click) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*Click, error)
	FindByClickID(ctx context.Context, db *gorm.DB, shopID snowflake.ID, clickID string) (*Click, error)
	List(ctx context.Context, db *gorm.DB, shopID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]*Click, error)
	// FindFingerprintCandidates returns clicks matching both hashed
	// signals recorded at or after since, latest first.
	FindFingerprintCandidates(ctx context.Context, db *gorm.DB, shopID snowflake.ID, ipHash, uaHash string, since time.Time, limit int) ([]*Click, error)
	// DeleteOlderThan removes at most limit clicks created before cutoff
	// and reports how many rows went away.
	DeleteOlderThan(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error)
}
