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
	Method      AttributionMethod
	Since       time.Time
	Until       time.Time
}

type Repository interface {
	// Insert writes an attribution. It reports false when the
	// (shop, order_id) pair already exists; concurrent duplicate order
	// events converge on the first row.
	Insert(ctx context.Context, db *gorm.DB, attribution *OrderAttribution) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*OrderAttribution, error)
	FindByOrderID(ctx context.Context, db *gorm.DB, shopID snowflake.ID, orderID string) (*OrderAttribution, error)
	List(ctx context.Context, db *gorm.DB, shopID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]*OrderAttribution, error)
}
