package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert writes a new lineage. The returned bool reports whether the
	// row was actually inserted; false means a lineage for the same order
	// attribution already exists.
	Insert(ctx context.Context, db *gorm.DB, lineage *SubscriptionAttribution) (bool, error)
	FindByAttributionID(ctx context.Context, db *gorm.DB, shopID, attributionID snowflake.ID) (*SubscriptionAttribution, error)
	FindActiveByCustomerPlan(ctx context.Context, db *gorm.DB, shopID snowflake.ID, customerRef, sellingPlanID string) (*SubscriptionAttribution, error)
	FindActiveByCustomerPlanForUpdate(ctx context.Context, db *gorm.DB, shopID snowflake.ID, customerRef, sellingPlanID string) (*SubscriptionAttribution, error)
	Update(ctx context.Context, db *gorm.DB, lineage *SubscriptionAttribution) error
}
