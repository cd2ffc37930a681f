package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/partnerly/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const lineageColumns = `id, shop_id, order_attribution_id, customer_ref, selling_plan_id,
	payments_made, active, last_order_id, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, lineage *subscriptiondomain.SubscriptionAttribution) (bool, error) {
	var result *gorm.DB
	if strings.EqualFold(db.Dialector.Name(), "sqlite") {
		result = db.WithContext(ctx).Exec(
			`INSERT INTO subscription_attributions (
				id, shop_id, order_attribution_id, customer_ref, selling_plan_id,
				payments_made, active, last_order_id, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (order_attribution_id) DO NOTHING`,
			lineage.ID,
			lineage.ShopID,
			lineage.OrderAttributionID,
			lineage.CustomerRef,
			lineage.SellingPlanID,
			lineage.PaymentsMade,
			lineage.Active,
			lineage.LastOrderID,
			lineage.CreatedAt,
			lineage.UpdatedAt,
		)
	} else {
		result = db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_attribution_id"}},
			DoNothing: true,
		}).Create(lineage)
	}
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByAttributionID(ctx context.Context, db *gorm.DB, shopID, attributionID snowflake.ID) (*subscriptiondomain.SubscriptionAttribution, error) {
	var lineage subscriptiondomain.SubscriptionAttribution
	err := db.WithContext(ctx).Raw(
		`SELECT `+lineageColumns+`
		 FROM subscription_attributions
		 WHERE shop_id = ? AND order_attribution_id = ?`,
		shopID,
		attributionID,
	).Scan(&lineage).Error
	if err != nil {
		return nil, err
	}
	if lineage.ID == 0 {
		return nil, nil
	}
	return &lineage, nil
}

func (r *repo) FindActiveByCustomerPlan(ctx context.Context, db *gorm.DB, shopID snowflake.ID, customerRef, sellingPlanID string) (*subscriptiondomain.SubscriptionAttribution, error) {
	var lineage subscriptiondomain.SubscriptionAttribution
	err := db.WithContext(ctx).Raw(
		`SELECT `+lineageColumns+`
		 FROM subscription_attributions
		 WHERE shop_id = ? AND customer_ref = ? AND selling_plan_id = ? AND active
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		shopID,
		customerRef,
		sellingPlanID,
	).Scan(&lineage).Error
	if err != nil {
		return nil, err
	}
	if lineage.ID == 0 {
		return nil, nil
	}
	return &lineage, nil
}

func (r *repo) FindActiveByCustomerPlanForUpdate(ctx context.Context, db *gorm.DB, shopID snowflake.ID, customerRef, sellingPlanID string) (*subscriptiondomain.SubscriptionAttribution, error) {
	var lineage subscriptiondomain.SubscriptionAttribution
	err := db.WithContext(ctx).Raw(
		`SELECT `+lineageColumns+`
		 FROM subscription_attributions
		 WHERE shop_id = ? AND customer_ref = ? AND selling_plan_id = ? AND active
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1
		 FOR UPDATE`,
		shopID,
		customerRef,
		sellingPlanID,
	).Scan(&lineage).Error
	if err != nil {
		return nil, err
	}
	if lineage.ID == 0 {
		return nil, nil
	}
	return &lineage, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, lineage *subscriptiondomain.SubscriptionAttribution) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscription_attributions
		 SET payments_made = ?, active = ?, last_order_id = ?, updated_at = ?
		 WHERE id = ?`,
		lineage.PaymentsMade,
		lineage.Active,
		lineage.LastOrderID,
		lineage.UpdatedAt,
		lineage.ID,
	).Error
}
