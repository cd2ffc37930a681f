package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/internal/offer/domain"
	"github.com/smallbiznis/partnerly/pkg/db/option"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const offerColumns = `id, shop_id, name, slug, status, commission_type, amount_cents, percent_bps,
	currency, window_days, selling_subscriptions, subscription_max_payments,
	rebill_type, rebill_amount_cents, rebill_percent_bps, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, offer *domain.Offer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO offers (
			id, shop_id, name, slug, status, commission_type, amount_cents, percent_bps,
			currency, window_days, selling_subscriptions, subscription_max_payments,
			rebill_type, rebill_amount_cents, rebill_percent_bps, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		offer.ID,
		offer.ShopID,
		offer.Name,
		offer.Slug,
		offer.Status,
		offer.CommissionType,
		offer.AmountCents,
		offer.PercentBps,
		offer.Currency,
		offer.WindowDays,
		offer.SellingSubscriptions,
		offer.SubscriptionMaxPayments,
		offer.RebillType,
		offer.RebillAmountCents,
		offer.RebillPercentBps,
		offer.CreatedAt,
		offer.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*domain.Offer, error) {
	var offer domain.Offer
	err := db.WithContext(ctx).Raw(
		`SELECT `+offerColumns+`
		 FROM offers WHERE shop_id = ? AND id = ?`,
		shopID,
		id,
	).Scan(&offer).Error
	if err != nil {
		return nil, err
	}
	if offer.ID == 0 {
		return nil, nil
	}
	return &offer, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, shopID snowflake.ID, filter domain.ListOfferFilter, opts ...option.QueryOption) ([]*domain.Offer, error) {
	var offers []*domain.Offer
	stmt := db.WithContext(ctx).
		Model(&domain.Offer{}).
		Where("shop_id = ?", shopID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}
	if err := stmt.Find(&offers).Error; err != nil {
		return nil, err
	}
	return offers, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, offer *domain.Offer) error {
	return db.WithContext(ctx).Exec(
		`UPDATE offers
		 SET name = ?, slug = ?, status = ?, amount_cents = ?, percent_bps = ?, window_days = ?,
		     selling_subscriptions = ?, subscription_max_payments = ?,
		     rebill_type = ?, rebill_amount_cents = ?, rebill_percent_bps = ?, updated_at = ?
		 WHERE shop_id = ? AND id = ?`,
		offer.Name,
		offer.Slug,
		offer.Status,
		offer.AmountCents,
		offer.PercentBps,
		offer.WindowDays,
		offer.SellingSubscriptions,
		offer.SubscriptionMaxPayments,
		offer.RebillType,
		offer.RebillAmountCents,
		offer.RebillPercentBps,
		offer.UpdatedAt,
		offer.ShopID,
		offer.ID,
	).Error
}

func (r *repo) CountAffiliates(ctx context.Context, db *gorm.DB, shopID, offerID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM affiliates WHERE shop_id = ? AND offer_id = ?`,
		shopID,
		offerID,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
