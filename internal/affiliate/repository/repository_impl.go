package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/internal/affiliate/domain"
	"github.com/smallbiznis/partnerly/pkg/db/option"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const affiliateColumns = `id, shop_id, affiliate_number, name, slug, email, status, offer_id,
	payout_terms_days, payout_method, payout_reference, metadata, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, affiliate *domain.Affiliate) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO affiliates (
			id, shop_id, affiliate_number, name, slug, email, status, offer_id,
			payout_terms_days, payout_method, payout_reference, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		affiliate.ID,
		affiliate.ShopID,
		affiliate.AffiliateNumber,
		affiliate.Name,
		affiliate.Slug,
		affiliate.Email,
		affiliate.Status,
		affiliate.OfferID,
		affiliate.PayoutTermsDays,
		affiliate.PayoutMethod,
		affiliate.PayoutReference,
		affiliate.Metadata,
		affiliate.CreatedAt,
		affiliate.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*domain.Affiliate, error) {
	var affiliate domain.Affiliate
	err := db.WithContext(ctx).Raw(
		`SELECT `+affiliateColumns+`
		 FROM affiliates WHERE shop_id = ? AND id = ?`,
		shopID,
		id,
	).Scan(&affiliate).Error
	if err != nil {
		return nil, err
	}
	if affiliate.ID == 0 {
		return nil, nil
	}
	return &affiliate, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*domain.Affiliate, error) {
	var affiliate domain.Affiliate
	err := db.WithContext(ctx).Raw(
		`SELECT `+affiliateColumns+`
		 FROM affiliates WHERE shop_id = ? AND id = ?
		 FOR UPDATE`,
		shopID,
		id,
	).Scan(&affiliate).Error
	if err != nil {
		return nil, err
	}
	if affiliate.ID == 0 {
		return nil, nil
	}
	return &affiliate, nil
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, shopID snowflake.ID, email string) (*domain.Affiliate, error) {
	var affiliate domain.Affiliate
	err := db.WithContext(ctx).Raw(
		`SELECT `+affiliateColumns+`
		 FROM affiliates WHERE shop_id = ? AND email = ?`,
		shopID,
		email,
	).Scan(&affiliate).Error
	if err != nil {
		return nil, err
	}
	if affiliate.ID == 0 {
		return nil, nil
	}
	return &affiliate, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, shopID snowflake.ID, filter domain.ListAffiliateFilter, page pagination.Pagination) ([]*domain.Affiliate, error) {
	var affiliates []*domain.Affiliate
	stmt := db.WithContext(ctx).
		Model(&domain.Affiliate{}).
		Where("shop_id = ?", shopID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Email != "" {
		stmt = stmt.Where("email = ?", filter.Email)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&affiliates).Error
	if err != nil {
		return nil, err
	}
	return affiliates, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, affiliate *domain.Affiliate) error {
	return db.WithContext(ctx).Exec(
		`UPDATE affiliates
		 SET name = ?, slug = ?, status = ?, offer_id = ?, payout_terms_days = ?,
		     payout_method = ?, payout_reference = ?, updated_at = ?
		 WHERE shop_id = ? AND id = ?`,
		affiliate.Name,
		affiliate.Slug,
		affiliate.Status,
		affiliate.OfferID,
		affiliate.PayoutTermsDays,
		affiliate.PayoutMethod,
		affiliate.PayoutReference,
		affiliate.UpdatedAt,
		affiliate.ShopID,
		affiliate.ID,
	).Error
}

func (r *repo) InsertCoupon(ctx context.Context, db *gorm.DB, coupon *domain.Coupon) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO coupons (id, shop_id, affiliate_id, code, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		coupon.ID,
		coupon.ShopID,
		coupon.AffiliateID,
		coupon.Code,
		coupon.Active,
		coupon.CreatedAt,
		coupon.UpdatedAt,
	).Error
}

func (r *repo) FindCouponByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*domain.Coupon, error) {
	var coupon domain.Coupon
	err := db.WithContext(ctx).Raw(
		`SELECT id, shop_id, affiliate_id, code, active, created_at, updated_at
		 FROM coupons WHERE shop_id = ? AND id = ?`,
		shopID,
		id,
	).Scan(&coupon).Error
	if err != nil {
		return nil, err
	}
	if coupon.ID == 0 {
		return nil, nil
	}
	return &coupon, nil
}

func (r *repo) FindCouponByCode(ctx context.Context, db *gorm.DB, shopID snowflake.ID, code string) (*domain.Coupon, error) {
	var coupon domain.Coupon
	err := db.WithContext(ctx).Raw(
		`SELECT id, shop_id, affiliate_id, code, active, created_at, updated_at
		 FROM coupons WHERE shop_id = ? AND code = ?`,
		shopID,
		code,
	).Scan(&coupon).Error
	if err != nil {
		return nil, err
	}
	if coupon.ID == 0 {
		return nil, nil
	}
	return &coupon, nil
}

func (r *repo) ListCouponsByAffiliate(ctx context.Context, db *gorm.DB, shopID, affiliateID snowflake.ID) ([]*domain.Coupon, error) {
	var coupons []*domain.Coupon
	err := db.WithContext(ctx).
		Model(&domain.Coupon{}).
		Where("shop_id = ? AND affiliate_id = ?", shopID, affiliateID).
		Order("created_at desc, id desc").
		Find(&coupons).Error
	if err != nil {
		return nil, err
	}
	return coupons, nil
}

func (r *repo) UpdateCoupon(ctx context.Context, db *gorm.DB, coupon *domain.Coupon) error {
	return db.WithContext(ctx).Exec(
		`UPDATE coupons SET active = ?, updated_at = ? WHERE shop_id = ? AND id = ?`,
		coupon.Active,
		coupon.UpdatedAt,
		coupon.ShopID,
		coupon.ID,
	).Error
}
