package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, affiliate *Affiliate) error
	FindByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*Affiliate, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*Affiliate, error)
	FindByEmail(ctx context.Context, db *gorm.DB, shopID snowflake.ID, email string) (*Affiliate, error)
	List(ctx context.Context, db *gorm.DB, shopID snowflake.ID, filter ListAffiliateFilter, page pagination.Pagination) ([]*Affiliate, error)
	Update(ctx context.Context, db *gorm.DB, affiliate *Affiliate) error

	InsertCoupon(ctx context.Context, db *gorm.DB, coupon *Coupon) error
	FindCouponByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*Coupon, error)
	FindCouponByCode(ctx context.Context, db *gorm.DB, shopID snowflake.ID, code string) (*Coupon, error)
	ListCouponsByAffiliate(ctx context.Context, db *gorm.DB, shopID, affiliateID snowflake.ID) ([]*Coupon, error)
	UpdateCoupon(ctx context.Context, db *gorm.DB, coupon *Coupon) error
}
