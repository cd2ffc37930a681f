package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
)

//go:generate mockgen -source=service.go -destination=mock/service_mock.go -package=mock

type CreateAffiliateRequest struct {
	Name            string
	Email           string
	OfferID         string
	PayoutMethod    string
	PayoutReference string
	PayoutTermsDays int
}

type UpdateAffiliateRequest struct {
	Name            *string
	OfferID         *string
	PayoutMethod    *string
	PayoutReference *string
	PayoutTermsDays *int
}

type ListAffiliateRequest struct {
	PageToken string
	PageSize  int32
	Status    string
	Email     string
}

type ListAffiliateFilter struct {
	Status string
	Email  string
}

type ListAffiliateResponse struct {
	pagination.PageInfo
	Affiliates []Affiliate `json:"affiliates"`
}

type GetAffiliateRequest struct {
	ID string
}

type AssignCouponRequest struct {
	AffiliateID string
	Code        string
}

type Service interface {
	Create(context.Context, CreateAffiliateRequest) (Affiliate, error)
	List(context.Context, ListAffiliateRequest) (ListAffiliateResponse, error)
	GetByID(context.Context, GetAffiliateRequest) (Affiliate, error)
	Update(ctx context.Context, id string, req UpdateAffiliateRequest) (Affiliate, error)

	Approve(ctx context.Context, id string) (Affiliate, error)
	Suspend(ctx context.Context, id string) (Affiliate, error)
	Reject(ctx context.Context, id string) (Affiliate, error)

	AssignCoupon(context.Context, AssignCouponRequest) (Coupon, error)
	DeactivateCoupon(ctx context.Context, couponID string) (Coupon, error)
	ListCoupons(ctx context.Context, affiliateID string) ([]Coupon, error)
	// ResolveCoupon maps a raw coupon code to its active coupon, or nil when
	// no active coupon matches. Shop-scoped; used on the order ingest path.
	ResolveCoupon(ctx context.Context, shopID snowflake.ID, code string) (*Coupon, error)
}

var (
	ErrInvalidShop         = errors.New("invalid_shop")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidOffer        = errors.New("invalid_offer")
	ErrInvalidPayoutMethod = errors.New("invalid_payout_method")
	ErrInvalidPayoutTerms  = errors.New("invalid_payout_terms")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrEmailTaken          = errors.New("email_taken")
	ErrInvalidCouponCode   = errors.New("invalid_coupon_code")
	ErrCouponTaken         = errors.New("coupon_taken")
	ErrCouponNotFound      = errors.New("coupon_not_found")
	ErrNotFound            = errors.New("not_found")
)
