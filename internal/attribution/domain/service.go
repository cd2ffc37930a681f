package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
)

//go:generate mockgen -source=service.go -destination=mock/service_mock.go -package=mock

// CouponResolver is the slice of the affiliate service the resolver
// needs: active coupon lookup, nil when the code maps to nothing.
type CouponResolver interface {
	ResolveCoupon(ctx context.Context, shopID snowflake.ID, code string) (*affiliatedomain.Coupon, error)
}

type ListAttributionRequest struct {
	pagination.Pagination
	AffiliateID string `form:"affiliate_id"`
	Method      string `form:"method"`
	Since       string `form:"since"`
	Until       string `form:"until"`
}

type ListAttributionResponse struct {
	pagination.PageInfo
	Attributions []OrderAttribution `json:"attributions"`
}

type Service interface {
	// ResolveOrder selects the winning affiliate for an order event and
	// records the attribution. A (nil, nil) return is the expected
	// no-attribution outcome, not an error.
	ResolveOrder(ctx context.Context, event OrderEvent) (*OrderAttribution, error)
	GetByID(ctx context.Context, id string) (*OrderAttribution, error)
	GetByOrderID(ctx context.Context, orderID string) (*OrderAttribution, error)
	List(ctx context.Context, req ListAttributionRequest) (*ListAttributionResponse, error)
}

var (
	ErrInvalidShop      = errors.New("invalid_shop")
	ErrInvalidOrder     = errors.New("invalid_order")
	ErrInvalidSubtotal  = errors.New("invalid_subtotal")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidAffiliate = errors.New("invalid_affiliate")
	ErrInvalidMethod    = errors.New("invalid_method")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrNotFound         = errors.New("attribution_not_found")
)
