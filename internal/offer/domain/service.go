package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/partnerly/pkg/db/pagination"
)

//go:generate mockgen -source=service.go -destination=mock/service_mock.go -package=mock

type CreateOfferRequest struct {
	Name           string `json:"name"`
	CommissionType string `json:"commission_type"`
	AmountCents    int64  `json:"amount_cents"`
	PercentBps     int64  `json:"percent_bps"`
	Currency       string `json:"currency"`
	// Zero means "use the operator default window".
	WindowDays int `json:"window_days"`

	SellingSubscriptions    string `json:"selling_subscriptions"`
	SubscriptionMaxPayments int    `json:"subscription_max_payments"`
	RebillType              string `json:"rebill_type"`
	RebillAmountCents       int64  `json:"rebill_amount_cents"`
	RebillPercentBps        int64  `json:"rebill_percent_bps"`
}

type UpdateOfferRequest struct {
	Name        *string `json:"name"`
	Status      *string `json:"status"`
	AmountCents *int64  `json:"amount_cents"`
	PercentBps  *int64  `json:"percent_bps"`
	WindowDays  *int    `json:"window_days"`

	SellingSubscriptions    *string `json:"selling_subscriptions"`
	SubscriptionMaxPayments *int    `json:"subscription_max_payments"`
	RebillType              *string `json:"rebill_type"`
	RebillAmountCents       *int64  `json:"rebill_amount_cents"`
	RebillPercentBps        *int64  `json:"rebill_percent_bps"`
}

type ListOfferRequest struct {
	pagination.Pagination
	Status string `form:"status"`
	SortBy string `form:"sort_by"`
}

type ListOfferFilter struct {
	Status string
}

type ListOfferResponse struct {
	pagination.PageInfo
	Offers []Offer `json:"offers"`
}

type Service interface {
	Create(ctx context.Context, req CreateOfferRequest) (Offer, error)
	List(ctx context.Context, req ListOfferRequest) (ListOfferResponse, error)
	GetByID(ctx context.Context, id string) (Offer, error)
	Update(ctx context.Context, id string, req UpdateOfferRequest) (Offer, error)
	Archive(ctx context.Context, id string) (Offer, error)
}

var (
	ErrInvalidShop           = errors.New("invalid_shop")
	ErrInvalidName           = errors.New("invalid_name")
	ErrInvalidID             = errors.New("invalid_id")
	ErrInvalidCommissionType = errors.New("invalid_commission_type")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidPercent        = errors.New("invalid_percent")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrInvalidWindow         = errors.New("invalid_window")
	ErrInvalidRebillPolicy   = errors.New("invalid_rebill_policy")
	ErrInvalidRebillRule     = errors.New("invalid_rebill_rule")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrNotFound              = errors.New("not_found")
)
