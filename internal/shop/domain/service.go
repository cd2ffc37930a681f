package domain

import (
	"context"
	"errors"
)

//go:generate mockgen -source=service.go -destination=mocks/service.go -package=mocks

type Service interface {
	Create(ctx context.Context, req CreateShopRequest) (*ShopResponse, error)
	GetByID(ctx context.Context, id string) (*ShopResponse, error)
	List(ctx context.Context) ([]ShopResponse, error)
	Update(ctx context.Context, id string, req UpdateShopRequest) (*ShopResponse, error)

	// Membership maps external user identities to a role inside one
	// shop. Credentials live outside the system; rows here only answer
	// "what may this user do".
	UpsertMember(ctx context.Context, req UpsertMemberRequest) (*MemberResponse, error)
	RemoveMember(ctx context.Context, userID string) error
	ListMembers(ctx context.Context) ([]MemberResponse, error)
}

type CreateShopRequest struct {
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	Currency    string `json:"currency"`
	PostbackURL string `json:"postback_url"`
}

// UpdateShopRequest carries optional fields; nil means leave unchanged.
type UpdateShopRequest struct {
	Name        *string `json:"name"`
	Domain      *string `json:"domain"`
	PostbackURL *string `json:"postback_url"`
	Status      *string `json:"status"`
}

type ShopResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Domain      string `json:"domain"`
	Currency    string `json:"currency"`
	PostbackURL string `json:"postback_url"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type UpsertMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type MemberResponse struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

var (
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrInvalidStatus   = errors.New("invalid_status")
	ErrInvalidShopID   = errors.New("invalid_shop_id")
	ErrInvalidShop     = errors.New("invalid_shop")
	ErrShopNotFound    = errors.New("shop_not_found")
	ErrInvalidUserID   = errors.New("invalid_user_id")
	ErrInvalidRole     = errors.New("invalid_role")
	ErrMemberNotFound  = errors.New("member_not_found")
	ErrLastOwner       = errors.New("last_owner")
)
