package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
)

// FlagCommissionRequest raises a manual or external-detector flag.
type FlagCommissionRequest struct {
	CommissionID string   `json:"commission_id"`
	AffiliateID  string   `json:"affiliate_id"`
	FlagType     FlagType `json:"flag_type"`
	Score        float64  `json:"score"`
	Reason       string   `json:"reason"`
}

// AutoFlagRequest is raised by commission creation when the order event
// carried a risk score. The flag lands in the caller's transaction.
type AutoFlagRequest struct {
	ShopID       snowflake.ID
	AffiliateID  snowflake.ID
	CommissionID snowflake.ID
	RiskScore    float64
}

type ListFlagsRequest struct {
	pagination.Pagination
	AffiliateID  string `form:"affiliate_id"`
	CommissionID string `form:"commission_id"`
	Resolved     string `form:"resolved"`
}

type ListFlagsResponse struct {
	pagination.PageInfo
	Flags []FraudFlag `json:"flags"`
}

//go:generate mockgen -source=service.go -destination=mock/service_mock.go -package=mock
type Service interface {
	// Blocked returns the subset of commission ids held by unresolved
	// flags, ascending. A pure read; no side effects.
	Blocked(ctx context.Context, commissionIDs []snowflake.ID) ([]snowflake.ID, error)
	FlagCommission(ctx context.Context, req FlagCommissionRequest) (*FraudFlag, error)
	// AutoFlag applies the configured risk threshold. Below threshold or
	// disabled returns (nil, nil).
	AutoFlag(ctx context.Context, db *gorm.DB, req AutoFlagRequest) (*FraudFlag, error)
	ResolveFlag(ctx context.Context, flagID string) (*FraudFlag, error)
	GetByID(ctx context.Context, flagID string) (*FraudFlag, error)
	List(ctx context.Context, req ListFlagsRequest) (ListFlagsResponse, error)
}

var (
	ErrInvalidShop       = errors.New("invalid_shop")
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidCommission = errors.New("invalid_commission")
	ErrInvalidAffiliate  = errors.New("invalid_affiliate")
	ErrInvalidFlagType   = errors.New("invalid_flag_type")
	ErrInvalidScore      = errors.New("invalid_score")
	ErrInvalidResolved   = errors.New("invalid_resolved")
	ErrNotFound          = errors.New("fraud_flag_not_found")
)
