package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// StartLineageRequest opens a lineage for an attributed subscription
// checkout. The order id seeds the replay guard.
type StartLineageRequest struct {
	AttributionID snowflake.ID
	CustomerRef   string
	SellingPlanID string
	OrderID       string
}

// RebillResult reports the lineage after a rebill was counted. Replayed
// means the order had already been counted and nothing changed.
type RebillResult struct {
	Lineage  *SubscriptionAttribution
	Replayed bool
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	// StartLineage records a new recurring lineage. Calling it again for
	// the same attribution returns the existing lineage unchanged.
	StartLineage(ctx context.Context, req StartLineageRequest) (*SubscriptionAttribution, error)
	// RecordRebill increments the payment counter for the active lineage
	// matching the customer and selling plan.
	RecordRebill(ctx context.Context, customerRef, sellingPlanID, orderID string) (*RebillResult, error)
	// CancelLineage deactivates the active lineage. A missing lineage is
	// not an error; cancellation webhooks arrive more than once.
	CancelLineage(ctx context.Context, customerRef, sellingPlanID string) (*SubscriptionAttribution, error)
	FindActive(ctx context.Context, customerRef, sellingPlanID string) (*SubscriptionAttribution, error)
}

var (
	ErrInvalidShop        = errors.New("invalid_shop")
	ErrInvalidAttribution = errors.New("invalid_attribution")
	ErrInvalidCustomerRef = errors.New("invalid_customer_ref")
	ErrInvalidOrder       = errors.New("invalid_order")
	ErrLineageNotFound    = errors.New("lineage_not_found")
)
