// Package domain defines the conversion ingest contract: one entry point
// per inbound commerce event (order, refund, cancellation), each safe to
// replay.
package domain

import (
	"context"
	"errors"

	attributiondomain "github.com/smallbiznis/partnerly/internal/attribution/domain"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
)

// ProcessOrderResult reports everything one order event produced. A nil
// Attribution means the order belongs to no affiliate and left no trace.
type ProcessOrderResult struct {
	Attribution *attributiondomain.OrderAttribution `json:"attribution,omitempty"`
	Commission  *commissiondomain.Commission        `json:"commission,omitempty"`
	// Rebill marks events counted against an existing subscription
	// lineage rather than freshly attributed.
	Rebill         bool   `json:"rebill,omitempty"`
	RebillSequence int    `json:"rebill_sequence,omitempty"`
	Replayed       bool   `json:"replayed,omitempty"`
	Skipped        bool   `json:"skipped,omitempty"`
	SkipReason     string `json:"skip_reason,omitempty"`
}

// CancelSubscriptionRequest identifies the lineage a cancellation webhook
// refers to.
type CancelSubscriptionRequest struct {
	CustomerRef   string `json:"customer_ref"`
	SellingPlanID string `json:"selling_plan_id"`
}

//go:generate mockgen -source=service.go -destination=mock/service_mock.go -package=mock
type Service interface {
	// ProcessOrder runs the full pipeline for one order event: resolve
	// the winning affiliate, maintain the subscription lineage, compute
	// the commission. Duplicate deliveries converge on the same rows.
	ProcessOrder(ctx context.Context, event attributiondomain.OrderEvent) (*ProcessOrderResult, error)
	// ProcessRefund reverses every reversible commission of the refunded
	// order. Unknown orders are a zero-count success.
	ProcessRefund(ctx context.Context, orderID string) (*commissiondomain.BulkTransitionResult, error)
	// ProcessCancellation deactivates the matching lineage so later
	// rebills earn nothing. Missing lineages are tolerated.
	ProcessCancellation(ctx context.Context, req CancelSubscriptionRequest) error
}

var (
	ErrInvalidOrder       = errors.New("invalid_order")
	ErrInvalidCustomerRef = errors.New("invalid_customer_ref")
)
