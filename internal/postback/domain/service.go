// Package domain defines the postback contract: server-to-server
// notifications shops receive for commission approval and payment events.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Postback event names carried in the {event} macro.
const (
	EventApproval = "approval"
	EventPayment  = "payment"
)

// Delivery describes one postback to fire. DedupeKey ties the delivery to
// its outbox row so a synchronous success is not re-sent by the
// redelivery job.
type Delivery struct {
	ShopID       snowflake.ID
	CommissionID string
	AffiliateID  string
	Event        string
	AmountCents  int64
	Currency     string
	OrderID      string
	DedupeKey    string
}

// Result reports one delivery attempt. Failures carry the error text so
// bulk operations can surface per-id outcomes.
type Result struct {
	CommissionID string `json:"commission_id"`
	Event        string `json:"event"`
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
}

// ErrInvalidURL rejects a postback URL template that does not render to
// an absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid_postback_url")

//go:generate mockgen -source=service.go -destination=mock/service_mock.go -package=mock
type Dispatcher interface {
	// Deliver renders the shop's postback URL template and fires it. A
	// shop without a postback URL reports OK without sending anything.
	Deliver(ctx context.Context, d Delivery) Result
}

// Deliverer drains a batch of postbacks after the owning transaction has
// committed: at-least-once, never rolling anything back. Successful
// deliveries retire their outbox rows; failures stay queued for the
// redelivery job.
type Deliverer interface {
	DeliverAll(ctx context.Context, deliveries []Delivery) []Result
}
