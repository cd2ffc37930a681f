package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	postbackdomain "github.com/smallbiznis/partnerly/internal/postback/domain"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
)

// CreateCommissionRequest asks the calculator to turn one attributed
// payment into a commission. RebillSequence is zero for the initial
// purchase and the lineage's payment counter for rebills.
type CreateCommissionRequest struct {
	AttributionID  snowflake.ID
	OrderID        string
	SubtotalCents  int64
	Currency       string
	Rebill         bool
	RebillSequence int
	// RiskScore feeds the auto-flag threshold; zero means no signal.
	RiskScore float64
}

// CreateCommissionResult reports the calculator outcome. Skipped means
// the offer's rules owe nothing for this payment and no row was written;
// Replayed means the payment had already been commissioned.
type CreateCommissionResult struct {
	Commission *Commission
	Replayed   bool
	Skipped    bool
	SkipReason string
}

// BulkTransitionRequest carries an explicit id set for a bulk lifecycle
// action.
type BulkTransitionRequest struct {
	CommissionIDs []string `json:"commission_ids"`
}

// SkippedCommission names one requested id that was not transitioned and
// why, so concurrent admin actions surface as reduced counts instead of
// failures.
type SkippedCommission struct {
	CommissionID string `json:"commission_id"`
	Reason       string `json:"reason"`
}

// BulkTransitionResult reports how much of the requested set actually
// moved, plus the postback outcome per transitioned commission.
type BulkTransitionResult struct {
	Requested    int                     `json:"requested"`
	Transitioned int                     `json:"transitioned"`
	Skipped      []SkippedCommission     `json:"skipped,omitempty"`
	Postbacks    []postbackdomain.Result `json:"postbacks,omitempty"`
}

// PayForRunRequest transitions run members to paid inside the payout
// run's own transaction.
type PayForRunRequest struct {
	ShopID        snowflake.ID
	PayoutRunID   snowflake.ID
	CommissionIDs []snowflake.ID
	Now           time.Time
}

// PayForRunResult lists the paid members and the postback deliveries the
// caller owes after commit.
type PayForRunResult struct {
	Paid      []Commission
	Postbacks []postbackdomain.Delivery
}

type ListCommissionsRequest struct {
	pagination.Pagination
	Status      string `form:"status"`
	AffiliateID string `form:"affiliate_id"`
	OrderID     string `form:"order_id"`
}

type ListCommissionsResponse struct {
	pagination.PageInfo
	Commissions []Commission `json:"commissions"`
}

//go:generate mockgen -source=service.go -destination=mock/service_mock.go -package=mock
type Service interface {
	// CreateFromAttribution computes and records the commission for one
	// attributed payment, idempotent per (attribution, rebill sequence).
	CreateFromAttribution(ctx context.Context, req CreateCommissionRequest) (*CreateCommissionResult, error)

	GetByID(ctx context.Context, id string) (*Commission, error)
	List(ctx context.Context, req ListCommissionsRequest) (*ListCommissionsResponse, error)

	// BulkValidate moves pending commissions to eligible. Fraud-gated.
	BulkValidate(ctx context.Context, req BulkTransitionRequest) (*BulkTransitionResult, error)
	// BulkApprove moves eligible commissions to approved. Fraud-gated;
	// fires approval postbacks after commit.
	BulkApprove(ctx context.Context, req BulkTransitionRequest) (*BulkTransitionResult, error)
	// BulkReverse rejects commissions. Never fraud-gated; paid members
	// are skipped with a clawback marker, not reversed.
	BulkReverse(ctx context.Context, req BulkTransitionRequest) (*BulkTransitionResult, error)
	// ReverseForOrder reverses every reversible commission of an order,
	// the refund webhook path. Unknown orders are a zero-count success.
	ReverseForOrder(ctx context.Context, orderID string) (*BulkTransitionResult, error)

	// PayForRun marks run members paid using the caller's transaction so
	// run status and member status commit together. Members that cannot
	// be paid fail the whole call; the payout run must not half-commit.
	PayForRun(ctx context.Context, tx *gorm.DB, req PayForRunRequest) (*PayForRunResult, error)
}

var (
	ErrInvalidShop        = errors.New("invalid_shop")
	ErrInvalidID          = errors.New("invalid_id")
	ErrInvalidOrder       = errors.New("invalid_order")
	ErrInvalidSubtotal    = errors.New("invalid_subtotal")
	ErrInvalidCurrency    = errors.New("invalid_currency")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrInvalidAttribution = errors.New("invalid_attribution")
	ErrInvalidSequence    = errors.New("invalid_sequence")
	ErrInvalidAffiliate   = errors.New("invalid_affiliate")
	ErrInvalidOffer       = errors.New("invalid_offer")
	ErrEmptyIDSet         = errors.New("empty_id_set")
	ErrNotFound           = errors.New("commission_not_found")
	ErrInvalidTransition  = errors.New("invalid_transition")
	// ErrClawbackRequired rejects reversal of a paid commission; money
	// already sent needs an out-of-band clawback, not a status flip.
	ErrClawbackRequired = errors.New("clawback_required")
	ErrFraudBlocked     = errors.New("fraud_blocked")
	ErrNotYetEligible   = errors.New("not_yet_eligible")
)

// FraudBlockedError refuses a gated transition and names the commissions
// holding it up so the caller can resolve flags and retry.
type FraudBlockedError struct {
	CommissionIDs []snowflake.ID
}

func (e *FraudBlockedError) Error() string {
	ids := make([]string, 0, len(e.CommissionIDs))
	for _, id := range e.CommissionIDs {
		ids = append(ids, id.String())
	}
	return "fraud_blocked: " + strings.Join(ids, ",")
}

// Is lets errors.Is match the sentinel.
func (e *FraudBlockedError) Is(target error) bool { return target == ErrFraudBlocked }

// PayBlockedError fails a payout-run payment because some members cannot
// legally move to paid.
type PayBlockedError struct {
	CommissionIDs []snowflake.ID
	Reason        error
}

func (e *PayBlockedError) Error() string {
	ids := make([]string, 0, len(e.CommissionIDs))
	for _, id := range e.CommissionIDs {
		ids = append(ids, id.String())
	}
	return e.Reason.Error() + ": " + strings.Join(ids, ",")
}

// Is lets errors.Is match the underlying reason.
func (e *PayBlockedError) Is(target error) bool { return target == e.Reason }
