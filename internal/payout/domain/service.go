package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	postbackdomain "github.com/smallbiznis/partnerly/internal/postback/domain"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
)

// CreateRunRequest batches an explicit commission id set for one payout
// period.
type CreateRunRequest struct {
	CommissionIDs []string  `json:"commission_ids"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
}

// ApproveRunRequest settles a draft run. ExternalBatchID is optional and
// records a settlement reference produced outside the system.
type ApproveRunRequest struct {
	RunID           string `json:"-"`
	ExternalBatchID string `json:"external_batch_id"`
}

// RunResult reports the run plus the after-commit side effects: postback
// outcomes and, when a provider submission failed, why.
type RunResult struct {
	Run       *PayoutRun              `json:"payout_run"`
	Postbacks []postbackdomain.Result `json:"postbacks,omitempty"`
	// ProviderError surfaces a failed provider submission. The run and
	// its members stay paid; submission failures never revert a commit.
	ProviderError string `json:"provider_error,omitempty"`
}

// RunDetail is one run with its member commissions.
type RunDetail struct {
	Run     *PayoutRun                    `json:"payout_run"`
	Members []commissiondomain.Commission `json:"commissions"`
}

// StatementRequest names one affiliate's share of one run; both ids
// come from the URL path.
type StatementRequest struct {
	RunID       string `json:"-"`
	AffiliateID string `json:"-"`
}

// RunStatement is a rendered statement document ready to serve.
type RunStatement struct {
	FileName string `json:"file_name"`
	Content  []byte `json:"-"`
}

type ListRunsRequest struct {
	pagination.Pagination
	Status string `form:"status"`
}

type ListRunsResponse struct {
	pagination.PageInfo
	Runs []PayoutRun `json:"payout_runs"`
}

// ProviderConfigSummary hides credentials; callers only learn which
// provider is active and that credentials exist.
type ProviderConfigSummary struct {
	Provider   string `json:"provider"`
	IsActive   bool   `json:"is_active"`
	Configured bool   `json:"configured"`
}

type UpsertProviderConfigRequest struct {
	Provider string         `json:"provider"`
	Config   map[string]any `json:"config"`
}

//go:generate mockgen -source=service.go -destination=mock/service_mock.go -package=mock
type Service interface {
	// CreateRun batches payable commissions into a draft run. Every
	// member must be payable now; one blocked member refuses the run.
	CreateRun(ctx context.Context, req CreateRunRequest) (*PayoutRun, error)
	// ApproveRun pays every member and settles the run in one
	// transaction. With an async provider the run stays approved until
	// the provider confirms the batch.
	ApproveRun(ctx context.Context, req ApproveRunRequest) (*RunResult, error)
	// PayNow creates the run already paid, members transitioned
	// atomically with run creation.
	PayNow(ctx context.Context, req CreateRunRequest) (*RunResult, error)

	GetByID(ctx context.Context, id string) (*RunDetail, error)
	List(ctx context.Context, req ListRunsRequest) (*ListRunsResponse, error)
	// Statement renders the PDF statement for one affiliate's share of a
	// paid run. Runs that have not paid out yet have no statement.
	Statement(ctx context.Context, req StatementRequest) (*RunStatement, error)

	// PollProviderStatuses asks providers about submitted batches and
	// finalizes runs the provider reports settled. Shop-independent;
	// schedulers call it.
	PollProviderStatuses(ctx context.Context, limit int) (int, error)

	GetProviderConfig(ctx context.Context) (*ProviderConfigSummary, error)
	UpsertProviderConfig(ctx context.Context, req UpsertProviderConfigRequest) (*ProviderConfigSummary, error)
}

var (
	ErrInvalidShop           = errors.New("invalid_shop")
	ErrInvalidID             = errors.New("invalid_id")
	ErrInvalidPeriod         = errors.New("invalid_period")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrEmptyRun              = errors.New("empty_run")
	ErrMixedCurrency         = errors.New("mixed_currency")
	ErrNotFound              = errors.New("payout_run_not_found")
	ErrNotDraft              = errors.New("payout_run_not_draft")
	ErrNotPaid               = errors.New("payout_run_not_paid")
	ErrProviderNotFound      = errors.New("payout_provider_not_found")
	ErrInvalidProviderConfig = errors.New("invalid_provider_config")

	ErrMemberNotFound    = errors.New("member_not_found")
	ErrMemberNotPayable  = errors.New("member_not_payable")
	ErrMemberNotEligible = errors.New("member_not_eligible")
	ErrMemberInRun       = errors.New("member_already_in_run")
)

// RunBlockedError refuses a run because some members cannot join it. The
// ids let the caller fix or drop the blockers and retry.
type RunBlockedError struct {
	CommissionIDs []snowflake.ID
	Reason        error
}

func (e *RunBlockedError) Error() string {
	ids := make([]string, 0, len(e.CommissionIDs))
	for _, id := range e.CommissionIDs {
		ids = append(ids, id.String())
	}
	return e.Reason.Error() + ": " + strings.Join(ids, ",")
}

// Is lets errors.Is match the underlying reason.
func (e *RunBlockedError) Is(target error) bool { return target == e.Reason }
