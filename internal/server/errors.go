package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	apikeydomain "github.com/smallbiznis/partnerly/internal/apikey/domain"
	attributiondomain "github.com/smallbiznis/partnerly/internal/attribution/domain"
	auditdomain "github.com/smallbiznis/partnerly/internal/audit/domain"
	"github.com/smallbiznis/partnerly/internal/authorization"
	clickdomain "github.com/smallbiznis/partnerly/internal/click/domain"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	conversiondomain "github.com/smallbiznis/partnerly/internal/conversion/domain"
	frauddomain "github.com/smallbiznis/partnerly/internal/fraud/domain"
	ledgerdomain "github.com/smallbiznis/partnerly/internal/ledger/domain"
	offerdomain "github.com/smallbiznis/partnerly/internal/offer/domain"
	overviewdomain "github.com/smallbiznis/partnerly/internal/overview/domain"
	payoutdomain "github.com/smallbiznis/partnerly/internal/payout/domain"
	shopdomain "github.com/smallbiznis/partnerly/internal/shop/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	if payload, ok := blockedErrorPayload(err); ok {
		return http.StatusConflict, payload
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isConflictError(err):
		return http.StatusConflict, conflictPayload(err)
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "rate limited",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// blockedErrorPayload surfaces the commission IDs that stopped a gated
// transition or payout so callers can act on them.
func blockedErrorPayload(err error) (errorPayload, bool) {
	var fraudErr *commissiondomain.FraudBlockedError
	if errors.As(err, &fraudErr) {
		return errorPayload{
			Type:    "fraud_blocked",
			Message: "commissions blocked by unresolved fraud flags",
			Errors:  commissionIDErrors("fraud_blocked", idStrings(fraudErr.CommissionIDs)),
		}, true
	}

	var payErr *commissiondomain.PayBlockedError
	if errors.As(err, &payErr) {
		return errorPayload{
			Type:    "conflict",
			Message: conflictMessage(payErr.Reason.Error()),
			Errors:  commissionIDErrors(payErr.Reason.Error(), idStrings(payErr.CommissionIDs)),
		}, true
	}

	var runErr *payoutdomain.RunBlockedError
	if errors.As(err, &runErr) {
		return errorPayload{
			Type:    "conflict",
			Message: conflictMessage(runErr.Reason.Error()),
			Errors:  commissionIDErrors(runErr.Reason.Error(), idStrings(runErr.CommissionIDs)),
		}, true
	}

	return errorPayload{}, false
}

func idStrings(ids []snowflake.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func commissionIDErrors(code string, ids []string) []ValidationError {
	out := make([]ValidationError, 0, len(ids))
	for _, id := range ids {
		out = append(out, ValidationError{
			Field:   "commission_id",
			Code:    code,
			Message: id,
		})
	}
	return out
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case errors.Is(err, affiliatedomain.ErrInvalidShop),
		errors.Is(err, affiliatedomain.ErrInvalidName),
		errors.Is(err, affiliatedomain.ErrInvalidEmail),
		errors.Is(err, affiliatedomain.ErrInvalidID),
		errors.Is(err, affiliatedomain.ErrInvalidOffer),
		errors.Is(err, affiliatedomain.ErrInvalidPayoutMethod),
		errors.Is(err, affiliatedomain.ErrInvalidPayoutTerms),
		errors.Is(err, affiliatedomain.ErrInvalidCouponCode):
		return true
	case errors.Is(err, apikeydomain.ErrInvalidShop),
		errors.Is(err, apikeydomain.ErrInvalidName),
		errors.Is(err, apikeydomain.ErrInvalidScope),
		errors.Is(err, apikeydomain.ErrInvalidKeyID):
		return true
	case errors.Is(err, attributiondomain.ErrInvalidShop),
		errors.Is(err, attributiondomain.ErrInvalidOrder),
		errors.Is(err, attributiondomain.ErrInvalidSubtotal),
		errors.Is(err, attributiondomain.ErrInvalidCurrency),
		errors.Is(err, attributiondomain.ErrInvalidID),
		errors.Is(err, attributiondomain.ErrInvalidAffiliate),
		errors.Is(err, attributiondomain.ErrInvalidTimeRange):
		return true
	case errors.Is(err, auditdomain.ErrInvalidShop),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	case errors.Is(err, clickdomain.ErrInvalidShop),
		errors.Is(err, clickdomain.ErrInvalidAffiliate),
		errors.Is(err, clickdomain.ErrInvalidClickID),
		errors.Is(err, clickdomain.ErrInvalidLandingURL),
		errors.Is(err, clickdomain.ErrInvalidTimeRange):
		return true
	case errors.Is(err, commissiondomain.ErrInvalidShop),
		errors.Is(err, commissiondomain.ErrInvalidID),
		errors.Is(err, commissiondomain.ErrInvalidOrder),
		errors.Is(err, commissiondomain.ErrInvalidSubtotal),
		errors.Is(err, commissiondomain.ErrInvalidCurrency),
		errors.Is(err, commissiondomain.ErrInvalidStatus),
		errors.Is(err, commissiondomain.ErrInvalidAttribution),
		errors.Is(err, commissiondomain.ErrInvalidSequence),
		errors.Is(err, commissiondomain.ErrInvalidAffiliate),
		errors.Is(err, commissiondomain.ErrInvalidOffer),
		errors.Is(err, commissiondomain.ErrEmptyIDSet):
		return true
	case errors.Is(err, conversiondomain.ErrInvalidOrder),
		errors.Is(err, conversiondomain.ErrInvalidCustomerRef):
		return true
	case errors.Is(err, frauddomain.ErrInvalidShop),
		errors.Is(err, frauddomain.ErrInvalidID),
		errors.Is(err, frauddomain.ErrInvalidCommission),
		errors.Is(err, frauddomain.ErrInvalidAffiliate),
		errors.Is(err, frauddomain.ErrInvalidFlagType),
		errors.Is(err, frauddomain.ErrInvalidScore),
		errors.Is(err, frauddomain.ErrInvalidResolved):
		return true
	case errors.Is(err, ledgerdomain.ErrInvalidShop),
		errors.Is(err, ledgerdomain.ErrInvalidAffiliate),
		errors.Is(err, ledgerdomain.ErrInvalidEntryType),
		errors.Is(err, ledgerdomain.ErrInvalidSource),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidCurrency):
		return true
	case errors.Is(err, offerdomain.ErrInvalidShop),
		errors.Is(err, offerdomain.ErrInvalidName),
		errors.Is(err, offerdomain.ErrInvalidID),
		errors.Is(err, offerdomain.ErrInvalidCommissionType),
		errors.Is(err, offerdomain.ErrInvalidAmount),
		errors.Is(err, offerdomain.ErrInvalidPercent),
		errors.Is(err, offerdomain.ErrInvalidCurrency),
		errors.Is(err, offerdomain.ErrInvalidWindow),
		errors.Is(err, offerdomain.ErrInvalidRebillPolicy),
		errors.Is(err, offerdomain.ErrInvalidRebillRule),
		errors.Is(err, offerdomain.ErrInvalidStatus):
		return true
	case errors.Is(err, overviewdomain.ErrInvalidShop):
		return true
	case errors.Is(err, payoutdomain.ErrInvalidShop),
		errors.Is(err, payoutdomain.ErrInvalidID),
		errors.Is(err, payoutdomain.ErrInvalidPeriod),
		errors.Is(err, payoutdomain.ErrInvalidStatus),
		errors.Is(err, payoutdomain.ErrInvalidProviderConfig):
		return true
	case errors.Is(err, shopdomain.ErrInvalidName),
		errors.Is(err, shopdomain.ErrInvalidCurrency),
		errors.Is(err, shopdomain.ErrInvalidStatus),
		errors.Is(err, shopdomain.ErrInvalidShopID),
		errors.Is(err, shopdomain.ErrInvalidShop),
		errors.Is(err, shopdomain.ErrInvalidUserID),
		errors.Is(err, shopdomain.ErrInvalidRole):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, affiliatedomain.ErrEmailTaken),
		errors.Is(err, affiliatedomain.ErrCouponTaken),
		errors.Is(err, affiliatedomain.ErrInvalidTransition),
		errors.Is(err, commissiondomain.ErrInvalidTransition),
		errors.Is(err, commissiondomain.ErrClawbackRequired),
		errors.Is(err, commissiondomain.ErrFraudBlocked),
		errors.Is(err, commissiondomain.ErrNotYetEligible),
		errors.Is(err, payoutdomain.ErrEmptyRun),
		errors.Is(err, payoutdomain.ErrMixedCurrency),
		errors.Is(err, payoutdomain.ErrNotDraft),
		errors.Is(err, payoutdomain.ErrNotPaid),
		errors.Is(err, payoutdomain.ErrMemberNotPayable),
		errors.Is(err, payoutdomain.ErrMemberNotEligible),
		errors.Is(err, payoutdomain.ErrMemberInRun),
		errors.Is(err, shopdomain.ErrLastOwner):
		return true
	default:
		return false
	}
}

func conflictPayload(err error) errorPayload {
	code := err.Error()
	return errorPayload{
		Type:    "conflict",
		Message: conflictMessage(code),
		Errors: []ValidationError{
			{
				Field:   "",
				Code:    code,
				Message: conflictMessage(code),
			},
		},
	}
}

func conflictMessage(code string) string {
	switch code {
	case "email_taken":
		return "email already in use"
	case "coupon_taken":
		return "coupon code already assigned"
	case "invalid_transition":
		return "invalid state transition"
	case "clawback_required":
		return "reversal requires a clawback entry"
	case "fraud_blocked":
		return "commissions blocked by unresolved fraud flags"
	case "not_yet_eligible":
		return "commission hold period has not elapsed"
	case "empty_run":
		return "no payable commissions in the requested period"
	case "mixed_currency":
		return "commissions span multiple currencies"
	case "payout_run_not_draft":
		return "payout run is not in draft"
	case "payout_run_not_paid":
		return "payout run is not paid"
	case "member_not_payable":
		return "commission is not in a payable state"
	case "member_not_eligible":
		return "commission is not yet eligible for payout"
	case "member_already_in_run":
		return "commission already belongs to an open payout run"
	case "last_owner":
		return "cannot remove the last owner"
	default:
		return "conflict"
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, affiliatedomain.ErrNotFound),
		errors.Is(err, affiliatedomain.ErrCouponNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, attributiondomain.ErrNotFound),
		errors.Is(err, clickdomain.ErrNotFound),
		errors.Is(err, commissiondomain.ErrNotFound),
		errors.Is(err, frauddomain.ErrNotFound),
		errors.Is(err, offerdomain.ErrNotFound),
		errors.Is(err, payoutdomain.ErrNotFound),
		errors.Is(err, payoutdomain.ErrProviderNotFound),
		errors.Is(err, payoutdomain.ErrMemberNotFound),
		errors.Is(err, shopdomain.ErrShopNotFound),
		errors.Is(err, shopdomain.ErrMemberNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
