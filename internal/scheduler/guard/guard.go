// Package guard holds the scheduler's precondition checks. Claim queries
// already filter on these conditions; the guards re-check the claimed
// rows so a stale read never feeds an ineligible row into a transition.
package guard

import (
	"errors"
	"time"

	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
)

var (
	ErrCommissionNotPending  = errors.New("commission_not_pending")
	ErrCommissionNotDue      = errors.New("commission_not_due")
	ErrEventAlreadyPublished = errors.New("outbox_event_already_published")
	ErrEventOutOfAttempts    = errors.New("outbox_event_out_of_attempts")
)

func EnsureCommissionCanValidate(status commissiondomain.CommissionStatus, eligibleDate, now time.Time) error {
	if status != commissiondomain.StatusPending {
		return ErrCommissionNotPending
	}
	if now.Before(eligibleDate) {
		return ErrCommissionNotDue
	}
	return nil
}

func EnsureOutboxEventDeliverable(published bool, attempts, maxAttempts int) error {
	if published {
		return ErrEventAlreadyPublished
	}
	if maxAttempts > 0 && attempts >= maxAttempts {
		return ErrEventOutOfAttempts
	}
	return nil
}
