package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	obsmetrics "github.com/smallbiznis/partnerly/internal/observability/metrics"
	"gorm.io/datatypes"
)

// WorkCommission is the claim projection the eligibility sweep operates
// on. The sweep never writes these rows directly; transitions go through
// the commission service, which re-checks state inside its own
// transaction.
type WorkCommission struct {
	ID           snowflake.ID
	ShopID       snowflake.ID
	AffiliateID  snowflake.ID
	OrderID      string
	Status       commissiondomain.CommissionStatus
	EligibleDate time.Time
}

// OutboxWorkEvent is the claim projection for outbox dispatch.
type OutboxWorkEvent struct {
	ID        snowflake.ID
	ShopID    snowflake.ID
	EventType string
	Payload   datatypes.JSONMap
	DedupeKey *string
	Published bool
	Attempts  int
	CreatedAt time.Time
}

// FetchCommissionsDueForValidation claims pending commissions whose hold
// period has elapsed and that carry no open fraud flag, either on the
// commission itself or on its affiliate. Flagged rows stay behind so one
// held commission cannot stall the rest of the shop's batch.
func (s *Scheduler) FetchCommissionsDueForValidation(ctx context.Context, now time.Time, limit int) ([]WorkCommission, error) {
	where := `c.status = ?
	   AND c.eligible_date <= ?
	   AND NOT EXISTS (
		   SELECT 1 FROM fraud_flags f
		   WHERE f.shop_id = c.shop_id
			 AND f.resolved = ?
			 AND (f.commission_id = c.id OR (f.commission_id = 0 AND f.affiliate_id = c.affiliate_id))
	   )`
	args := []any{commissiondomain.StatusPending, now, false}
	return s.fetchCommissionsForWork(ctx, where, args, limit)
}

func (s *Scheduler) fetchCommissionsForWork(ctx context.Context, where string, args []any, limit int) ([]WorkCommission, error) {
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}
	var commissions []WorkCommission
	schedMetrics := obsmetrics.Scheduler()
	query := fmt.Sprintf(
		`SELECT c.id, c.shop_id, c.affiliate_id, c.order_id, c.status, c.eligible_date
		 FROM commissions c
		 WHERE %s
		 ORDER BY c.eligible_date ASC, c.id ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		where,
	)
	args = append(args, limit)
	lockStart := time.Now()
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&commissions).Error; err != nil {
		schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceCommissionsForWork, time.Since(lockStart))
		return commissions, err
	}
	schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceCommissionsForWork, time.Since(lockStart))
	return commissions, nil
}

func (s *Scheduler) fetchOutboxEventsForWork(ctx context.Context, limit, maxAttempts int) ([]OutboxWorkEvent, error) {
	if limit <= 0 {
		limit = s.cfg.MaxDispatchBatchSize
	}
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxDispatchAttempts
	}
	var events []OutboxWorkEvent
	schedMetrics := obsmetrics.Scheduler()
	lockStart := time.Now()
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, shop_id, event_type, payload, dedupe_key, published, attempts, created_at
		 FROM outbox_events
		 WHERE published = ? AND attempts < ?
		 ORDER BY created_at ASC, id ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		false,
		maxAttempts,
		limit,
	).Scan(&events).Error
	schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceOutboxForWork, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return events, nil
}

// countOpenFraudFlags reports how many due pending commissions are being
// held back by unresolved flags, for run-report logging only.
func (s *Scheduler) countOpenFraudFlags(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM commissions c
		 WHERE c.status = ?
		   AND c.eligible_date <= ?
		   AND EXISTS (
			   SELECT 1 FROM fraud_flags f
			   WHERE f.shop_id = c.shop_id
				 AND f.resolved = ?
				 AND (f.commission_id = c.id OR (f.commission_id = 0 AND f.affiliate_id = c.affiliate_id))
		   )`,
		commissiondomain.StatusPending,
		now,
		false,
	).Scan(&count).Error
	return count, err
}
