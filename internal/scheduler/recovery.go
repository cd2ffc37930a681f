package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	payoutdomain "github.com/smallbiznis/partnerly/internal/payout/domain"
	"go.uber.org/zap"
)

type stalePayoutRun struct {
	ID              snowflake.ID
	ShopID          snowflake.ID
	Provider        string
	ExternalBatchID string
	UpdatedAt       time.Time
}

// StaleSweepJob surfaces pipeline work that stopped moving: payout
// batches a provider has sat on past the stale threshold, and outbox
// events that burned every delivery attempt. Detection only; settlement
// and requeueing stay with the operator.
func (s *Scheduler) StaleSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "stale_sweep", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.StaleThreshold)

	var staleRuns []stalePayoutRun
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, shop_id, provider, external_batch_id, updated_at
		 FROM payout_runs
		 WHERE provider_status = ? AND updated_at <= ?
		 ORDER BY updated_at ASC
		 LIMIT ?`,
		payoutdomain.ProviderStatusSubmitted,
		cutoff,
		s.cfg.BatchSize,
	).Scan(&staleRuns).Error; err != nil {
		s.logSchedulerError(ctx, run, "scheduler.stale.scan.failed", "stale_sweep", 0, err)
		return err
	}
	for _, stale := range staleRuns {
		run.AddProcessed(1)
		s.logger(s.withLogContext(ctx, stale.ShopID)).Warn("payout batch stale at provider",
			zap.String("payout_run_id", idString(stale.ID)),
			zap.String("shop_id", idString(stale.ShopID)),
			zap.String("provider", stale.Provider),
			zap.String("external_batch_id", stale.ExternalBatchID),
			zap.Time("last_update", stale.UpdatedAt),
			zap.Duration("stale_threshold", s.cfg.StaleThreshold),
		)
	}

	var deadLettered int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM outbox_events
		 WHERE published = ? AND attempts >= ?`,
		false,
		s.cfg.MaxDispatchAttempts,
	).Scan(&deadLettered).Error; err != nil {
		s.logSchedulerError(ctx, run, "scheduler.stale.scan.failed", "stale_sweep", 0, err)
		return err
	}
	if deadLettered > 0 {
		s.logger(ctx).Warn("outbox events out of delivery attempts",
			zap.Int64("dead_lettered_count", deadLettered),
			zap.Int("max_attempts", s.cfg.MaxDispatchAttempts),
		)
	}

	return nil
}
