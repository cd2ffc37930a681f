// Package scheduler drives the commission pipeline's background work:
// sweeping matured commissions to eligible, draining the outbox into
// shop postbacks, polling payout providers and pruning expired clicks.
// Every job is idempotent and batch-bounded so concurrent scheduler
// instances can share a database.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/partnerly/internal/audit/domain"
	auditcontext "github.com/smallbiznis/partnerly/internal/auditcontext"
	"github.com/smallbiznis/partnerly/internal/authorization"
	clickdomain "github.com/smallbiznis/partnerly/internal/click/domain"
	"github.com/smallbiznis/partnerly/internal/clock"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	"github.com/smallbiznis/partnerly/internal/config"
	"github.com/smallbiznis/partnerly/internal/events"
	obsmetrics "github.com/smallbiznis/partnerly/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/partnerly/internal/payout/domain"
	postbackdomain "github.com/smallbiznis/partnerly/internal/postback/domain"
	"github.com/smallbiznis/partnerly/internal/ratelimit"
	"github.com/smallbiznis/partnerly/internal/scheduler/guard"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidConfig          = errors.New("invalid_scheduler_config")
	ErrMalformedOutboxPayload = errors.New("malformed_outbox_payload")
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	CommissionSvc commissiondomain.Service
	PayoutSvc     payoutdomain.Service
	ClickSvc      clickdomain.Service
	AuditSvc      auditdomain.Service

	AuthzSvc   authorization.Service
	Dispatcher postbackdomain.Dispatcher
	Outbox     *events.Outbox
	Tracking   *config.TrackingConfigHolder `optional:"true"`
	Locker     *ratelimit.Locker            `optional:"true"`
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config `optional:"true"`
}

type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	commissionSvc commissiondomain.Service
	payoutSvc     payoutdomain.Service
	clickSvc      clickdomain.Service
	auditSvc      auditdomain.Service
	authzSvc      authorization.Service
	dispatcher    postbackdomain.Dispatcher
	outbox        *events.Outbox
	tracking      *config.TrackingConfigHolder
	locker        *ratelimit.Locker
}

type auditEvent struct {
	ShopID     snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.CommissionSvc == nil || p.PayoutSvc == nil || p.ClickSvc == nil || p.GenID == nil || p.AuditSvc == nil || p.AuthzSvc == nil || p.Clock == nil || p.Dispatcher == nil || p.Outbox == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           cfg,
		genID:         p.GenID,
		clock:         p.Clock,
		commissionSvc: p.CommissionSvc,
		payoutSvc:     p.PayoutSvc,
		clickSvc:      p.ClickSvc,
		auditSvc:      p.AuditSvc,
		authzSvc:      p.AuthzSvc,
		dispatcher:    p.Dispatcher,
		outbox:        p.Outbox,
		tracking:      p.Tracking,
		locker:        p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()

	// One replica per job per tick. A redis outage degrades to running
	// unlocked; the SKIP LOCKED claims keep concurrent replicas correct,
	// just less efficient.
	if s.locker != nil {
		lockKey := "scheduler:job:" + name
		token, acquired, lockErr := s.locker.TryLock(parent, lockKey, timeout+30*time.Second)
		switch {
		case lockErr != nil:
			s.log.Warn("scheduler lock unavailable",
				zap.String("job", name),
				zap.Error(lockErr),
			)
		case !acquired:
			obsmetrics.Scheduler().IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
			return nil
		default:
			defer func() {
				if releaseErr := s.locker.Release(parent, lockKey, token); releaseErr != nil {
					s.log.Warn("scheduler lock release failed",
						zap.String("job", name),
						zap.Error(releaseErr),
					)
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft stop: the batch resumes on the next tick.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"eligibility_sweep", s.isJobEnabled("eligibility_sweep"), func(ctx context.Context) error {
			return s.runJob(ctx, "eligibility_sweep", s.cfg.MaxSweepBatchSize, 30*time.Second, s.EligibilitySweepJob)
		}},
		{"outbox_dispatch", s.isJobEnabled("outbox_dispatch"), func(ctx context.Context) error {
			return s.runJob(ctx, "outbox_dispatch", s.cfg.MaxDispatchBatchSize, time.Minute, s.OutboxDispatchJob)
		}},
		{"payout_poll", s.isJobEnabled("payout_poll"), func(ctx context.Context) error {
			return s.runJob(ctx, "payout_poll", s.cfg.MaxPollBatchSize, 30*time.Second, s.PayoutPollJob)
		}},
		{"click_retention", s.isJobEnabled("click_retention"), func(ctx context.Context) error {
			return s.runJob(ctx, "click_retention", s.cfg.RetentionBatchSize, time.Minute, s.ClickRetentionJob)
		}},
		{"stale_sweep", s.isJobEnabled("stale_sweep"), func(ctx context.Context) error {
			return s.runJob(ctx, "stale_sweep", s.cfg.BatchSize, 30*time.Second, s.StaleSweepJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means every job runs (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// EligibilitySweepJob moves pending commissions past their hold period to
// eligible, one shop batch at a time. Rows with open fraud flags are left
// behind by the claim query and surface in the held count instead.
func (s *Scheduler) EligibilitySweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "eligibility_sweep", s.cfg.MaxSweepBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()
	var jobErr error
	schedMetrics := obsmetrics.Scheduler()

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		commissions, err := s.FetchCommissionsDueForValidation(ctx, now, s.cfg.MaxSweepBatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.commission.claim.failed", "eligibility_sweep", 0, err)
			schedMetrics.IncPipelineError(obsmetrics.PipelineStageEligibility, err)
			return errors.Join(jobErr, err)
		}
		if len(commissions) == 0 {
			schedMetrics.IncBatchDeferred("eligibility_sweep", obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
			break
		}

		due := make([]WorkCommission, 0, len(commissions))
		for _, commission := range commissions {
			if err := guard.EnsureCommissionCanValidate(commission.Status, commission.EligibleDate, now); err != nil {
				s.logger(ctx).Debug("scheduler.commission.skipped",
					zap.String("commission_id", idString(commission.ID)),
					zap.String("reason", err.Error()),
				)
				continue
			}
			due = append(due, commission)
		}
		if len(due) == 0 {
			break
		}

		moved := 0
		for _, batch := range groupCommissionsByShop(due) {
			if ctx.Err() != nil {
				jobErr = errors.Join(jobErr, ctx.Err())
				break
			}
			s.logCommissionsClaimed(ctx, "eligibility_sweep", batch.ShopID, len(batch.IDs))
			if err := s.authorizeSystem(ctx, batch.ShopID, authorization.ObjectCommission, authorization.ActionCommissionValidate); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.authorize.failed", "eligibility_sweep", batch.ShopID, err,
					zap.Int("claimed_count", len(batch.IDs)),
				)
				continue
			}

			shopCtx := s.withLogContext(shopcontext.WithShopID(ctx, int64(batch.ShopID)), batch.ShopID)
			result, err := s.commissionSvc.BulkValidate(shopCtx, commissiondomain.BulkTransitionRequest{CommissionIDs: batch.IDs})
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.commission.validate.failed", "eligibility_sweep", batch.ShopID, err,
					zap.Int("claimed_count", len(batch.IDs)),
				)
				schedMetrics.IncPipelineError(obsmetrics.PipelineStageEligibility, err)
				continue
			}

			run.AddProcessed(result.Transitioned)
			moved += result.Transitioned
			for i := 0; i < result.Transitioned; i++ {
				schedMetrics.IncCommissionTransition(
					string(commissiondomain.StatusPending),
					string(commissiondomain.StatusEligible),
				)
			}
			for _, skipped := range result.Skipped {
				s.logger(shopCtx).Debug("scheduler.commission.skipped",
					zap.String("commission_id", skipped.CommissionID),
					zap.String("reason", skipped.Reason),
				)
			}
		}

		if moved > 0 {
			schedMetrics.IncBatchProcessed("eligibility_sweep")
			schedMetrics.AddBatchProcessed("eligibility_sweep", "commissions", moved)
		}
		// Skips leave rows pending, so a pass that moved nothing would
		// refetch the same claim forever.
		if moved == 0 {
			break
		}
	}

	if held, err := s.countOpenFraudFlags(ctx, now); err == nil && held > 0 {
		s.logger(ctx).Info("scheduler.commissions.held",
			zap.String("job", "eligibility_sweep"),
			zap.Int64("held_count", held),
		)
	}

	return jobErr
}

// OutboxDispatchJob drains unpublished outbox rows. Approval and payment
// events become shop postbacks; everything else is marked published in
// place, the row itself being the durable record. At-least-once: a
// delivery that succeeds but fails to mark is re-sent with its dedupe key.
func (s *Scheduler) OutboxDispatchJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "outbox_dispatch", s.cfg.MaxDispatchBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	var jobErr error
	schedMetrics := obsmetrics.Scheduler()

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		pending, err := s.fetchOutboxEventsForWork(ctx, s.cfg.MaxDispatchBatchSize, s.cfg.MaxDispatchAttempts)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.outbox.claim.failed", "outbox_dispatch", 0, err)
			schedMetrics.IncPipelineError(obsmetrics.PipelineStageOutbox, err)
			return errors.Join(jobErr, err)
		}
		if len(pending) == 0 {
			break
		}

		published := 0
		for _, event := range pending {
			if ctx.Err() != nil {
				jobErr = errors.Join(jobErr, ctx.Err())
				break
			}
			ok, err := s.dispatchOutboxEvent(ctx, run, event)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				continue
			}
			if ok {
				published++
				run.AddProcessed(1)
			}
		}

		if published > 0 {
			schedMetrics.IncBatchProcessed("outbox_dispatch")
			schedMetrics.AddBatchProcessed("outbox_dispatch", "outbox_events", published)
		}
		// Failed deliveries stay queued with attempts bumped; retry them
		// on the next tick instead of hammering the shop endpoint now.
		if published == 0 {
			break
		}
	}

	return jobErr
}

func (s *Scheduler) dispatchOutboxEvent(ctx context.Context, run *jobRun, event OutboxWorkEvent) (bool, error) {
	if err := guard.EnsureOutboxEventDeliverable(event.Published, event.Attempts, s.cfg.MaxDispatchAttempts); err != nil {
		s.logger(ctx).Debug("scheduler.outbox.skipped",
			zap.String("event_id", idString(event.ID)),
			zap.String("reason", err.Error()),
		)
		return false, nil
	}

	switch event.EventType {
	case events.EventCommissionApproval, events.EventCommissionPayment:
	default:
		if err := s.outbox.MarkPublished(ctx, event.ID); err != nil {
			s.logSchedulerError(ctx, run, "scheduler.outbox.mark.failed", "outbox_dispatch", event.ShopID, err,
				zap.String("event_id", idString(event.ID)),
				zap.String("event_type", event.EventType),
			)
			return false, err
		}
		return true, nil
	}

	delivery, err := s.buildPostbackDelivery(event)
	if err != nil {
		// A payload that cannot become a delivery never will; burn its
		// attempts so it ages out of the claim.
		s.logSchedulerError(ctx, run, "scheduler.outbox.payload.invalid", "outbox_dispatch", event.ShopID, err,
			zap.String("event_id", idString(event.ID)),
			zap.String("event_type", event.EventType),
		)
		obsmetrics.Scheduler().IncPipelineError(obsmetrics.PipelineStageOutbox, err)
		if markErr := s.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			return false, markErr
		}
		return false, nil
	}

	result := s.dispatcher.Deliver(ctx, *delivery)
	if result.OK {
		if err := s.outbox.MarkPublished(ctx, event.ID); err != nil {
			s.logSchedulerError(ctx, run, "scheduler.outbox.mark.failed", "outbox_dispatch", event.ShopID, err,
				zap.String("event_id", idString(event.ID)),
				zap.String("event_type", event.EventType),
			)
			return false, err
		}
		s.logOutboxDelivered(ctx, event, true, "")
		return true, nil
	}

	deliveryErr := errors.New(result.Error)
	if markErr := s.outbox.MarkFailed(ctx, event.ID, deliveryErr); markErr != nil {
		s.logSchedulerError(ctx, run, "scheduler.outbox.mark.failed", "outbox_dispatch", event.ShopID, markErr,
			zap.String("event_id", idString(event.ID)),
			zap.String("event_type", event.EventType),
		)
		return false, markErr
	}
	obsmetrics.Scheduler().IncPipelineError(obsmetrics.PipelineStagePostback, deliveryErr)
	s.logOutboxDelivered(ctx, event, false, result.Error)
	run.IncError()
	return false, nil
}

func (s *Scheduler) buildPostbackDelivery(event OutboxWorkEvent) (*postbackdomain.Delivery, error) {
	commissionID := payloadString(event.Payload, "commission_id")
	affiliateID := payloadString(event.Payload, "affiliate_id")
	if commissionID == "" || affiliateID == "" {
		return nil, ErrMalformedOutboxPayload
	}

	postbackEvent := payloadString(event.Payload, "postback_event")
	if postbackEvent == "" {
		switch event.EventType {
		case events.EventCommissionApproval:
			postbackEvent = postbackdomain.EventApproval
		case events.EventCommissionPayment:
			postbackEvent = postbackdomain.EventPayment
		}
	}

	dedupeKey := ""
	if event.DedupeKey != nil {
		dedupeKey = *event.DedupeKey
	}

	return &postbackdomain.Delivery{
		ShopID:       event.ShopID,
		CommissionID: commissionID,
		AffiliateID:  affiliateID,
		Event:        postbackEvent,
		AmountCents:  payloadInt64(event.Payload, "amount_cents"),
		Currency:     payloadString(event.Payload, "currency"),
		OrderID:      payloadString(event.Payload, "order_id"),
		DedupeKey:    dedupeKey,
	}, nil
}

// PayoutPollJob asks providers about submitted payout batches. Claiming
// and per-run fault isolation live in the payout service.
func (s *Scheduler) PayoutPollJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "payout_poll", s.cfg.MaxPollBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	settled, err := s.payoutSvc.PollProviderStatuses(ctx, s.cfg.MaxPollBatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "payout.poll.failed", "payout_poll", 0, err)
		obsmetrics.Scheduler().IncPipelineError(obsmetrics.PipelineStagePayoutPoll, err)
		return err
	}

	run.AddProcessed(settled)
	if settled > 0 {
		obsmetrics.Scheduler().AddBatchProcessed("payout_poll", "payout_runs", settled)
	}
	return nil
}

// ClickRetentionJob prunes clicks older than the configured retention
// window. Cross-shop by nature; the audit entry carries no shop id.
func (s *Scheduler) ClickRetentionJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "click_retention", s.cfg.RetentionBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	retentionDays := s.trackingConfig().ClickRetentionDays
	if retentionDays <= 0 {
		return nil
	}
	cutoff := s.clock.Now().AddDate(0, 0, -retentionDays)

	pruned, err := s.clickSvc.PruneOlderThan(ctx, cutoff, s.cfg.RetentionBatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "click.retention.failed", "click_retention", 0, err)
		obsmetrics.Scheduler().IncPipelineError(obsmetrics.PipelineStageRetention, err)
		return err
	}
	if pruned == 0 {
		return nil
	}

	run.AddProcessed(int(pruned))
	obsmetrics.Scheduler().AddBatchProcessed("click_retention", "clicks", int(pruned))
	s.emitAuditEvent(ctx, auditEvent{
		Action:     "click.retention_pruned",
		TargetType: "click",
		Metadata: map[string]any{
			"cutoff":         cutoff.Format(time.RFC3339),
			"pruned_count":   pruned,
			"retention_days": retentionDays,
		},
	})
	return nil
}

func (s *Scheduler) trackingConfig() config.TrackingConfig {
	if s.tracking == nil {
		return config.DefaultTrackingConfig()
	}
	return s.tracking.Get()
}

type shopBatch struct {
	ShopID snowflake.ID
	IDs    []string
}

// groupCommissionsByShop buckets claimed rows per shop, preserving first
// appearance order so runs are deterministic.
func groupCommissionsByShop(commissions []WorkCommission) []shopBatch {
	index := make(map[snowflake.ID]int, len(commissions))
	batches := make([]shopBatch, 0, len(commissions))
	for _, commission := range commissions {
		i, ok := index[commission.ShopID]
		if !ok {
			i = len(batches)
			index[commission.ShopID] = i
			batches = append(batches, shopBatch{ShopID: commission.ShopID})
		}
		batches[i].IDs = append(batches[i].IDs, commission.ID.String())
	}
	return batches
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}

// payloadInt64 tolerates the float64 that JSON columns round-trip
// numbers through.
func payloadInt64(payload map[string]any, key string) int64 {
	if payload == nil {
		return 0
	}
	switch value := payload[key].(type) {
	case int64:
		return value
	case float64:
		return int64(value)
	case int:
		return int64(value)
	case json.Number:
		parsed, _ := value.Int64()
		return parsed
	default:
		return 0
	}
}

func (s *Scheduler) withAuditContext(ctx context.Context) context.Context {
	return auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
}

func (s *Scheduler) emitAuditEvent(ctx context.Context, event auditEvent) {
	if s.auditSvc == nil {
		return
	}
	ctx = s.withAuditContext(ctx)
	var shopID *snowflake.ID
	if event.ShopID != 0 {
		id := event.ShopID
		shopID = &id
	}
	var targetID *string
	if event.TargetID != "" {
		id := event.TargetID
		targetID = &id
	}
	_ = s.auditSvc.AuditLog(ctx, shopID, "", nil, event.Action, event.TargetType, targetID, event.Metadata)
}

func (s *Scheduler) authorizeSystem(ctx context.Context, shopID snowflake.ID, object string, action string) error {
	if s.authzSvc == nil {
		return authorization.ErrForbidden
	}
	return s.authzSvc.Authorize(ctx, "system", shopID.String(), object, action)
}
