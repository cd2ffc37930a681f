package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	auditdomain "github.com/smallbiznis/partnerly/internal/audit/domain"
	"github.com/smallbiznis/partnerly/internal/audit/masking"
	"github.com/smallbiznis/partnerly/internal/clock"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	"github.com/smallbiznis/partnerly/internal/config"
	"github.com/smallbiznis/partnerly/internal/events"
	frauddomain "github.com/smallbiznis/partnerly/internal/fraud/domain"
	"github.com/smallbiznis/partnerly/internal/observability/metrics"
	"github.com/smallbiznis/partnerly/internal/payout/adapters"
	payoutdomain "github.com/smallbiznis/partnerly/internal/payout/domain"
	"github.com/smallbiznis/partnerly/internal/providers/pdf"
	postbackdomain "github.com/smallbiznis/partnerly/internal/postback/domain"
	shopdomain "github.com/smallbiznis/partnerly/internal/shop/domain"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config

	Repo           payoutdomain.Repository
	CommissionRepo commissiondomain.Repository
	AffiliateRepo  affiliatedomain.Repository
	ShopRepo       shopdomain.Repository
	CommissionSvc  commissiondomain.Service
	FraudSvc       frauddomain.Service
	Registry       *adapters.Registry
	Statements     pdf.Provider

	Postbacks  postbackdomain.Deliverer `optional:"true"`
	Outbox     *events.Outbox           `optional:"true"`
	AuditSvc   auditdomain.Service      `optional:"true"`
	ObsMetrics *metrics.Metrics         `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	cfg            config.Config
	repo           payoutdomain.Repository
	commissionRepo commissiondomain.Repository
	affiliateRepo  affiliatedomain.Repository
	shopRepo       shopdomain.Repository
	commissionSvc  commissiondomain.Service
	fraudSvc       frauddomain.Service
	registry       *adapters.Registry
	statements     pdf.Provider
	postbacks      postbackdomain.Deliverer
	outbox         *events.Outbox
	auditSvc       auditdomain.Service
	obsMetrics     *metrics.Metrics
}

func New(p Params) payoutdomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("payout.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		cfg:            p.Cfg,
		repo:           p.Repo,
		commissionRepo: p.CommissionRepo,
		affiliateRepo:  p.AffiliateRepo,
		shopRepo:       p.ShopRepo,
		commissionSvc:  p.CommissionSvc,
		fraudSvc:       p.FraudSvc,
		registry:       p.Registry,
		statements:     p.Statements,
		postbacks:      p.Postbacks,
		outbox:         p.Outbox,
		auditSvc:       p.AuditSvc,
		obsMetrics:     p.ObsMetrics,
	}
}

// CreateRun implements domain.Service.
func (s *Service) CreateRun(ctx context.Context, req payoutdomain.CreateRunRequest) (*payoutdomain.PayoutRun, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := parseIDSet(req.CommissionIDs)
	if err != nil {
		return nil, err
	}
	if err := validatePeriod(req.PeriodStart, req.PeriodEnd); err != nil {
		return nil, err
	}
	if err := s.fraudGate(ctx, ids); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var run *payoutdomain.PayoutRun
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		members, err := s.collectMembers(ctx, tx, shopID, ids, now)
		if err != nil {
			return err
		}

		run = s.newRun(shopID, req, members, now)
		run.Status = payoutdomain.RunStatusDraft
		if err := s.repo.InsertRun(ctx, tx, run); err != nil {
			return err
		}
		return s.repo.InsertMembers(ctx, tx, joinRows(run.ID, ids, now))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payout run created",
		zap.String("payout_run_id", run.ID.String()),
		zap.Int("members", run.MemberCount),
		zap.Int64("total_cents", run.TotalCents),
	)
	s.audit(ctx, shopID, "payout_run.create", run.ID, map[string]any{
		"members":     run.MemberCount,
		"total_cents": run.TotalCents,
	})
	return run, nil
}

// ApproveRun implements domain.Service. The run and every member move in
// one transaction; provider submission happens strictly after commit and
// its failure never reverts the transition.
func (s *Service) ApproveRun(ctx context.Context, req payoutdomain.ApproveRunRequest) (*payoutdomain.RunResult, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	runID, err := parseID(req.RunID)
	if err != nil {
		return nil, err
	}
	provider, err := s.resolveProvider(ctx, shopID)
	if err != nil {
		return nil, err
	}

	externalBatchID := strings.TrimSpace(req.ExternalBatchID)
	// An operator-supplied reference means settlement already happened
	// elsewhere; the provider is not consulted.
	immediate := externalBatchID != "" || !provider.Async()

	now := s.clock.Now()
	var (
		run        *payoutdomain.PayoutRun
		deliveries []postbackdomain.Delivery
		items      []payoutdomain.PayoutItem
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindRunByIDForUpdate(ctx, tx, shopID, runID)
		if err != nil {
			return err
		}
		if locked == nil {
			return payoutdomain.ErrNotFound
		}
		if locked.Status != payoutdomain.RunStatusDraft {
			return payoutdomain.ErrNotDraft
		}
		run = locked

		memberIDs, err := s.repo.MemberIDs(ctx, tx, run.ID)
		if err != nil {
			return err
		}
		if len(memberIDs) == 0 {
			return payoutdomain.ErrEmptyRun
		}

		payResult, err := s.commissionSvc.PayForRun(ctx, tx, commissiondomain.PayForRunRequest{
			ShopID:        shopID,
			PayoutRunID:   run.ID,
			CommissionIDs: memberIDs,
			Now:           now,
		})
		if err != nil {
			return err
		}
		deliveries = payResult.Postbacks
		items = payoutItems(payResult.Paid)

		run.Provider = provider.Name()
		run.ExternalBatchID = externalBatchID
		run.UpdatedAt = now
		if immediate {
			run.Status = payoutdomain.RunStatusPaid
			run.PaidAt = &now
			if err := s.enqueueRunPaid(ctx, tx, run); err != nil {
				return err
			}
		} else {
			run.Status = payoutdomain.RunStatusApproved
		}
		return s.repo.UpdateRun(ctx, tx, run)
	})
	if err != nil {
		return nil, err
	}

	result := &payoutdomain.RunResult{Run: run}
	if s.postbacks != nil && len(deliveries) > 0 {
		result.Postbacks = s.postbacks.DeliverAll(ctx, deliveries)
	}
	if !immediate {
		s.submitToProvider(ctx, provider, run, items, result)
	}

	s.log.Info("payout run approved",
		zap.String("payout_run_id", run.ID.String()),
		zap.String("status", string(run.Status)),
		zap.Int("members", run.MemberCount),
	)
	s.audit(ctx, shopID, "payout_run.approve", run.ID, map[string]any{
		"status":            string(run.Status),
		"external_batch_id": run.ExternalBatchID,
	})
	return result, nil
}

// PayNow implements domain.Service. The run is born paid: creation, join
// rows and member transitions commit together.
func (s *Service) PayNow(ctx context.Context, req payoutdomain.CreateRunRequest) (*payoutdomain.RunResult, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := parseIDSet(req.CommissionIDs)
	if err != nil {
		return nil, err
	}
	if err := validatePeriod(req.PeriodStart, req.PeriodEnd); err != nil {
		return nil, err
	}
	if err := s.fraudGate(ctx, ids); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var (
		run        *payoutdomain.PayoutRun
		deliveries []postbackdomain.Delivery
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		members, err := s.collectMembers(ctx, tx, shopID, ids, now)
		if err != nil {
			return err
		}

		run = s.newRun(shopID, req, members, now)
		run.Status = payoutdomain.RunStatusPaid
		run.Provider = "manual"
		run.PaidAt = &now
		if err := s.repo.InsertRun(ctx, tx, run); err != nil {
			return err
		}
		if err := s.repo.InsertMembers(ctx, tx, joinRows(run.ID, ids, now)); err != nil {
			return err
		}

		payResult, err := s.commissionSvc.PayForRun(ctx, tx, commissiondomain.PayForRunRequest{
			ShopID:        shopID,
			PayoutRunID:   run.ID,
			CommissionIDs: ids,
			Now:           now,
		})
		if err != nil {
			return err
		}
		deliveries = payResult.Postbacks
		return s.enqueueRunPaid(ctx, tx, run)
	})
	if err != nil {
		return nil, err
	}

	result := &payoutdomain.RunResult{Run: run}
	if s.postbacks != nil && len(deliveries) > 0 {
		result.Postbacks = s.postbacks.DeliverAll(ctx, deliveries)
	}

	s.log.Info("payout run paid",
		zap.String("payout_run_id", run.ID.String()),
		zap.Int("members", run.MemberCount),
		zap.Int64("total_cents", run.TotalCents),
	)
	s.audit(ctx, shopID, "payout_run.paynow", run.ID, map[string]any{
		"members":     run.MemberCount,
		"total_cents": run.TotalCents,
	})
	return result, nil
}

// GetByID implements domain.Service.
func (s *Service) GetByID(ctx context.Context, id string) (*payoutdomain.RunDetail, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	runID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	run, err := s.repo.FindRunByID(ctx, s.db, shopID, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, payoutdomain.ErrNotFound
	}

	memberIDs, err := s.repo.MemberIDs(ctx, s.db, run.ID)
	if err != nil {
		return nil, err
	}
	detail := &payoutdomain.RunDetail{Run: run}
	if len(memberIDs) > 0 {
		members, err := s.commissionRepo.FindByIDs(ctx, s.db, shopID, memberIDs)
		if err != nil {
			return nil, err
		}
		detail.Members = make([]commissiondomain.Commission, 0, len(members))
		for _, member := range members {
			detail.Members = append(detail.Members, *member)
		}
	}
	return detail, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, req payoutdomain.ListRunsRequest) (*payoutdomain.ListRunsResponse, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var filter payoutdomain.ListFilter
	if value := strings.ToLower(strings.TrimSpace(req.Status)); value != "" {
		status := payoutdomain.PayoutRunStatus(value)
		switch status {
		case payoutdomain.RunStatusDraft,
			payoutdomain.RunStatusApproved,
			payoutdomain.RunStatusPaid:
			filter.Status = status
		default:
			return nil, payoutdomain.ErrInvalidStatus
		}
	}

	limit := req.Limit()
	items, err := s.repo.ListRuns(ctx, s.db, shopID, filter, req.Pagination)
	if err != nil {
		return nil, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, limit, func(run *payoutdomain.PayoutRun) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        run.ID.String(),
			CreatedAt: run.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	resp := &payoutdomain.ListRunsResponse{Runs: make([]payoutdomain.PayoutRun, 0, len(items))}
	for _, run := range items {
		resp.Runs = append(resp.Runs, *run)
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// PollProviderStatuses implements domain.Service. One misbehaving
// provider or shop never stalls the rest of the batch.
func (s *Service) PollProviderStatuses(ctx context.Context, limit int) (int, error) {
	runs, err := s.repo.FindSubmittedRuns(ctx, s.db, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, run := range runs {
		provider, err := s.providerFor(ctx, run)
		if err != nil {
			s.log.Warn("payout provider unavailable",
				zap.String("payout_run_id", run.ID.String()),
				zap.String("provider", run.Provider),
				zap.Error(err),
			)
			continue
		}
		status, err := provider.GetPayoutStatus(ctx, run.ExternalBatchID)
		if err != nil {
			s.log.Warn("payout status poll failed",
				zap.String("payout_run_id", run.ID.String()),
				zap.String("external_batch_id", run.ExternalBatchID),
				zap.Error(err),
			)
			continue
		}

		switch status {
		case payoutdomain.ProviderStatusSettled:
			if err := s.finalizeSettledRun(ctx, run); err != nil {
				s.log.Warn("payout run finalize failed",
					zap.String("payout_run_id", run.ID.String()),
					zap.Error(err),
				)
				continue
			}
			settled++
		case payoutdomain.ProviderStatusFailed:
			now := s.clock.Now()
			run.ProviderStatus = payoutdomain.ProviderStatusFailed
			run.UpdatedAt = now
			if err := s.repo.UpdateRun(ctx, s.db, run); err != nil {
				return settled, err
			}
			s.log.Warn("payout batch failed at provider",
				zap.String("payout_run_id", run.ID.String()),
				zap.String("external_batch_id", run.ExternalBatchID),
			)
		}
	}
	return settled, nil
}

// GetProviderConfig implements domain.Service.
func (s *Service) GetProviderConfig(ctx context.Context) (*payoutdomain.ProviderConfigSummary, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	row, err := s.repo.FindProviderConfig(ctx, s.db, shopID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return &payoutdomain.ProviderConfigSummary{Provider: s.defaultProviderName()}, nil
	}
	return &payoutdomain.ProviderConfigSummary{
		Provider:   row.Provider,
		IsActive:   row.IsActive,
		Configured: true,
	}, nil
}

// UpsertProviderConfig implements domain.Service.
func (s *Service) UpsertProviderConfig(ctx context.Context, req payoutdomain.UpsertProviderConfigRequest) (*payoutdomain.ProviderConfigSummary, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if !s.registry.ProviderExists(provider) {
		return nil, payoutdomain.ErrProviderNotFound
	}
	raw, err := json.Marshal(req.Config)
	if err != nil {
		return nil, payoutdomain.ErrInvalidProviderConfig
	}

	now := s.clock.Now()
	row := &payoutdomain.ProviderConfig{
		ID:        s.genID.Generate(),
		ShopID:    shopID,
		Provider:  provider,
		Config:    datatypes.JSON(raw),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.UpsertProviderConfig(ctx, s.db, row); err != nil {
		return nil, err
	}

	s.audit(ctx, shopID, "payout_provider.configure", row.ID, map[string]any{
		"provider": provider,
		"config":   masking.MaskJSON(req.Config),
	})
	return &payoutdomain.ProviderConfigSummary{
		Provider:   provider,
		IsActive:   true,
		Configured: true,
	}, nil
}

// collectMembers locks and validates every requested commission. All
// must be payable right now; the first failing class blocks the run.
func (s *Service) collectMembers(ctx context.Context, tx *gorm.DB, shopID snowflake.ID, ids []snowflake.ID, now time.Time) ([]*commissiondomain.Commission, error) {
	var (
		members     []*commissiondomain.Commission
		missing     []snowflake.ID
		notPayable  []snowflake.ID
		notEligible []snowflake.ID
	)
	currency := ""
	for _, id := range ids {
		commission, err := s.commissionRepo.FindByIDForUpdate(ctx, tx, shopID, id)
		if err != nil {
			return nil, err
		}
		if commission == nil {
			missing = append(missing, id)
			continue
		}
		if commission.Status != commissiondomain.StatusEligible && commission.Status != commissiondomain.StatusApproved {
			notPayable = append(notPayable, id)
			continue
		}
		if commission.PayoutRunID != 0 {
			notPayable = append(notPayable, id)
			continue
		}
		if commission.EligibleDate.After(now) {
			notEligible = append(notEligible, id)
			continue
		}
		if currency == "" {
			currency = commission.Currency
		} else if commission.Currency != currency {
			return nil, payoutdomain.ErrMixedCurrency
		}
		members = append(members, commission)
	}

	joined, err := s.repo.JoinedCommissionIDs(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	switch {
	case len(missing) > 0:
		return nil, &payoutdomain.RunBlockedError{CommissionIDs: missing, Reason: payoutdomain.ErrMemberNotFound}
	case len(notPayable) > 0:
		return nil, &payoutdomain.RunBlockedError{CommissionIDs: notPayable, Reason: payoutdomain.ErrMemberNotPayable}
	case len(notEligible) > 0:
		return nil, &payoutdomain.RunBlockedError{CommissionIDs: notEligible, Reason: payoutdomain.ErrMemberNotEligible}
	case len(joined) > 0:
		return nil, &payoutdomain.RunBlockedError{CommissionIDs: joined, Reason: payoutdomain.ErrMemberInRun}
	}
	return members, nil
}

func (s *Service) newRun(shopID snowflake.ID, req payoutdomain.CreateRunRequest, members []*commissiondomain.Commission, now time.Time) *payoutdomain.PayoutRun {
	run := &payoutdomain.PayoutRun{
		ID:          s.genID.Generate(),
		ShopID:      shopID,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		MemberCount: len(members),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, member := range members {
		run.TotalCents += member.AmountCents
		run.Currency = member.Currency
	}
	return run
}

func (s *Service) fraudGate(ctx context.Context, ids []snowflake.ID) error {
	blocked, err := s.fraudSvc.Blocked(ctx, ids)
	if err != nil {
		return err
	}
	if len(blocked) > 0 {
		return &commissiondomain.FraudBlockedError{CommissionIDs: blocked}
	}
	return nil
}

func (s *Service) submitToProvider(ctx context.Context, provider payoutdomain.Provider, run *payoutdomain.PayoutRun, items []payoutdomain.PayoutItem, result *payoutdomain.RunResult) {
	batchID, err := provider.SubmitPayout(ctx, run, items)
	if err != nil {
		result.ProviderError = err.Error()
		s.log.Warn("payout submission failed",
			zap.String("payout_run_id", run.ID.String()),
			zap.String("provider", provider.Name()),
			zap.Error(err),
		)
		return
	}

	now := s.clock.Now()
	run.ExternalBatchID = batchID
	run.ProviderStatus = payoutdomain.ProviderStatusSubmitted
	run.UpdatedAt = now
	if err := s.repo.UpdateRun(ctx, s.db, run); err != nil {
		result.ProviderError = err.Error()
		s.log.Warn("payout submission not recorded",
			zap.String("payout_run_id", run.ID.String()),
			zap.String("external_batch_id", batchID),
			zap.Error(err),
		)
	}
}

func (s *Service) finalizeSettledRun(ctx context.Context, run *payoutdomain.PayoutRun) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindRunByIDForUpdate(ctx, tx, run.ShopID, run.ID)
		if err != nil {
			return err
		}
		if locked == nil || locked.Status != payoutdomain.RunStatusApproved {
			return nil
		}
		now := s.clock.Now()
		locked.Status = payoutdomain.RunStatusPaid
		locked.ProviderStatus = payoutdomain.ProviderStatusSettled
		locked.PaidAt = &now
		locked.UpdatedAt = now
		if err := s.enqueueRunPaid(ctx, tx, locked); err != nil {
			return err
		}
		if err := s.repo.UpdateRun(ctx, tx, locked); err != nil {
			return err
		}
		*run = *locked
		return nil
	})
}

// providerFor rebuilds the provider a run was submitted with, using the
// shop's stored credentials.
func (s *Service) providerFor(ctx context.Context, run *payoutdomain.PayoutRun) (payoutdomain.Provider, error) {
	settings := payoutdomain.ProviderSettings{ShopID: run.ShopID, Config: map[string]any{}}
	row, err := s.repo.FindProviderConfig(ctx, s.db, run.ShopID)
	if err != nil {
		return nil, err
	}
	if row != nil && len(row.Config) > 0 {
		var cfg map[string]any
		if err := json.Unmarshal(row.Config, &cfg); err != nil {
			return nil, payoutdomain.ErrInvalidProviderConfig
		}
		settings.Config = cfg
	}
	return s.registry.NewProvider(run.Provider, settings)
}

func (s *Service) resolveProvider(ctx context.Context, shopID snowflake.ID) (payoutdomain.Provider, error) {
	name := s.defaultProviderName()
	settings := payoutdomain.ProviderSettings{ShopID: shopID, Config: map[string]any{}}

	row, err := s.repo.FindProviderConfig(ctx, s.db, shopID)
	if err != nil {
		return nil, err
	}
	if row != nil {
		name = strings.ToLower(strings.TrimSpace(row.Provider))
		if len(row.Config) > 0 {
			var cfg map[string]any
			if err := json.Unmarshal(row.Config, &cfg); err != nil {
				return nil, payoutdomain.ErrInvalidProviderConfig
			}
			settings.Config = cfg
		}
	}
	return s.registry.NewProvider(name, settings)
}

func (s *Service) defaultProviderName() string {
	name := strings.ToLower(strings.TrimSpace(s.cfg.Payout.Provider))
	if name == "" {
		name = "manual"
	}
	return name
}

func (s *Service) enqueueRunPaid(ctx context.Context, tx *gorm.DB, run *payoutdomain.PayoutRun) error {
	if s.outbox == nil {
		return nil
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		ShopID: run.ShopID,
		Type:   events.EventPayoutRunPaid,
		Payload: map[string]any{
			"payout_run_id":     run.ID.String(),
			"total_cents":       run.TotalCents,
			"currency":          run.Currency,
			"member_count":      run.MemberCount,
			"external_batch_id": run.ExternalBatchID,
		},
		DedupeKey: events.EventPayoutRunPaid + ":" + run.ID.String(),
	})
}

func payoutItems(paid []commissiondomain.Commission) []payoutdomain.PayoutItem {
	items := make([]payoutdomain.PayoutItem, 0, len(paid))
	for _, commission := range paid {
		items = append(items, payoutdomain.PayoutItem{
			CommissionID: commission.ID.String(),
			AffiliateID:  commission.AffiliateID.String(),
			AmountCents:  commission.AmountCents,
			Currency:     commission.Currency,
		})
	}
	return items
}

func joinRows(runID snowflake.ID, ids []snowflake.ID, now time.Time) []payoutdomain.PayoutRunCommission {
	rows := make([]payoutdomain.PayoutRunCommission, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, payoutdomain.PayoutRunCommission{
			PayoutRunID:  runID,
			CommissionID: id,
			CreatedAt:    now,
		})
	}
	return rows
}

func validatePeriod(start, end time.Time) error {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return payoutdomain.ErrInvalidPeriod
	}
	return nil
}

func parseIDSet(rawIDs []string) ([]snowflake.ID, error) {
	seen := make(map[snowflake.ID]struct{}, len(rawIDs))
	ids := make([]snowflake.ID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := snowflake.ParseString(raw)
		if err != nil || id == 0 {
			return nil, payoutdomain.ErrInvalidID
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, payoutdomain.ErrEmptyRun
	}
	return ids, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, payoutdomain.ErrInvalidID
	}
	return id, nil
}

func (s *Service) audit(ctx context.Context, shopID snowflake.ID, action string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := targetID.String()
	_ = s.auditSvc.AuditLog(ctx, &shopID, "", nil, action, "payout_run", &target, metadata)
}

func (s *Service) shopIDFromContext(ctx context.Context) (snowflake.ID, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok || shopID == 0 {
		return 0, payoutdomain.ErrInvalidShop
	}
	return shopID, nil
}
