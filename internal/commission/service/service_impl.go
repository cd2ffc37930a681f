package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	attributiondomain "github.com/smallbiznis/partnerly/internal/attribution/domain"
	auditdomain "github.com/smallbiznis/partnerly/internal/audit/domain"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/cloudmetrics"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	"github.com/smallbiznis/partnerly/internal/events"
	frauddomain "github.com/smallbiznis/partnerly/internal/fraud/domain"
	ledgerdomain "github.com/smallbiznis/partnerly/internal/ledger/domain"
	"github.com/smallbiznis/partnerly/internal/observability/metrics"
	offerdomain "github.com/smallbiznis/partnerly/internal/offer/domain"
	postbackdomain "github.com/smallbiznis/partnerly/internal/postback/domain"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Repo            commissiondomain.Repository
	AttributionRepo attributiondomain.Repository
	AffiliateRepo   affiliatedomain.Repository
	OfferRepo       offerdomain.Repository
	FraudSvc        frauddomain.Service
	LedgerSvc       ledgerdomain.Service

	Postbacks  postbackdomain.Deliverer   `optional:"true"`
	Outbox     *events.Outbox             `optional:"true"`
	AuditSvc   auditdomain.Service        `optional:"true"`
	Metrics    *cloudmetrics.CloudMetrics `optional:"true"`
	ObsMetrics *metrics.Metrics           `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	repo            commissiondomain.Repository
	attributionRepo attributiondomain.Repository
	affiliateRepo   affiliatedomain.Repository
	offerRepo       offerdomain.Repository
	fraudSvc        frauddomain.Service
	ledgerSvc       ledgerdomain.Service
	postbacks       postbackdomain.Deliverer
	outbox          *events.Outbox
	auditSvc        auditdomain.Service
	metrics         *cloudmetrics.CloudMetrics
	obsMetrics      *metrics.Metrics
}

func New(p Params) commissiondomain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("commission.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		repo:            p.Repo,
		attributionRepo: p.AttributionRepo,
		affiliateRepo:   p.AffiliateRepo,
		offerRepo:       p.OfferRepo,
		fraudSvc:        p.FraudSvc,
		ledgerSvc:       p.LedgerSvc,
		postbacks:       p.Postbacks,
		outbox:          p.Outbox,
		auditSvc:        p.AuditSvc,
		metrics:         p.Metrics,
		obsMetrics:      p.ObsMetrics,
	}
}

// isTransitionAllowed encodes the legal lifecycle edges. Reversal stays
// open from every pre-paid state; paid leaves only through out-of-band
// clawback, never through here.
func isTransitionAllowed(current, target commissiondomain.CommissionStatus) bool {
	switch current {
	case commissiondomain.StatusPending:
		return target == commissiondomain.StatusEligible || target == commissiondomain.StatusReversed
	case commissiondomain.StatusEligible:
		return target == commissiondomain.StatusApproved ||
			target == commissiondomain.StatusPaid ||
			target == commissiondomain.StatusReversed
	case commissiondomain.StatusApproved:
		return target == commissiondomain.StatusPaid || target == commissiondomain.StatusReversed
	default:
		return false
	}
}

// GetByID implements domain.Service.
func (s *Service) GetByID(ctx context.Context, id string) (*commissiondomain.Commission, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	commissionID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || commissionID == 0 {
		return nil, commissiondomain.ErrInvalidID
	}
	commission, err := s.repo.FindByID(ctx, s.db, shopID, commissionID)
	if err != nil {
		return nil, err
	}
	if commission == nil {
		return nil, commissiondomain.ErrNotFound
	}
	return commission, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, req commissiondomain.ListCommissionsRequest) (*commissiondomain.ListCommissionsResponse, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	filter := commissiondomain.ListFilter{OrderID: strings.TrimSpace(req.OrderID)}
	if value := strings.ToLower(strings.TrimSpace(req.Status)); value != "" {
		status := commissiondomain.CommissionStatus(value)
		switch status {
		case commissiondomain.StatusPending,
			commissiondomain.StatusEligible,
			commissiondomain.StatusApproved,
			commissiondomain.StatusPaid,
			commissiondomain.StatusReversed:
			filter.Status = status
		default:
			return nil, commissiondomain.ErrInvalidStatus
		}
	}
	if value := strings.TrimSpace(req.AffiliateID); value != "" {
		affiliateID, err := snowflake.ParseString(value)
		if err != nil || affiliateID == 0 {
			return nil, commissiondomain.ErrInvalidAffiliate
		}
		filter.AffiliateID = affiliateID
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, shopID, filter, req.Pagination)
	if err != nil {
		return nil, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, limit, func(commission *commissiondomain.Commission) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        commission.ID.String(),
			CreatedAt: commission.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	commissions := make([]commissiondomain.Commission, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		commissions = append(commissions, *item)
	}

	resp := &commissiondomain.ListCommissionsResponse{Commissions: commissions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// BulkValidate implements domain.Service.
func (s *Service) BulkValidate(ctx context.Context, req commissiondomain.BulkTransitionRequest) (*commissiondomain.BulkTransitionResult, error) {
	return s.bulkTransition(ctx, req.CommissionIDs, commissiondomain.StatusEligible, "commission.validated")
}

// BulkApprove implements domain.Service.
func (s *Service) BulkApprove(ctx context.Context, req commissiondomain.BulkTransitionRequest) (*commissiondomain.BulkTransitionResult, error) {
	return s.bulkTransition(ctx, req.CommissionIDs, commissiondomain.StatusApproved, "commission.approved")
}

// BulkReverse implements domain.Service.
func (s *Service) BulkReverse(ctx context.Context, req commissiondomain.BulkTransitionRequest) (*commissiondomain.BulkTransitionResult, error) {
	return s.bulkTransition(ctx, req.CommissionIDs, commissiondomain.StatusReversed, "commission.reversed")
}

// ReverseForOrder implements domain.Service.
func (s *Service) ReverseForOrder(ctx context.Context, orderID string) (*commissiondomain.BulkTransitionResult, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, commissiondomain.ErrInvalidOrder
	}

	commissions, err := s.repo.FindByOrderID(ctx, s.db, shopID, orderID)
	if err != nil {
		return nil, err
	}
	if len(commissions) == 0 {
		// Refunds for unattributed or unknown orders are expected; there
		// is simply nothing to reverse.
		return &commissiondomain.BulkTransitionResult{}, nil
	}

	ids := make([]string, 0, len(commissions))
	for _, commission := range commissions {
		ids = append(ids, commission.ID.String())
	}
	return s.bulkTransition(ctx, ids, commissiondomain.StatusReversed, "commission.reversed")
}

// bulkTransition drives the requested id set to target. Ids a concurrent
// actor already moved are skipped and reported, so the call shrinks
// rather than fails. The fraud gate holds the whole batch before any row
// is touched; reversal is never gated.
func (s *Service) bulkTransition(ctx context.Context, rawIDs []string, target commissiondomain.CommissionStatus, auditAction string) (*commissiondomain.BulkTransitionResult, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := parseIDSet(rawIDs)
	if err != nil {
		return nil, err
	}

	if target == commissiondomain.StatusEligible || target == commissiondomain.StatusApproved {
		blocked, err := s.fraudSvc.Blocked(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(blocked) > 0 {
			return nil, &commissiondomain.FraudBlockedError{CommissionIDs: blocked}
		}
	}

	now := s.clock.Now()
	result := &commissiondomain.BulkTransitionResult{Requested: len(ids)}
	var deliveries []postbackdomain.Delivery
	var moved []commissiondomain.CommissionStatus

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			commission, err := s.repo.FindByIDForUpdate(ctx, tx, shopID, id)
			if err != nil {
				return err
			}
			if commission == nil {
				result.Skipped = append(result.Skipped, commissiondomain.SkippedCommission{
					CommissionID: id.String(),
					Reason:       commissiondomain.ErrNotFound.Error(),
				})
				continue
			}
			if commission.Status == target {
				// Replayed admin action; already where it should be.
				result.Skipped = append(result.Skipped, commissiondomain.SkippedCommission{
					CommissionID: id.String(),
					Reason:       "already_" + string(target),
				})
				continue
			}
			if target == commissiondomain.StatusReversed && commission.Status == commissiondomain.StatusPaid {
				// Money already left the building; reversing the status
				// would hide that. Clawback is a manual process.
				s.log.Warn("reversal of paid commission refused, manual clawback required",
					zap.String("commission_id", commission.ID.String()),
					zap.String("order_id", commission.OrderID),
				)
				result.Skipped = append(result.Skipped, commissiondomain.SkippedCommission{
					CommissionID: id.String(),
					Reason:       commissiondomain.ErrClawbackRequired.Error(),
				})
				continue
			}
			if !isTransitionAllowed(commission.Status, target) {
				result.Skipped = append(result.Skipped, commissiondomain.SkippedCommission{
					CommissionID: id.String(),
					Reason:       commissiondomain.ErrInvalidTransition.Error(),
				})
				continue
			}

			from := commission.Status
			commission.Status = target
			commission.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, commission); err != nil {
				return err
			}

			switch target {
			case commissiondomain.StatusApproved:
				if _, _, err := s.ledgerSvc.Append(ctx, tx, ledgerdomain.AppendEntryRequest{
					ShopID:      shopID,
					AffiliateID: commission.AffiliateID,
					EntryType:   ledgerdomain.EntryCommissionApproved,
					SourceType:  ledgerdomain.SourceCommission,
					SourceID:    commission.ID,
					AmountCents: commission.AmountCents,
					Currency:    commission.Currency,
				}); err != nil {
					return err
				}
				delivery := s.buildDelivery(commission, postbackdomain.EventApproval)
				if err := s.enqueuePostback(ctx, tx, commission, events.EventCommissionApproval, delivery.DedupeKey); err != nil {
					return err
				}
				deliveries = append(deliveries, delivery)
			case commissiondomain.StatusReversed:
				// Only approved commissions were credited, so only they
				// need the balancing debit.
				if from == commissiondomain.StatusApproved {
					if _, _, err := s.ledgerSvc.Append(ctx, tx, ledgerdomain.AppendEntryRequest{
						ShopID:      shopID,
						AffiliateID: commission.AffiliateID,
						EntryType:   ledgerdomain.EntryCommissionReversed,
						SourceType:  ledgerdomain.SourceCommission,
						SourceID:    commission.ID,
						AmountCents: commission.AmountCents,
						Currency:    commission.Currency,
					}); err != nil {
						return err
					}
				}
				if err := s.enqueueLifecycleEvent(ctx, tx, commission, events.EventCommissionReversed); err != nil {
					return err
				}
			}

			moved = append(moved, from)
			result.Transitioned++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, from := range moved {
		s.obsMetrics.RecordCommissionTransition(ctx, string(from), string(target))
	}
	if s.postbacks != nil && len(deliveries) > 0 {
		result.Postbacks = s.postbacks.DeliverAll(ctx, deliveries)
	}

	s.log.Info("bulk commission transition",
		zap.String("target", string(target)),
		zap.Int("requested", result.Requested),
		zap.Int("transitioned", result.Transitioned),
	)
	s.audit(ctx, shopID, auditAction, map[string]any{
		"requested":    result.Requested,
		"transitioned": result.Transitioned,
	})

	return result, nil
}

// PayForRun implements domain.Service. It runs inside the payout run's
// transaction: either every member can be paid or the whole call fails,
// so run status and member status never disagree.
func (s *Service) PayForRun(ctx context.Context, tx *gorm.DB, req commissiondomain.PayForRunRequest) (*commissiondomain.PayForRunResult, error) {
	if tx == nil {
		tx = s.db
	}
	if req.ShopID == 0 {
		return nil, commissiondomain.ErrInvalidShop
	}
	if req.PayoutRunID == 0 || len(req.CommissionIDs) == 0 {
		return nil, commissiondomain.ErrEmptyIDSet
	}
	now := req.Now
	if now.IsZero() {
		now = s.clock.Now()
	}

	result := &commissiondomain.PayForRunResult{}
	var missing, notPayable, notYetEligible []snowflake.ID

	for _, id := range req.CommissionIDs {
		commission, err := s.repo.FindByIDForUpdate(ctx, tx, req.ShopID, id)
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
		if commission.PayoutRunID != 0 && commission.PayoutRunID != req.PayoutRunID {
			notPayable = append(notPayable, id)
			continue
		}
		if commission.EligibleDate.After(now) {
			notYetEligible = append(notYetEligible, id)
			continue
		}

		from := commission.Status
		commission.Status = commissiondomain.StatusPaid
		commission.PayoutRunID = req.PayoutRunID
		commission.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, commission); err != nil {
			return nil, err
		}

		if _, _, err := s.ledgerSvc.Append(ctx, tx, ledgerdomain.AppendEntryRequest{
			ShopID:      req.ShopID,
			AffiliateID: commission.AffiliateID,
			EntryType:   ledgerdomain.EntryPayoutPaid,
			SourceType:  ledgerdomain.SourceCommission,
			SourceID:    commission.ID,
			AmountCents: commission.AmountCents,
			Currency:    commission.Currency,
		}); err != nil {
			return nil, err
		}

		delivery := s.buildDelivery(commission, postbackdomain.EventPayment)
		if err := s.enqueuePostback(ctx, tx, commission, events.EventCommissionPayment, delivery.DedupeKey); err != nil {
			return nil, err
		}

		result.Paid = append(result.Paid, *commission)
		result.Postbacks = append(result.Postbacks, delivery)
		s.obsMetrics.RecordCommissionTransition(ctx, string(from), string(commissiondomain.StatusPaid))
	}

	switch {
	case len(missing) > 0:
		return nil, &commissiondomain.PayBlockedError{CommissionIDs: missing, Reason: commissiondomain.ErrNotFound}
	case len(notPayable) > 0:
		return nil, &commissiondomain.PayBlockedError{CommissionIDs: notPayable, Reason: commissiondomain.ErrInvalidTransition}
	case len(notYetEligible) > 0:
		return nil, &commissiondomain.PayBlockedError{CommissionIDs: notYetEligible, Reason: commissiondomain.ErrNotYetEligible}
	}

	return result, nil
}

func (s *Service) buildDelivery(commission *commissiondomain.Commission, event string) postbackdomain.Delivery {
	return postbackdomain.Delivery{
		ShopID:       commission.ShopID,
		CommissionID: commission.ID.String(),
		AffiliateID:  commission.AffiliateID.String(),
		Event:        event,
		AmountCents:  commission.AmountCents,
		Currency:     commission.Currency,
		OrderID:      commission.OrderID,
		DedupeKey:    "commission_" + event + ":" + commission.ID.String(),
	}
}

// enqueuePostback writes the postback-bearing outbox row in the caller's
// transaction; HTTP delivery happens strictly after commit.
func (s *Service) enqueuePostback(ctx context.Context, tx *gorm.DB, commission *commissiondomain.Commission, eventType, dedupeKey string) error {
	if s.outbox == nil {
		return nil
	}
	payload := events.CommissionEventPayload{
		CommissionID:  commission.ID.String(),
		AffiliateID:   commission.AffiliateID.String(),
		OrderID:       commission.OrderID,
		AmountCents:   commission.AmountCents,
		Currency:      commission.Currency,
		Status:        string(commission.Status),
		PostbackEvent: postbackEventFor(eventType),
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		ShopID:    commission.ShopID,
		Type:      eventType,
		Payload:   payload.ToMap(),
		DedupeKey: dedupeKey,
	})
}

func (s *Service) enqueueLifecycleEvent(ctx context.Context, tx *gorm.DB, commission *commissiondomain.Commission, eventType string) error {
	if s.outbox == nil {
		return nil
	}
	payload := events.CommissionEventPayload{
		CommissionID: commission.ID.String(),
		AffiliateID:  commission.AffiliateID.String(),
		OrderID:      commission.OrderID,
		AmountCents:  commission.AmountCents,
		Currency:     commission.Currency,
		Status:       string(commission.Status),
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		ShopID:    commission.ShopID,
		Type:      eventType,
		Payload:   payload.ToMap(),
		DedupeKey: eventType + ":" + commission.ID.String(),
	})
}

func postbackEventFor(eventType string) string {
	switch eventType {
	case events.EventCommissionApproval:
		return postbackdomain.EventApproval
	case events.EventCommissionPayment:
		return postbackdomain.EventPayment
	default:
		return ""
	}
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
			return nil, commissiondomain.ErrInvalidID
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, commissiondomain.ErrEmptyIDSet
	}
	return ids, nil
}

func (s *Service) audit(ctx context.Context, shopID snowflake.ID, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.AuditLog(ctx, &shopID, "", nil, action, "commission", nil, metadata)
}

func (s *Service) shopIDFromContext(ctx context.Context) (snowflake.ID, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok || shopID == 0 {
		return 0, commissiondomain.ErrInvalidShop
	}
	return shopID, nil
}
