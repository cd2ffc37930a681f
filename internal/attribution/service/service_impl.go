package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	attributiondomain "github.com/smallbiznis/partnerly/internal/attribution/domain"
	clickdomain "github.com/smallbiznis/partnerly/internal/click/domain"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/config"
	"github.com/smallbiznis/partnerly/internal/events"
	offerdomain "github.com/smallbiznis/partnerly/internal/offer/domain"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fingerprintCandidateLimit bounds how many recent clicks the resolver
// walks when matching by connection fingerprint.
const fingerprintCandidateLimit = 50

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Tracking      *config.TrackingConfigHolder
	Repo          attributiondomain.Repository
	ClickRepo     clickdomain.Repository
	AffiliateRepo affiliatedomain.Repository
	OfferRepo     offerdomain.Repository
	Coupons       attributiondomain.CouponResolver

	Outbox *events.Outbox `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	tracking      *config.TrackingConfigHolder
	repo          attributiondomain.Repository
	clickRepo     clickdomain.Repository
	affiliateRepo affiliatedomain.Repository
	offerRepo     offerdomain.Repository
	coupons       attributiondomain.CouponResolver
	outbox        *events.Outbox
}

func New(p Params) attributiondomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("attribution.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		tracking:      p.Tracking,
		repo:          p.Repo,
		clickRepo:     p.ClickRepo,
		affiliateRepo: p.AffiliateRepo,
		offerRepo:     p.OfferRepo,
		coupons:       p.Coupons,
		outbox:        p.Outbox,
	}
}

func (s *Service) ResolveOrder(ctx context.Context, event attributiondomain.OrderEvent) (*attributiondomain.OrderAttribution, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		return nil, attributiondomain.ErrInvalidOrder
	}
	if event.SubtotalCents < 0 {
		return nil, attributiondomain.ErrInvalidSubtotal
	}
	currency := strings.ToUpper(strings.TrimSpace(event.Currency))
	if len(currency) != 3 {
		return nil, attributiondomain.ErrInvalidCurrency
	}

	// Replays short-circuit to the first resolution so a duplicate
	// webhook can never reassign an order.
	existing, err := s.repo.FindByOrderID(ctx, s.db, shopID, orderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	orderTime := event.OccurredAt
	if orderTime.IsZero() {
		orderTime = s.clock.Now()
	}

	winner, err := s.selectWinner(ctx, shopID, orderTime, event.Signals)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, nil
	}

	record := &attributiondomain.OrderAttribution{
		ID:            s.genID.Generate(),
		ShopID:        shopID,
		OrderID:       orderID,
		OrderNumber:   strings.TrimSpace(event.OrderNumber),
		AffiliateID:   winner.affiliateID,
		ClickRef:      winner.clickRef,
		Method:        winner.method,
		SubtotalCents: event.SubtotalCents,
		Currency:      currency,
		CreatedAt:     s.clock.Now(),
	}

	inserted, err := s.repo.Insert(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Lost a race with a concurrent delivery of the same order.
		existing, err := s.repo.FindByOrderID(ctx, s.db, shopID, orderID)
		if err != nil {
			return nil, err
		}
		return existing, nil
	}

	s.log.Info("order attributed",
		zap.String("order_id", record.OrderID),
		zap.String("affiliate_id", record.AffiliateID.String()),
		zap.String("method", string(record.Method)),
	)
	s.emitOrderAttributed(record)

	return record, nil
}

// winner is a resolved attribution candidate.
type winner struct {
	affiliateID snowflake.ID
	clickRef    snowflake.ID
	method      attributiondomain.AttributionMethod
}

func (s *Service) selectWinner(ctx context.Context, shopID snowflake.ID, orderTime time.Time, signals attributiondomain.AttributionSignals) (*winner, error) {
	// Coupon beats every click signal and skips the window check; the
	// code was typed at checkout, which is evidence enough.
	if code := strings.TrimSpace(signals.Coupon); code != "" {
		coupon, err := s.coupons.ResolveCoupon(ctx, shopID, code)
		if err != nil {
			return nil, err
		}
		if coupon != nil {
			eligible, err := s.affiliateEligible(ctx, shopID, coupon.AffiliateID)
			if err != nil {
				return nil, err
			}
			if eligible {
				return &winner{
					affiliateID: coupon.AffiliateID,
					method:      attributiondomain.MethodCoupon,
				}, nil
			}
		}
		// Unknown or orphaned codes fall through to click signals.
	}

	windows := map[snowflake.ID]int{}

	if token := strings.TrimSpace(signals.ClickID); token != "" {
		click, err := s.clickRepo.FindByClickID(ctx, s.db, shopID, token)
		if err != nil {
			return nil, err
		}
		if click != nil {
			eligible, err := s.clickEligible(ctx, shopID, click, orderTime, windows)
			if err != nil {
				return nil, err
			}
			if eligible {
				return &winner{
					affiliateID: click.AffiliateID,
					clickRef:    click.ID,
					method:      attributiondomain.MethodLink,
				}, nil
			}
		}
	}

	cfg := s.tracking.Get()
	if !cfg.FingerprintEnabled {
		return nil, nil
	}
	ipHash := strings.TrimSpace(signals.IPHash)
	uaHash := strings.TrimSpace(signals.UAHash)
	if ipHash == "" || uaHash == "" {
		return nil, nil
	}

	// Retention bounds how far back any click can exist, so it is a safe
	// outer limit for the candidate scan; each candidate is then checked
	// against its own affiliate's window.
	since := orderTime.Add(-time.Duration(cfg.ClickRetentionDays) * 24 * time.Hour)
	candidates, err := s.clickRepo.FindFingerprintCandidates(ctx, s.db, shopID, ipHash, uaHash, since, fingerprintCandidateLimit)
	if err != nil {
		return nil, err
	}

	// Candidates arrive latest first, so the first eligible one is the
	// last-touch winner.
	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}
		eligible, err := s.clickEligible(ctx, shopID, candidate, orderTime, windows)
		if err != nil {
			return nil, err
		}
		if eligible {
			return &winner{
				affiliateID: candidate.AffiliateID,
				clickRef:    candidate.ID,
				method:      attributiondomain.MethodFingerprint,
			}, nil
		}
	}

	return nil, nil
}

// clickEligible applies the candidate affiliate's own attribution window,
// inclusive on both ends, measured in wall-clock duration.
func (s *Service) clickEligible(ctx context.Context, shopID snowflake.ID, click *clickdomain.Click, orderTime time.Time, windows map[snowflake.ID]int) (bool, error) {
	if click.CreatedAt.After(orderTime) {
		return false, nil
	}

	windowDays, cached := windows[click.AffiliateID]
	if !cached {
		var err error
		windowDays, err = s.affiliateWindowDays(ctx, shopID, click.AffiliateID)
		if err != nil {
			return false, err
		}
		windows[click.AffiliateID] = windowDays
	}
	if windowDays <= 0 {
		return false, nil
	}

	earliest := orderTime.Add(-time.Duration(windowDays) * 24 * time.Hour)
	return !click.CreatedAt.Before(earliest), nil
}

// affiliateWindowDays returns the window of the affiliate's active offer,
// read at resolution time. Zero means the affiliate cannot win: missing,
// not active, no offer, or the offer was archived.
func (s *Service) affiliateWindowDays(ctx context.Context, shopID, affiliateID snowflake.ID) (int, error) {
	affiliate, err := s.affiliateRepo.FindByID(ctx, s.db, shopID, affiliateID)
	if err != nil {
		return 0, err
	}
	if affiliate == nil || affiliate.Status != affiliatedomain.AffiliateStatusActive {
		return 0, nil
	}
	if affiliate.OfferID == 0 {
		return 0, nil
	}
	offer, err := s.offerRepo.FindByID(ctx, s.db, shopID, affiliate.OfferID)
	if err != nil {
		return 0, err
	}
	if offer == nil || offer.Status != offerdomain.OfferStatusActive {
		return 0, nil
	}
	return offer.WindowDays, nil
}

func (s *Service) affiliateEligible(ctx context.Context, shopID, affiliateID snowflake.ID) (bool, error) {
	affiliate, err := s.affiliateRepo.FindByID(ctx, s.db, shopID, affiliateID)
	if err != nil {
		return false, err
	}
	return affiliate != nil && affiliate.Status == affiliatedomain.AffiliateStatusActive, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*attributiondomain.OrderAttribution, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	attributionID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || attributionID == 0 {
		return nil, attributiondomain.ErrInvalidID
	}
	attribution, err := s.repo.FindByID(ctx, s.db, shopID, attributionID)
	if err != nil {
		return nil, err
	}
	if attribution == nil {
		return nil, attributiondomain.ErrNotFound
	}
	return attribution, nil
}

func (s *Service) GetByOrderID(ctx context.Context, orderID string) (*attributiondomain.OrderAttribution, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, attributiondomain.ErrInvalidOrder
	}
	attribution, err := s.repo.FindByOrderID(ctx, s.db, shopID, orderID)
	if err != nil {
		return nil, err
	}
	if attribution == nil {
		return nil, attributiondomain.ErrNotFound
	}
	return attribution, nil
}

func (s *Service) List(ctx context.Context, req attributiondomain.ListAttributionRequest) (*attributiondomain.ListAttributionResponse, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	filter := attributiondomain.ListFilter{}
	if value := strings.TrimSpace(req.AffiliateID); value != "" {
		affiliateID, err := snowflake.ParseString(value)
		if err != nil || affiliateID == 0 {
			return nil, attributiondomain.ErrInvalidAffiliate
		}
		filter.AffiliateID = affiliateID
	}
	if value := strings.ToLower(strings.TrimSpace(req.Method)); value != "" {
		method := attributiondomain.AttributionMethod(value)
		switch method {
		case attributiondomain.MethodLink, attributiondomain.MethodCoupon, attributiondomain.MethodFingerprint:
			filter.Method = method
		default:
			return nil, attributiondomain.ErrInvalidMethod
		}
	}
	if value := strings.TrimSpace(req.Since); value != "" {
		since, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, attributiondomain.ErrInvalidTimeRange
		}
		filter.Since = since
	}
	if value := strings.TrimSpace(req.Until); value != "" {
		until, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, attributiondomain.ErrInvalidTimeRange
		}
		filter.Until = until
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && filter.Until.Before(filter.Since) {
		return nil, attributiondomain.ErrInvalidTimeRange
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, shopID, filter, req.Pagination)
	if err != nil {
		return nil, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, limit, func(attribution *attributiondomain.OrderAttribution) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        attribution.ID.String(),
			CreatedAt: attribution.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	attributions := make([]attributiondomain.OrderAttribution, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		attributions = append(attributions, *item)
	}

	resp := &attributiondomain.ListAttributionResponse{Attributions: attributions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) emitOrderAttributed(record *attributiondomain.OrderAttribution) {
	if s.outbox == nil || record == nil {
		return
	}
	payload := events.OrderAttributedPayload{
		AttributionID: record.ID.String(),
		OrderID:       record.OrderID,
		AffiliateID:   record.AffiliateID.String(),
		Method:        string(record.Method),
	}
	event := events.Event{
		ShopID:    record.ShopID,
		Type:      events.EventOrderAttributed,
		Payload:   payload.ToMap(),
		DedupeKey: record.ID.String(),
	}
	go func() {
		_ = s.outbox.Publish(context.Background(), event)
	}()
}

func (s *Service) shopIDFromContext(ctx context.Context) (snowflake.ID, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok || shopID == 0 {
		return 0, attributiondomain.ErrInvalidShop
	}
	return shopID, nil
}
