package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/partnerly/internal/audit/domain"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/config"
	offerdomain "github.com/smallbiznis/partnerly/internal/offer/domain"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"github.com/smallbiznis/partnerly/pkg/db/option"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxPercentBps = 10000

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Tracking *config.TrackingConfigHolder
	Repo     offerdomain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	tracking *config.TrackingConfigHolder
	repo     offerdomain.Repository
	auditSvc auditdomain.Service
}

func New(p Params) offerdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("offer.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		tracking: p.Tracking,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req offerdomain.CreateOfferRequest) (offerdomain.Offer, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return offerdomain.Offer{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return offerdomain.Offer{}, offerdomain.ErrInvalidName
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return offerdomain.Offer{}, offerdomain.ErrInvalidCurrency
	}

	windowDays := req.WindowDays
	if windowDays == 0 {
		windowDays = s.tracking.Get().DefaultWindowDays
	}
	if windowDays <= 0 {
		return offerdomain.Offer{}, offerdomain.ErrInvalidWindow
	}

	now := s.clock.Now()
	offer := offerdomain.Offer{
		ID:                      s.genID.Generate(),
		ShopID:                  shopID,
		Name:                    name,
		Slug:                    slug.Make(name),
		Status:                  offerdomain.OfferStatusActive,
		CommissionType:          offerdomain.CommissionType(strings.ToLower(strings.TrimSpace(req.CommissionType))),
		AmountCents:             req.AmountCents,
		PercentBps:              req.PercentBps,
		Currency:                currency,
		WindowDays:              windowDays,
		SellingSubscriptions:    offerdomain.RebillPolicy(strings.ToLower(strings.TrimSpace(req.SellingSubscriptions))),
		SubscriptionMaxPayments: req.SubscriptionMaxPayments,
		RebillType:              offerdomain.CommissionType(strings.ToLower(strings.TrimSpace(req.RebillType))),
		RebillAmountCents:       req.RebillAmountCents,
		RebillPercentBps:        req.RebillPercentBps,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if offer.SellingSubscriptions == "" {
		offer.SellingSubscriptions = offerdomain.RebillPolicyNo
	}

	if err := validateOffer(&offer); err != nil {
		return offerdomain.Offer{}, err
	}

	if err := s.repo.Insert(ctx, s.db, &offer); err != nil {
		return offerdomain.Offer{}, err
	}

	s.audit(ctx, &offer, "offer.create", map[string]any{
		"commission_type": string(offer.CommissionType),
		"window_days":     offer.WindowDays,
	})

	return offer, nil
}

func (s *Service) List(ctx context.Context, req offerdomain.ListOfferRequest) (offerdomain.ListOfferResponse, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return offerdomain.ListOfferResponse{}, err
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, shopID,
		offerdomain.ListOfferFilter{Status: strings.TrimSpace(req.Status)},
		option.WithSortBy(option.QuerySortBy{
			Field: req.SortBy,
			Allow: map[string]bool{"created_at": true, "name": true, "window_days": true},
		}),
		option.ApplyPagination(req.Pagination),
	)
	if err != nil {
		return offerdomain.ListOfferResponse{}, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, limit, func(offer *offerdomain.Offer) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        offer.ID.String(),
			CreatedAt: offer.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	offers := make([]offerdomain.Offer, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		offers = append(offers, *item)
	}

	resp := offerdomain.ListOfferResponse{Offers: offers}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (offerdomain.Offer, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return offerdomain.Offer{}, err
	}

	offerID, err := parseID(id)
	if err != nil {
		return offerdomain.Offer{}, err
	}

	offer, err := s.repo.FindByID(ctx, s.db, shopID, offerID)
	if err != nil {
		return offerdomain.Offer{}, err
	}
	if offer == nil {
		return offerdomain.Offer{}, offerdomain.ErrNotFound
	}
	return *offer, nil
}

func (s *Service) Update(ctx context.Context, id string, req offerdomain.UpdateOfferRequest) (offerdomain.Offer, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return offerdomain.Offer{}, err
	}

	offerID, err := parseID(id)
	if err != nil {
		return offerdomain.Offer{}, err
	}

	var updated offerdomain.Offer
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offer, err := s.repo.FindByID(ctx, tx, shopID, offerID)
		if err != nil {
			return err
		}
		if offer == nil {
			return offerdomain.ErrNotFound
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return offerdomain.ErrInvalidName
			}
			offer.Name = name
			offer.Slug = slug.Make(name)
		}
		if req.Status != nil {
			status := offerdomain.OfferStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
			if status != offerdomain.OfferStatusActive && status != offerdomain.OfferStatusArchived {
				return offerdomain.ErrInvalidStatus
			}
			offer.Status = status
		}
		if req.AmountCents != nil {
			offer.AmountCents = *req.AmountCents
		}
		if req.PercentBps != nil {
			offer.PercentBps = *req.PercentBps
		}
		if req.WindowDays != nil {
			offer.WindowDays = *req.WindowDays
		}
		if req.SellingSubscriptions != nil {
			offer.SellingSubscriptions = offerdomain.RebillPolicy(strings.ToLower(strings.TrimSpace(*req.SellingSubscriptions)))
		}
		if req.SubscriptionMaxPayments != nil {
			offer.SubscriptionMaxPayments = *req.SubscriptionMaxPayments
		}
		if req.RebillType != nil {
			offer.RebillType = offerdomain.CommissionType(strings.ToLower(strings.TrimSpace(*req.RebillType)))
		}
		if req.RebillAmountCents != nil {
			offer.RebillAmountCents = *req.RebillAmountCents
		}
		if req.RebillPercentBps != nil {
			offer.RebillPercentBps = *req.RebillPercentBps
		}
		offer.UpdatedAt = s.clock.Now()

		if err := validateOffer(offer); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, tx, offer); err != nil {
			return err
		}
		updated = *offer
		return nil
	})
	if err != nil {
		return offerdomain.Offer{}, err
	}

	s.audit(ctx, &updated, "offer.update", nil)
	return updated, nil
}

func (s *Service) Archive(ctx context.Context, id string) (offerdomain.Offer, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return offerdomain.Offer{}, err
	}

	offerID, err := parseID(id)
	if err != nil {
		return offerdomain.Offer{}, err
	}

	var updated offerdomain.Offer
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offer, err := s.repo.FindByID(ctx, tx, shopID, offerID)
		if err != nil {
			return err
		}
		if offer == nil {
			return offerdomain.ErrNotFound
		}
		if offer.Status == offerdomain.OfferStatusArchived {
			updated = *offer
			return nil
		}

		attached, err := s.repo.CountAffiliates(ctx, tx, shopID, offerID)
		if err != nil {
			return err
		}
		if attached > 0 {
			s.log.Info("archiving offer still referenced by affiliates",
				zap.String("offer_id", offerID.String()),
				zap.Int64("affiliates", attached),
			)
		}

		offer.Status = offerdomain.OfferStatusArchived
		offer.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, offer); err != nil {
			return err
		}
		updated = *offer
		return nil
	})
	if err != nil {
		return offerdomain.Offer{}, err
	}

	s.audit(ctx, &updated, "offer.archive", nil)
	return updated, nil
}

// validateOffer checks the full rule configuration, not just changed fields,
// so partial updates cannot leave an offer in a contradictory state.
func validateOffer(offer *offerdomain.Offer) error {
	if err := validateRule(offer.CommissionType, offer.AmountCents, offer.PercentBps); err != nil {
		return err
	}

	switch offer.SellingSubscriptions {
	case offerdomain.RebillPolicyNo, offerdomain.RebillPolicyCreditNone:
		if offer.RebillType != "" || offer.RebillAmountCents != 0 || offer.RebillPercentBps != 0 || offer.SubscriptionMaxPayments != 0 {
			return offerdomain.ErrInvalidRebillRule
		}
	case offerdomain.RebillPolicyCreditAll:
		// the main rule applies to every rebill, a separate rule is not allowed
		if offer.RebillType != "" || offer.RebillAmountCents != 0 || offer.RebillPercentBps != 0 || offer.SubscriptionMaxPayments != 0 {
			return offerdomain.ErrInvalidRebillRule
		}
	case offerdomain.RebillPolicyCreditFirstOnly:
		if offer.SubscriptionMaxPayments < 0 {
			return offerdomain.ErrInvalidRebillRule
		}
		if err := validateRule(offer.RebillType, offer.RebillAmountCents, offer.RebillPercentBps); err != nil {
			return offerdomain.ErrInvalidRebillRule
		}
	default:
		return offerdomain.ErrInvalidRebillPolicy
	}

	if offer.WindowDays <= 0 {
		return offerdomain.ErrInvalidWindow
	}
	return nil
}

func validateRule(kind offerdomain.CommissionType, amountCents, percentBps int64) error {
	switch kind {
	case offerdomain.CommissionTypeFlatRate:
		if amountCents <= 0 {
			return offerdomain.ErrInvalidAmount
		}
		if percentBps != 0 {
			return offerdomain.ErrInvalidPercent
		}
	case offerdomain.CommissionTypePercentage:
		if percentBps <= 0 || percentBps > maxPercentBps {
			return offerdomain.ErrInvalidPercent
		}
		if amountCents != 0 {
			return offerdomain.ErrInvalidAmount
		}
	default:
		return offerdomain.ErrInvalidCommissionType
	}
	return nil
}

func (s *Service) audit(ctx context.Context, offer *offerdomain.Offer, action string, metadata map[string]any) {
	if s.auditSvc == nil || offer == nil {
		return
	}
	targetID := offer.ID.String()
	shopID := offer.ShopID
	_ = s.auditSvc.AuditLog(ctx, &shopID, "", nil, action, "offer", &targetID, metadata)
}

func (s *Service) shopIDFromContext(ctx context.Context) (snowflake.ID, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok || shopID == 0 {
		return 0, offerdomain.ErrInvalidShop
	}
	return shopID, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, offerdomain.ErrInvalidID
	}
	return id, nil
}
