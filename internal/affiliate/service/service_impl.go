package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	auditdomain "github.com/smallbiznis/partnerly/internal/audit/domain"
	"github.com/smallbiznis/partnerly/internal/cache"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"github.com/smallbiznis/partnerly/pkg/db"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var couponCodePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{1,63}$`)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     affiliatedomain.Repository
	Coupons  cache.CouponResolverCache
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     affiliatedomain.Repository
	coupons  cache.CouponResolverCache
	auditSvc auditdomain.Service
}

func New(p Params) affiliatedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("affiliate.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		coupons:  p.Coupons,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req affiliatedomain.CreateAffiliateRequest) (affiliatedomain.Affiliate, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return affiliatedomain.Affiliate{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return affiliatedomain.Affiliate{}, affiliatedomain.ErrInvalidName
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return affiliatedomain.Affiliate{}, affiliatedomain.ErrInvalidEmail
	}

	payoutMethod, err := parsePayoutMethod(req.PayoutMethod)
	if err != nil {
		return affiliatedomain.Affiliate{}, err
	}

	payoutTerms := req.PayoutTermsDays
	if payoutTerms == 0 {
		payoutTerms = affiliatedomain.DefaultPayoutTermsDays
	}
	if payoutTerms < 0 {
		return affiliatedomain.Affiliate{}, affiliatedomain.ErrInvalidPayoutTerms
	}

	var offerID snowflake.ID
	if strings.TrimSpace(req.OfferID) != "" {
		offerID, err = parseID(req.OfferID)
		if err != nil {
			return affiliatedomain.Affiliate{}, affiliatedomain.ErrInvalidOffer
		}
	}

	now := s.clock.Now()
	affiliate := affiliatedomain.Affiliate{
		ID:              s.genID.Generate(),
		ShopID:          shopID,
		Name:            name,
		Slug:            slug.Make(name),
		Email:           email,
		Status:          affiliatedomain.AffiliateStatusPending,
		OfferID:         offerID,
		PayoutTermsDays: payoutTerms,
		PayoutMethod:    payoutMethod,
		PayoutReference: strings.TrimSpace(req.PayoutReference),
		Metadata:        datatypes.JSONMap{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// Number assignment races with concurrent signups; the shop row lock
	// serializes MAX+1 per shop, with a retry for backends that surface
	// serialization failures instead of blocking.
	var txErr error
	for attempt := 0; attempt < 3; attempt++ {
		txErr = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.lockShop(ctx, tx, shopID); err != nil {
				return err
			}
			if offerID != 0 {
				ok, err := s.offerExists(ctx, tx, shopID, offerID)
				if err != nil {
					return err
				}
				if !ok {
					return affiliatedomain.ErrInvalidOffer
				}
			}
			number, err := s.nextAffiliateNumber(ctx, tx, shopID)
			if err != nil {
				return err
			}
			affiliate.AffiliateNumber = number
			return s.repo.Insert(ctx, tx, &affiliate)
		})
		if txErr == nil || !db.IsSerializationErr(txErr) {
			break
		}
	}
	if txErr != nil {
		if db.IsDuplicateKeyErr(txErr) {
			return affiliatedomain.Affiliate{}, affiliatedomain.ErrEmailTaken
		}
		return affiliatedomain.Affiliate{}, txErr
	}

	s.audit(ctx, &affiliate, "affiliate.create", map[string]any{
		"email":            affiliate.Email,
		"affiliate_number": affiliate.AffiliateNumber,
	})

	return affiliate, nil
}

func (s *Service) List(ctx context.Context, req affiliatedomain.ListAffiliateRequest) (affiliatedomain.ListAffiliateResponse, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return affiliatedomain.ListAffiliateResponse{}, err
	}

	filter := affiliatedomain.ListAffiliateFilter{
		Status: strings.TrimSpace(req.Status),
		Email:  strings.ToLower(strings.TrimSpace(req.Email)),
	}

	page := pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(req.PageSize),
	}
	limit := page.Limit()

	items, err := s.repo.List(ctx, s.db, shopID, filter, page)
	if err != nil {
		return affiliatedomain.ListAffiliateResponse{}, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, limit, func(affiliate *affiliatedomain.Affiliate) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        affiliate.ID.String(),
			CreatedAt: affiliate.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	affiliates := make([]affiliatedomain.Affiliate, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		affiliates = append(affiliates, *item)
	}

	resp := affiliatedomain.ListAffiliateResponse{Affiliates: affiliates}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, req affiliatedomain.GetAffiliateRequest) (affiliatedomain.Affiliate, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return affiliatedomain.Affiliate{}, err
	}

	id, err := parseID(req.ID)
	if err != nil {
		return affiliatedomain.Affiliate{}, err
	}

	item, err := s.repo.FindByID(ctx, s.db, shopID, id)
	if err != nil {
		return affiliatedomain.Affiliate{}, err
	}
	if item == nil {
		return affiliatedomain.Affiliate{}, affiliatedomain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) Update(ctx context.Context, id string, req affiliatedomain.UpdateAffiliateRequest) (affiliatedomain.Affiliate, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return affiliatedomain.Affiliate{}, err
	}

	affiliateID, err := parseID(id)
	if err != nil {
		return affiliatedomain.Affiliate{}, err
	}

	var updated affiliatedomain.Affiliate
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affiliate, err := s.repo.FindByIDForUpdate(ctx, tx, shopID, affiliateID)
		if err != nil {
			return err
		}
		if affiliate == nil {
			return affiliatedomain.ErrNotFound
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return affiliatedomain.ErrInvalidName
			}
			affiliate.Name = name
			affiliate.Slug = slug.Make(name)
		}
		if req.OfferID != nil {
			if strings.TrimSpace(*req.OfferID) == "" {
				affiliate.OfferID = 0
			} else {
				offerID, err := parseID(*req.OfferID)
				if err != nil {
					return affiliatedomain.ErrInvalidOffer
				}
				ok, err := s.offerExists(ctx, tx, shopID, offerID)
				if err != nil {
					return err
				}
				if !ok {
					return affiliatedomain.ErrInvalidOffer
				}
				affiliate.OfferID = offerID
			}
		}
		if req.PayoutMethod != nil {
			method, err := parsePayoutMethod(*req.PayoutMethod)
			if err != nil {
				return err
			}
			affiliate.PayoutMethod = method
		}
		if req.PayoutReference != nil {
			affiliate.PayoutReference = strings.TrimSpace(*req.PayoutReference)
		}
		if req.PayoutTermsDays != nil {
			if *req.PayoutTermsDays < 0 {
				return affiliatedomain.ErrInvalidPayoutTerms
			}
			affiliate.PayoutTermsDays = *req.PayoutTermsDays
		}
		affiliate.UpdatedAt = s.clock.Now()

		if err := s.repo.Update(ctx, tx, affiliate); err != nil {
			return err
		}
		updated = *affiliate
		return nil
	})
	if err != nil {
		return affiliatedomain.Affiliate{}, err
	}

	s.audit(ctx, &updated, "affiliate.update", nil)
	return updated, nil
}

func (s *Service) Approve(ctx context.Context, id string) (affiliatedomain.Affiliate, error) {
	return s.transition(ctx, id, affiliatedomain.AffiliateStatusActive, "affiliate.approve")
}

func (s *Service) Suspend(ctx context.Context, id string) (affiliatedomain.Affiliate, error) {
	return s.transition(ctx, id, affiliatedomain.AffiliateStatusSuspended, "affiliate.suspend")
}

func (s *Service) Reject(ctx context.Context, id string) (affiliatedomain.Affiliate, error) {
	return s.transition(ctx, id, affiliatedomain.AffiliateStatusRejected, "affiliate.reject")
}

func (s *Service) transition(ctx context.Context, id string, target affiliatedomain.AffiliateStatus, action string) (affiliatedomain.Affiliate, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return affiliatedomain.Affiliate{}, err
	}

	affiliateID, err := parseID(id)
	if err != nil {
		return affiliatedomain.Affiliate{}, err
	}

	var updated affiliatedomain.Affiliate
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affiliate, err := s.repo.FindByIDForUpdate(ctx, tx, shopID, affiliateID)
		if err != nil {
			return err
		}
		if affiliate == nil {
			return affiliatedomain.ErrNotFound
		}
		if affiliate.Status == target {
			updated = *affiliate
			return nil
		}
		if !isStatusTransitionAllowed(affiliate.Status, target) {
			return affiliatedomain.ErrInvalidTransition
		}
		affiliate.Status = target
		affiliate.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, affiliate); err != nil {
			return err
		}
		updated = *affiliate
		return nil
	})
	if err != nil {
		return affiliatedomain.Affiliate{}, err
	}

	s.audit(ctx, &updated, action, map[string]any{"status": string(updated.Status)})
	return updated, nil
}

func isStatusTransitionAllowed(from, to affiliatedomain.AffiliateStatus) bool {
	switch from {
	case affiliatedomain.AffiliateStatusPending:
		return to == affiliatedomain.AffiliateStatusActive || to == affiliatedomain.AffiliateStatusRejected
	case affiliatedomain.AffiliateStatusActive:
		return to == affiliatedomain.AffiliateStatusSuspended
	case affiliatedomain.AffiliateStatusSuspended:
		return to == affiliatedomain.AffiliateStatusActive
	default:
		return false
	}
}

func (s *Service) AssignCoupon(ctx context.Context, req affiliatedomain.AssignCouponRequest) (affiliatedomain.Coupon, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return affiliatedomain.Coupon{}, err
	}

	affiliateID, err := parseID(req.AffiliateID)
	if err != nil {
		return affiliatedomain.Coupon{}, err
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if !couponCodePattern.MatchString(code) {
		return affiliatedomain.Coupon{}, affiliatedomain.ErrInvalidCouponCode
	}

	affiliate, err := s.repo.FindByID(ctx, s.db, shopID, affiliateID)
	if err != nil {
		return affiliatedomain.Coupon{}, err
	}
	if affiliate == nil {
		return affiliatedomain.Coupon{}, affiliatedomain.ErrNotFound
	}
	if affiliate.Status == affiliatedomain.AffiliateStatusRejected {
		return affiliatedomain.Coupon{}, affiliatedomain.ErrInvalidTransition
	}

	now := s.clock.Now()
	coupon := affiliatedomain.Coupon{
		ID:          s.genID.Generate(),
		ShopID:      shopID,
		AffiliateID: affiliateID,
		Code:        code,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.InsertCoupon(ctx, s.db, &coupon); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return affiliatedomain.Coupon{}, affiliatedomain.ErrCouponTaken
		}
		return affiliatedomain.Coupon{}, err
	}

	s.coupons.Invalidate(ctx, shopID, code)
	s.audit(ctx, affiliate, "coupon.assign", map[string]any{"code": code})
	return coupon, nil
}

func (s *Service) DeactivateCoupon(ctx context.Context, couponID string) (affiliatedomain.Coupon, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return affiliatedomain.Coupon{}, err
	}

	id, err := parseID(couponID)
	if err != nil {
		return affiliatedomain.Coupon{}, err
	}

	coupon, err := s.repo.FindCouponByID(ctx, s.db, shopID, id)
	if err != nil {
		return affiliatedomain.Coupon{}, err
	}
	if coupon == nil {
		return affiliatedomain.Coupon{}, affiliatedomain.ErrCouponNotFound
	}

	if coupon.Active {
		coupon.Active = false
		coupon.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateCoupon(ctx, s.db, coupon); err != nil {
			return affiliatedomain.Coupon{}, err
		}
	}

	s.coupons.Invalidate(ctx, shopID, coupon.Code)
	return *coupon, nil
}

func (s *Service) ListCoupons(ctx context.Context, affiliateID string) ([]affiliatedomain.Coupon, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	id, err := parseID(affiliateID)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.ListCouponsByAffiliate(ctx, s.db, shopID, id)
	if err != nil {
		return nil, err
	}

	coupons := make([]affiliatedomain.Coupon, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		coupons = append(coupons, *item)
	}
	return coupons, nil
}

func (s *Service) ResolveCoupon(ctx context.Context, shopID snowflake.ID, code string) (*affiliatedomain.Coupon, error) {
	if shopID == 0 {
		return nil, affiliatedomain.ErrInvalidShop
	}
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, nil
	}

	if cached, ok := s.coupons.GetCoupon(ctx, shopID, normalized); ok {
		if cached == nil || !cached.Active {
			return nil, nil
		}
		return cached, nil
	}

	coupon, err := s.repo.FindCouponByCode(ctx, s.db, shopID, normalized)
	if err != nil {
		return nil, err
	}
	if coupon == nil || !coupon.Active {
		return nil, nil
	}

	s.coupons.SetCoupon(ctx, shopID, normalized, coupon)
	return coupon, nil
}

func (s *Service) lockShop(ctx context.Context, tx *gorm.DB, shopID snowflake.ID) error {
	var id snowflake.ID
	err := tx.WithContext(ctx).Raw(
		`SELECT id
		 FROM shops
		 WHERE id = ?
		 FOR UPDATE`,
		shopID,
	).Scan(&id).Error
	if err != nil {
		return err
	}
	if id == 0 {
		return affiliatedomain.ErrInvalidShop
	}
	return nil
}

func (s *Service) nextAffiliateNumber(ctx context.Context, tx *gorm.DB, shopID snowflake.ID) (int64, error) {
	var next int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(affiliate_number), 0) + 1
		 FROM affiliates
		 WHERE shop_id = ?`,
		shopID,
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Service) offerExists(ctx context.Context, tx *gorm.DB, shopID, offerID snowflake.ID) (bool, error) {
	var id snowflake.ID
	err := tx.WithContext(ctx).Raw(
		`SELECT id FROM offers WHERE shop_id = ? AND id = ?`,
		shopID,
		offerID,
	).Scan(&id).Error
	if err != nil {
		return false, err
	}
	return id != 0, nil
}

func (s *Service) audit(ctx context.Context, affiliate *affiliatedomain.Affiliate, action string, metadata map[string]any) {
	if s.auditSvc == nil || affiliate == nil {
		return
	}
	targetID := affiliate.ID.String()
	shopID := affiliate.ShopID
	_ = s.auditSvc.AuditLog(ctx, &shopID, "", nil, action, "affiliate", &targetID, metadata)
}

func (s *Service) shopIDFromContext(ctx context.Context) (snowflake.ID, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok || shopID == 0 {
		return 0, affiliatedomain.ErrInvalidShop
	}
	return snowflake.ID(shopID), nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, affiliatedomain.ErrInvalidID
	}
	return id, nil
}

func parsePayoutMethod(value string) (affiliatedomain.PayoutMethod, error) {
	switch method := affiliatedomain.PayoutMethod(strings.TrimSpace(value)); method {
	case "", affiliatedomain.PayoutMethodPaypal, affiliatedomain.PayoutMethodBank, affiliatedomain.PayoutMethodManual:
		return method, nil
	default:
		return "", affiliatedomain.ErrInvalidPayoutMethod
	}
}
