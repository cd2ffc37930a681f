package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/partnerly/internal/audit/domain"
	"github.com/smallbiznis/partnerly/internal/auditcontext"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/config"
	frauddomain "github.com/smallbiznis/partnerly/internal/fraud/domain"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Tracking *config.TrackingConfigHolder
	Repo     frauddomain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	tracking *config.TrackingConfigHolder
	repo     frauddomain.Repository
	auditSvc auditdomain.Service
}

func New(p Params) frauddomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("fraud.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		tracking: p.Tracking,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

// Blocked implements domain.Service.
func (s *Service) Blocked(ctx context.Context, commissionIDs []snowflake.ID) ([]snowflake.ID, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.BlockedCommissionIDs(ctx, s.db, shopID, commissionIDs)
}

// FlagCommission implements domain.Service.
func (s *Service) FlagCommission(ctx context.Context, req frauddomain.FlagCommissionRequest) (*frauddomain.FraudFlag, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	flagType := req.FlagType
	if flagType == "" {
		flagType = frauddomain.FlagTypeManual
	}
	switch flagType {
	case frauddomain.FlagTypeManual, frauddomain.FlagTypeRiskScore, frauddomain.FlagTypeExternal:
	default:
		return nil, frauddomain.ErrInvalidFlagType
	}

	if req.Score < 0 || req.Score > 100 {
		return nil, frauddomain.ErrInvalidScore
	}

	var commissionID, affiliateID snowflake.ID
	if strings.TrimSpace(req.CommissionID) != "" {
		commissionID, err = snowflake.ParseString(strings.TrimSpace(req.CommissionID))
		if err != nil || commissionID == 0 {
			return nil, frauddomain.ErrInvalidCommission
		}
		affiliateID, err = s.commissionAffiliate(ctx, shopID, commissionID)
		if err != nil {
			return nil, err
		}
		if affiliateID == 0 {
			return nil, frauddomain.ErrInvalidCommission
		}
	} else {
		// Affiliate-level flag: marks the affiliate for review without
		// holding a specific commission.
		affiliateID, err = snowflake.ParseString(strings.TrimSpace(req.AffiliateID))
		if err != nil || affiliateID == 0 {
			return nil, frauddomain.ErrInvalidAffiliate
		}
		exists, err := s.affiliateExists(ctx, shopID, affiliateID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, frauddomain.ErrInvalidAffiliate
		}
	}

	flag := &frauddomain.FraudFlag{
		ID:           s.genID.Generate(),
		ShopID:       shopID,
		AffiliateID:  affiliateID,
		CommissionID: commissionID,
		FlagType:     flagType,
		Score:        req.Score,
		Reason:       strings.TrimSpace(req.Reason),
		CreatedAt:    s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, flag); err != nil {
		return nil, err
	}

	s.log.Info("fraud flag created",
		zap.String("flag_id", flag.ID.String()),
		zap.String("flag_type", string(flag.FlagType)),
		zap.String("affiliate_id", flag.AffiliateID.String()),
	)
	s.audit(ctx, flag, "fraud.flag_created", map[string]any{
		"flag_type":     string(flag.FlagType),
		"commission_id": flag.CommissionID.String(),
		"score":         flag.Score,
	})

	return flag, nil
}

// AutoFlag implements domain.Service.
func (s *Service) AutoFlag(ctx context.Context, db *gorm.DB, req frauddomain.AutoFlagRequest) (*frauddomain.FraudFlag, error) {
	cfg := s.tracking.Get()
	if !cfg.FraudAutoFlagEnabled || req.RiskScore < cfg.FraudAutoFlagMinScore {
		return nil, nil
	}

	if req.ShopID == 0 {
		return nil, frauddomain.ErrInvalidShop
	}
	if req.AffiliateID == 0 {
		return nil, frauddomain.ErrInvalidAffiliate
	}
	if req.CommissionID == 0 {
		return nil, frauddomain.ErrInvalidCommission
	}

	if db == nil {
		db = s.db
	}

	flag := &frauddomain.FraudFlag{
		ID:           s.genID.Generate(),
		ShopID:       req.ShopID,
		AffiliateID:  req.AffiliateID,
		CommissionID: req.CommissionID,
		FlagType:     frauddomain.FlagTypeRiskScore,
		Score:        req.RiskScore,
		Reason:       fmt.Sprintf("order risk score %.2f at or above threshold %.2f", req.RiskScore, cfg.FraudAutoFlagMinScore),
		CreatedAt:    s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, db, flag); err != nil {
		return nil, err
	}

	s.log.Info("commission auto-flagged",
		zap.String("flag_id", flag.ID.String()),
		zap.String("commission_id", flag.CommissionID.String()),
		zap.Float64("risk_score", req.RiskScore),
	)

	return flag, nil
}

// ResolveFlag implements domain.Service.
func (s *Service) ResolveFlag(ctx context.Context, flagID string) (*frauddomain.FraudFlag, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	id, err := snowflake.ParseString(strings.TrimSpace(flagID))
	if err != nil || id == 0 {
		return nil, frauddomain.ErrInvalidID
	}

	flag, err := s.repo.FindByID(ctx, s.db, shopID, id)
	if err != nil {
		return nil, err
	}
	if flag == nil {
		return nil, frauddomain.ErrNotFound
	}
	if flag.Resolved {
		return flag, nil
	}

	now := s.clock.Now()
	flag.Resolved = true
	flag.ResolvedAt = &now
	if actor, ok := auditcontext.ActorFromContext(ctx); ok && actor.ID != "" {
		resolvedBy := actor.ID
		flag.ResolvedBy = &resolvedBy
	}
	if err := s.repo.Update(ctx, s.db, flag); err != nil {
		return nil, err
	}

	s.log.Info("fraud flag resolved", zap.String("flag_id", flag.ID.String()))
	s.audit(ctx, flag, "fraud.flag_resolved", map[string]any{
		"commission_id": flag.CommissionID.String(),
	})

	return flag, nil
}

// GetByID implements domain.Service.
func (s *Service) GetByID(ctx context.Context, flagID string) (*frauddomain.FraudFlag, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	id, err := snowflake.ParseString(strings.TrimSpace(flagID))
	if err != nil || id == 0 {
		return nil, frauddomain.ErrInvalidID
	}

	flag, err := s.repo.FindByID(ctx, s.db, shopID, id)
	if err != nil {
		return nil, err
	}
	if flag == nil {
		return nil, frauddomain.ErrNotFound
	}
	return flag, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, req frauddomain.ListFlagsRequest) (frauddomain.ListFlagsResponse, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return frauddomain.ListFlagsResponse{}, err
	}

	filter := frauddomain.ListFilter{}
	if value := strings.TrimSpace(req.AffiliateID); value != "" {
		filter.AffiliateID, err = snowflake.ParseString(value)
		if err != nil || filter.AffiliateID == 0 {
			return frauddomain.ListFlagsResponse{}, frauddomain.ErrInvalidAffiliate
		}
	}
	if value := strings.TrimSpace(req.CommissionID); value != "" {
		filter.CommissionID, err = snowflake.ParseString(value)
		if err != nil || filter.CommissionID == 0 {
			return frauddomain.ListFlagsResponse{}, frauddomain.ErrInvalidCommission
		}
	}
	switch strings.ToLower(strings.TrimSpace(req.Resolved)) {
	case "":
	case "true":
		resolved := true
		filter.Resolved = &resolved
	case "false":
		resolved := false
		filter.Resolved = &resolved
	default:
		return frauddomain.ListFlagsResponse{}, frauddomain.ErrInvalidResolved
	}

	flags, err := s.repo.List(ctx, s.db, shopID, filter, req.Pagination)
	if err != nil {
		return frauddomain.ListFlagsResponse{}, err
	}

	limit := req.Pagination.Limit()
	pageInfo, flags := pagination.BuildCursorPageInfo(flags, limit, func(flag *frauddomain.FraudFlag) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        flag.ID.String(),
			CreatedAt: flag.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	resp := frauddomain.ListFlagsResponse{
		Flags: make([]frauddomain.FraudFlag, 0, len(flags)),
	}
	for _, flag := range flags {
		resp.Flags = append(resp.Flags, *flag)
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}

	return resp, nil
}

func (s *Service) commissionAffiliate(ctx context.Context, shopID, commissionID snowflake.ID) (snowflake.ID, error) {
	var affiliateID snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT affiliate_id FROM commissions WHERE shop_id = ? AND id = ?`,
		shopID,
		commissionID,
	).Scan(&affiliateID).Error
	if err != nil {
		return 0, err
	}
	return affiliateID, nil
}

func (s *Service) affiliateExists(ctx context.Context, shopID, affiliateID snowflake.ID) (bool, error) {
	var id snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM affiliates WHERE shop_id = ? AND id = ?`,
		shopID,
		affiliateID,
	).Scan(&id).Error
	if err != nil {
		return false, err
	}
	return id != 0, nil
}

func (s *Service) audit(ctx context.Context, flag *frauddomain.FraudFlag, action string, metadata map[string]any) {
	if s.auditSvc == nil || flag == nil {
		return
	}
	targetID := flag.ID.String()
	shopID := flag.ShopID
	_ = s.auditSvc.AuditLog(ctx, &shopID, "", nil, action, "fraud_flag", &targetID, metadata)
}

func (s *Service) shopIDFromContext(ctx context.Context) (snowflake.ID, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok || shopID == 0 {
		return 0, frauddomain.ErrInvalidShop
	}
	return snowflake.ID(shopID), nil
}
