package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/partnerly/internal/audit/domain"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/shop/domain"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
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
	Repo     domain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
}

type shopService struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &shopService{
		db:       p.DB,
		log:      p.Log.Named("shop.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *shopService) Create(ctx context.Context, req domain.CreateShopRequest) (*domain.ShopResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, domain.ErrInvalidCurrency
	}

	now := s.clock.Now()
	shop := &domain.Shop{
		ID:          s.genID.Generate(),
		Name:        name,
		Slug:        slug.Make(name),
		Domain:      strings.TrimSpace(req.Domain),
		Currency:    currency,
		PostbackURL: strings.TrimSpace(req.PostbackURL),
		Status:      domain.ShopStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindBySlug(ctx, tx, shop.Slug)
		if err != nil {
			return err
		}
		if existing != nil {
			shop.Slug = shop.Slug + "-" + shop.ID.String()
		}
		return s.repo.Insert(ctx, tx, shop)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("shop created",
		zap.String("shop_id", shop.ID.String()),
		zap.String("slug", shop.Slug),
	)

	resp := toShopResponse(shop)
	return &resp, nil
}

func (s *shopService) GetByID(ctx context.Context, id string) (*domain.ShopResponse, error) {
	shopID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || shopID == 0 {
		return nil, domain.ErrInvalidShopID
	}

	shop, err := s.repo.FindByID(ctx, s.db, shopID)
	if err != nil {
		return nil, err
	}
	if shop == nil {
		return nil, domain.ErrShopNotFound
	}

	resp := toShopResponse(shop)
	return &resp, nil
}

func (s *shopService) List(ctx context.Context) ([]domain.ShopResponse, error) {
	shops, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.ShopResponse, 0, len(shops))
	for _, shop := range shops {
		resp = append(resp, toShopResponse(shop))
	}
	return resp, nil
}

func (s *shopService) Update(ctx context.Context, id string, req domain.UpdateShopRequest) (*domain.ShopResponse, error) {
	shopID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || shopID == 0 {
		return nil, domain.ErrInvalidShopID
	}

	var updated *domain.Shop
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		shop, err := s.repo.FindByID(ctx, tx, shopID)
		if err != nil {
			return err
		}
		if shop == nil {
			return domain.ErrShopNotFound
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return domain.ErrInvalidName
			}
			shop.Name = name
		}
		if req.Domain != nil {
			shop.Domain = strings.TrimSpace(*req.Domain)
		}
		if req.PostbackURL != nil {
			shop.PostbackURL = strings.TrimSpace(*req.PostbackURL)
		}
		if req.Status != nil {
			status := domain.ShopStatus(*req.Status)
			if status != domain.ShopStatusActive && status != domain.ShopStatusSuspended {
				return domain.ErrInvalidStatus
			}
			shop.Status = status
		}
		shop.UpdatedAt = s.clock.Now()

		if err := s.repo.Update(ctx, tx, shop); err != nil {
			return err
		}
		updated = shop
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := toShopResponse(updated)
	return &resp, nil
}

func (s *shopService) UpsertMember(ctx context.Context, req domain.UpsertMemberRequest) (*domain.MemberResponse, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role != domain.RoleOwner && role != domain.RoleAdmin && role != domain.RoleAnalyst {
		return nil, domain.ErrInvalidRole
	}

	now := s.clock.Now()
	member := &domain.ShopMember{
		ID:        s.genID.Generate(),
		ShopID:    shopID,
		UserID:    userID,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var stored *domain.ShopMember
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindMember(ctx, tx, shopID, userID)
		if err != nil {
			return err
		}
		// A shop must always keep at least one owner, so an owner cannot
		// be demoted while they are the only one.
		if current != nil && current.Role == domain.RoleOwner && role != domain.RoleOwner {
			owners, err := s.repo.CountMembersByRole(ctx, tx, shopID, domain.RoleOwner)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return domain.ErrLastOwner
			}
		}
		if err := s.repo.UpsertMember(ctx, tx, member); err != nil {
			return err
		}
		stored, err = s.repo.FindMember(ctx, tx, shopID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("shop member upserted",
		zap.String("shop_id", shopID.String()),
		zap.String("user_id", userID),
		zap.String("role", role),
	)
	s.audit(ctx, shopID, "shop_member.upsert", userID, map[string]any{"role": role})

	resp := toMemberResponse(stored)
	return &resp, nil
}

func (s *shopService) RemoveMember(ctx context.Context, userID string) error {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return err
	}

	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return domain.ErrInvalidUserID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := s.repo.FindMember(ctx, tx, shopID, trimmed)
		if err != nil {
			return err
		}
		if member == nil {
			return domain.ErrMemberNotFound
		}
		if member.Role == domain.RoleOwner {
			owners, err := s.repo.CountMembersByRole(ctx, tx, shopID, domain.RoleOwner)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return domain.ErrLastOwner
			}
		}

		deleted, err := s.repo.DeleteMember(ctx, tx, shopID, trimmed)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrMemberNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("shop member removed",
		zap.String("shop_id", shopID.String()),
		zap.String("user_id", trimmed),
	)
	s.audit(ctx, shopID, "shop_member.remove", trimmed, nil)
	return nil
}

func (s *shopService) ListMembers(ctx context.Context) ([]domain.MemberResponse, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	members, err := s.repo.ListMembers(ctx, s.db, shopID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.MemberResponse, 0, len(members))
	for _, member := range members {
		resp = append(resp, toMemberResponse(member))
	}
	return resp, nil
}

func (s *shopService) shopIDFromContext(ctx context.Context) (snowflake.ID, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok || shopID == 0 {
		return 0, domain.ErrInvalidShop
	}
	return snowflake.ID(shopID), nil
}

func (s *shopService) audit(ctx context.Context, shopID snowflake.ID, action, userID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetStr := userID
	_ = s.auditSvc.AuditLog(ctx, &shopID, "", nil, action, "shop_member", &targetStr, metadata)
}

func toShopResponse(shop *domain.Shop) domain.ShopResponse {
	return domain.ShopResponse{
		ID:          shop.ID.String(),
		Name:        shop.Name,
		Slug:        shop.Slug,
		Domain:      shop.Domain,
		Currency:    shop.Currency,
		PostbackURL: shop.PostbackURL,
		Status:      string(shop.Status),
		CreatedAt:   shop.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   shop.UpdatedAt.Format(time.RFC3339),
	}
}

func toMemberResponse(member *domain.ShopMember) domain.MemberResponse {
	return domain.MemberResponse{
		UserID:    member.UserID,
		Role:      member.Role,
		CreatedAt: member.CreatedAt.Format(time.RFC3339),
	}
}
