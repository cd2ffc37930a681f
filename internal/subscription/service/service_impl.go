package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	subscriptiondomain "github.com/smallbiznis/partnerly/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  subscriptiondomain.Repository
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  subscriptiondomain.Repository
}

func New(p Params) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// StartLineage implements domain.Service.
func (s *Service) StartLineage(ctx context.Context, req subscriptiondomain.StartLineageRequest) (*subscriptiondomain.SubscriptionAttribution, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok || shopID == 0 {
		return nil, subscriptiondomain.ErrInvalidShop
	}

	if req.AttributionID == 0 {
		return nil, subscriptiondomain.ErrInvalidAttribution
	}

	customerRef := strings.TrimSpace(req.CustomerRef)
	if customerRef == "" {
		return nil, subscriptiondomain.ErrInvalidCustomerRef
	}

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, subscriptiondomain.ErrInvalidOrder
	}

	now := s.clock.Now()
	lineage := &subscriptiondomain.SubscriptionAttribution{
		ID:                 s.genID.Generate(),
		ShopID:             shopID,
		OrderAttributionID: req.AttributionID,
		CustomerRef:        customerRef,
		SellingPlanID:      strings.TrimSpace(req.SellingPlanID),
		PaymentsMade:       0,
		Active:             true,
		LastOrderID:        orderID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	inserted, err := s.repo.Insert(ctx, s.db, lineage)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// A lineage for this attribution already exists; return it so a
		// replayed checkout webhook converges on the original row.
		existing, err := s.repo.FindByAttributionID(ctx, s.db, shopID, req.AttributionID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		return nil, subscriptiondomain.ErrInvalidAttribution
	}

	s.log.Info("lineage started",
		zap.String("lineage_id", lineage.ID.String()),
		zap.String("attribution_id", req.AttributionID.String()),
	)

	return lineage, nil
}

// RecordRebill implements domain.Service.
func (s *Service) RecordRebill(ctx context.Context, customerRef, sellingPlanID, orderID string) (*subscriptiondomain.RebillResult, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok || shopID == 0 {
		return nil, subscriptiondomain.ErrInvalidShop
	}

	customerRef = strings.TrimSpace(customerRef)
	if customerRef == "" {
		return nil, subscriptiondomain.ErrInvalidCustomerRef
	}

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, subscriptiondomain.ErrInvalidOrder
	}

	sellingPlanID = strings.TrimSpace(sellingPlanID)

	var result subscriptiondomain.RebillResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lineage, err := s.repo.FindActiveByCustomerPlanForUpdate(ctx, tx, shopID, customerRef, sellingPlanID)
		if err != nil {
			return err
		}
		if lineage == nil {
			return subscriptiondomain.ErrLineageNotFound
		}

		if lineage.LastOrderID == orderID {
			// Replayed webhook for an order already counted.
			result = subscriptiondomain.RebillResult{Lineage: lineage, Replayed: true}
			return nil
		}

		lineage.PaymentsMade++
		lineage.LastOrderID = orderID
		lineage.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, lineage); err != nil {
			return err
		}

		result = subscriptiondomain.RebillResult{Lineage: lineage}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		s.log.Info("rebill recorded",
			zap.String("lineage_id", result.Lineage.ID.String()),
			zap.Int("payments_made", result.Lineage.PaymentsMade),
		)
	}

	return &result, nil
}

// CancelLineage implements domain.Service.
func (s *Service) CancelLineage(ctx context.Context, customerRef, sellingPlanID string) (*subscriptiondomain.SubscriptionAttribution, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok || shopID == 0 {
		return nil, subscriptiondomain.ErrInvalidShop
	}

	customerRef = strings.TrimSpace(customerRef)
	if customerRef == "" {
		return nil, subscriptiondomain.ErrInvalidCustomerRef
	}

	sellingPlanID = strings.TrimSpace(sellingPlanID)

	var canceled *subscriptiondomain.SubscriptionAttribution
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lineage, err := s.repo.FindActiveByCustomerPlanForUpdate(ctx, tx, shopID, customerRef, sellingPlanID)
		if err != nil {
			return err
		}
		if lineage == nil {
			return nil
		}

		lineage.Active = false
		lineage.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, lineage); err != nil {
			return err
		}

		canceled = lineage
		return nil
	})
	if err != nil {
		return nil, err
	}

	if canceled != nil {
		s.log.Info("lineage canceled", zap.String("lineage_id", canceled.ID.String()))
	}

	return canceled, nil
}

// FindActive implements domain.Service.
func (s *Service) FindActive(ctx context.Context, customerRef, sellingPlanID string) (*subscriptiondomain.SubscriptionAttribution, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok || shopID == 0 {
		return nil, subscriptiondomain.ErrInvalidShop
	}

	customerRef = strings.TrimSpace(customerRef)
	if customerRef == "" {
		return nil, subscriptiondomain.ErrInvalidCustomerRef
	}

	return s.repo.FindActiveByCustomerPlan(ctx, s.db, shopID, customerRef, strings.TrimSpace(sellingPlanID))
}
