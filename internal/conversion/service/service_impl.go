package service

import (
	"context"
	"errors"
	"strings"

	attributiondomain "github.com/smallbiznis/partnerly/internal/attribution/domain"
	"github.com/smallbiznis/partnerly/internal/cloudmetrics"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	conversiondomain "github.com/smallbiznis/partnerly/internal/conversion/domain"
	"github.com/smallbiznis/partnerly/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/partnerly/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log             *zap.Logger
	AttributionSvc  attributiondomain.Service
	SubscriptionSvc subscriptiondomain.Service
	CommissionSvc   commissiondomain.Service

	Metrics    *cloudmetrics.CloudMetrics `optional:"true"`
	ObsMetrics *metrics.Metrics           `optional:"true"`
}

type Service struct {
	log             *zap.Logger
	attributionSvc  attributiondomain.Service
	subscriptionSvc subscriptiondomain.Service
	commissionSvc   commissiondomain.Service
	metrics         *cloudmetrics.CloudMetrics
	obsMetrics      *metrics.Metrics
}

func New(p Params) conversiondomain.Service {
	return &Service{
		log:             p.Log.Named("conversion.service"),
		attributionSvc:  p.AttributionSvc,
		subscriptionSvc: p.SubscriptionSvc,
		commissionSvc:   p.CommissionSvc,
		metrics:         p.Metrics,
		obsMetrics:      p.ObsMetrics,
	}
}

// ProcessOrder implements domain.Service.
func (s *Service) ProcessOrder(ctx context.Context, event attributiondomain.OrderEvent) (*conversiondomain.ProcessOrderResult, error) {
	event.OrderID = strings.TrimSpace(event.OrderID)
	if event.OrderID == "" {
		return nil, conversiondomain.ErrInvalidOrder
	}
	event.CustomerRef = strings.TrimSpace(event.CustomerRef)
	event.SellingPlanID = strings.TrimSpace(event.SellingPlanID)

	if event.IsSubscription && event.CustomerRef != "" {
		lineage, err := s.subscriptionSvc.FindActive(ctx, event.CustomerRef, event.SellingPlanID)
		if err != nil {
			return nil, err
		}
		if lineage != nil {
			opening, err := s.attributionSvc.GetByOrderID(ctx, event.OrderID)
			if err != nil && !errors.Is(err, attributiondomain.ErrNotFound) {
				return nil, err
			}
			if opening == nil {
				return s.processRebill(ctx, lineage, event)
			}
			// The order that opened this lineage, delivered again. The
			// initial path converges on the existing rows.
		}
	}
	return s.processInitial(ctx, event)
}

func (s *Service) processInitial(ctx context.Context, event attributiondomain.OrderEvent) (*conversiondomain.ProcessOrderResult, error) {
	attribution, err := s.attributionSvc.ResolveOrder(ctx, event)
	if err != nil {
		return nil, err
	}
	if attribution == nil {
		// No affiliate earned this order; that is the common case.
		s.obsMetrics.RecordOrderEvent(ctx, "order", "none")
		return &conversiondomain.ProcessOrderResult{}, nil
	}

	if event.IsSubscription && event.CustomerRef != "" {
		if _, err := s.subscriptionSvc.StartLineage(ctx, subscriptiondomain.StartLineageRequest{
			AttributionID: attribution.ID,
			CustomerRef:   event.CustomerRef,
			SellingPlanID: event.SellingPlanID,
			OrderID:       event.OrderID,
		}); err != nil {
			return nil, err
		}
	}

	created, err := s.commissionSvc.CreateFromAttribution(ctx, commissiondomain.CreateCommissionRequest{
		AttributionID: attribution.ID,
		OrderID:       event.OrderID,
		SubtotalCents: event.SubtotalCents,
		Currency:      event.Currency,
		RiskScore:     event.RiskScore,
	})
	if err != nil {
		return nil, err
	}

	// async metrics (best effort)
	if s.metrics != nil && !created.Replayed {
		go s.metrics.IncOrderAttributed(attribution.ShopID.String())
	}

	s.obsMetrics.RecordOrderEvent(ctx, "order", string(attribution.Method))
	return &conversiondomain.ProcessOrderResult{
		Attribution: attribution,
		Commission:  created.Commission,
		Replayed:    created.Replayed,
		Skipped:     created.Skipped,
		SkipReason:  created.SkipReason,
	}, nil
}

func (s *Service) processRebill(ctx context.Context, lineage *subscriptiondomain.SubscriptionAttribution, event attributiondomain.OrderEvent) (*conversiondomain.ProcessOrderResult, error) {
	attribution, err := s.attributionSvc.GetByID(ctx, lineage.OrderAttributionID.String())
	if err != nil {
		return nil, err
	}

	// A redelivered rebill that is no longer the lineage's latest order
	// would bump the payment counter a second time; the order's existing
	// commission row is the replay evidence.
	if lineage.LastOrderID != event.OrderID {
		existing, err := s.commissionSvc.List(ctx, commissiondomain.ListCommissionsRequest{OrderID: event.OrderID})
		if err != nil {
			return nil, err
		}
		if len(existing.Commissions) > 0 {
			row := existing.Commissions[0]
			s.obsMetrics.RecordOrderEvent(ctx, "rebill", "replayed")
			return &conversiondomain.ProcessOrderResult{
				Attribution:    attribution,
				Commission:     &row,
				Rebill:         true,
				RebillSequence: row.RebillSequence,
				Replayed:       true,
			}, nil
		}
	}

	rebill, err := s.subscriptionSvc.RecordRebill(ctx, event.CustomerRef, event.SellingPlanID, event.OrderID)
	if err != nil {
		return nil, err
	}
	sequence := rebill.Lineage.PaymentsMade

	created, err := s.commissionSvc.CreateFromAttribution(ctx, commissiondomain.CreateCommissionRequest{
		AttributionID:  lineage.OrderAttributionID,
		OrderID:        event.OrderID,
		SubtotalCents:  event.SubtotalCents,
		Currency:       event.Currency,
		Rebill:         true,
		RebillSequence: sequence,
		RiskScore:      event.RiskScore,
	})
	if err != nil {
		return nil, err
	}

	// async metrics (best effort)
	if s.metrics != nil && !created.Replayed && !rebill.Replayed {
		go s.metrics.IncOrderAttributed(attribution.ShopID.String())
	}

	s.obsMetrics.RecordOrderEvent(ctx, "rebill", string(attribution.Method))
	return &conversiondomain.ProcessOrderResult{
		Attribution:    attribution,
		Commission:     created.Commission,
		Rebill:         true,
		RebillSequence: sequence,
		Replayed:       created.Replayed || rebill.Replayed,
		Skipped:        created.Skipped,
		SkipReason:     created.SkipReason,
	}, nil
}

// ProcessRefund implements domain.Service.
func (s *Service) ProcessRefund(ctx context.Context, orderID string) (*commissiondomain.BulkTransitionResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, conversiondomain.ErrInvalidOrder
	}
	result, err := s.commissionSvc.ReverseForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordOrderEvent(ctx, "refund", "")
	s.log.Info("refund processed",
		zap.String("order_id", orderID),
		zap.Int("reversed", result.Transitioned),
	)
	return result, nil
}

// ProcessCancellation implements domain.Service.
func (s *Service) ProcessCancellation(ctx context.Context, req conversiondomain.CancelSubscriptionRequest) error {
	customerRef := strings.TrimSpace(req.CustomerRef)
	if customerRef == "" {
		return conversiondomain.ErrInvalidCustomerRef
	}
	lineage, err := s.subscriptionSvc.CancelLineage(ctx, customerRef, strings.TrimSpace(req.SellingPlanID))
	if err != nil {
		return err
	}
	s.obsMetrics.RecordOrderEvent(ctx, "cancellation", "")
	if lineage != nil {
		s.log.Info("subscription lineage cancelled",
			zap.String("lineage_id", lineage.ID.String()),
			zap.String("customer_ref", customerRef),
		)
	}
	return nil
}
