package service

import (
	"context"
	"math"
	"strings"
	"time"

	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	"github.com/smallbiznis/partnerly/internal/events"
	frauddomain "github.com/smallbiznis/partnerly/internal/fraud/domain"
	offerdomain "github.com/smallbiznis/partnerly/internal/offer/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Skip reasons reported when an attributed payment legitimately earns
// nothing. No commission row is written for a skip.
const (
	SkipRebillsNotCredited = "rebills_not_credited"
	SkipMaxPaymentsReached = "max_payments_reached"
	SkipNoActiveOffer      = "no_active_offer"
)

// CreateFromAttribution implements domain.Service. One commission per
// (attribution, rebill sequence): replayed payment events converge on
// the first row instead of writing a second one.
func (s *Service) CreateFromAttribution(ctx context.Context, req commissiondomain.CreateCommissionRequest) (*commissiondomain.CreateCommissionResult, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req.AttributionID == 0 {
		return nil, commissiondomain.ErrInvalidAttribution
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, commissiondomain.ErrInvalidOrder
	}
	if req.SubtotalCents < 0 {
		return nil, commissiondomain.ErrInvalidSubtotal
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, commissiondomain.ErrInvalidCurrency
	}
	if req.Rebill && req.RebillSequence < 1 {
		return nil, commissiondomain.ErrInvalidSequence
	}
	if !req.Rebill && req.RebillSequence != 0 {
		return nil, commissiondomain.ErrInvalidSequence
	}

	// Fast replay path, no transaction needed.
	existing, err := s.repo.FindBySequence(ctx, s.db, shopID, req.AttributionID, req.RebillSequence)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &commissiondomain.CreateCommissionResult{Commission: existing, Replayed: true}, nil
	}

	attribution, err := s.attributionRepo.FindByID(ctx, s.db, shopID, req.AttributionID)
	if err != nil {
		return nil, err
	}
	if attribution == nil {
		return nil, commissiondomain.ErrInvalidAttribution
	}
	affiliate, err := s.affiliateRepo.FindByID(ctx, s.db, shopID, attribution.AffiliateID)
	if err != nil {
		return nil, err
	}
	if affiliate == nil {
		return nil, commissiondomain.ErrInvalidAffiliate
	}

	if affiliate.OfferID == 0 {
		return s.skip(orderID, req.RebillSequence, SkipNoActiveOffer), nil
	}
	offer, err := s.offerRepo.FindByID(ctx, s.db, shopID, affiliate.OfferID)
	if err != nil {
		return nil, err
	}
	if offer == nil || offer.Status != offerdomain.OfferStatusActive {
		return s.skip(orderID, req.RebillSequence, SkipNoActiveOffer), nil
	}

	var applied commissiondomain.Rule
	if !req.Rebill {
		applied = mainRule(offer)
	} else {
		// The policy is read from the offer as it stands at rebill time,
		// then frozen into this commission's own snapshot.
		switch offer.SellingSubscriptions {
		case offerdomain.RebillPolicyCreditAll:
			applied = mainRule(offer)
		case offerdomain.RebillPolicyCreditFirstOnly:
			if req.RebillSequence > offer.SubscriptionMaxPayments {
				return s.skip(orderID, req.RebillSequence, SkipMaxPaymentsReached), nil
			}
			applied = rebillRule(offer)
		default:
			return s.skip(orderID, req.RebillSequence, SkipRebillsNotCredited), nil
		}
	}

	now := s.clock.Now()
	terms := affiliate.PayoutTermsDays
	if terms <= 0 {
		terms = affiliatedomain.DefaultPayoutTermsDays
	}

	commission := &commissiondomain.Commission{
		ID:                 s.genID.Generate(),
		ShopID:             shopID,
		AffiliateID:        attribution.AffiliateID,
		OrderAttributionID: attribution.ID,
		OrderID:            orderID,
		RebillSequence:     req.RebillSequence,
		AmountCents:        computeAmount(applied, req.SubtotalCents),
		Currency:           currency,
		Status:             commissiondomain.StatusPending,
		EligibleDate:       now.Add(time.Duration(terms) * 24 * time.Hour),
		RuleSnapshot:       snapshotOffer(offer, applied),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	result := &commissiondomain.CreateCommissionResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.Insert(ctx, tx, commission)
		if err != nil {
			return err
		}
		if !inserted {
			// Lost a race on one of the unique keys; whichever row won
			// is the commission for this payment.
			row, err := s.repo.FindBySequence(ctx, tx, shopID, attribution.ID, req.RebillSequence)
			if err != nil {
				return err
			}
			if row == nil {
				rows, err := s.repo.FindByOrderID(ctx, tx, shopID, orderID)
				if err != nil {
					return err
				}
				if len(rows) > 0 {
					row = rows[0]
				}
			}
			if row == nil {
				return commissiondomain.ErrNotFound
			}
			result.Commission = row
			result.Replayed = true
			return nil
		}
		result.Commission = commission

		if _, err := s.fraudSvc.AutoFlag(ctx, tx, frauddomain.AutoFlagRequest{
			ShopID:       shopID,
			AffiliateID:  attribution.AffiliateID,
			CommissionID: commission.ID,
			RiskScore:    req.RiskScore,
		}); err != nil {
			return err
		}

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
			ShopID:    shopID,
			Type:      events.EventCommissionCreated,
			Payload:   payload.ToMap(),
			DedupeKey: events.EventCommissionCreated + ":" + commission.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		// async metrics (best effort)
		if s.metrics != nil {
			go s.metrics.IncCommissionCreated(shopID.String())
		}
		s.log.Info("commission created",
			zap.String("commission_id", result.Commission.ID.String()),
			zap.String("order_id", orderID),
			zap.Int("rebill_sequence", req.RebillSequence),
			zap.Int64("amount_cents", result.Commission.AmountCents),
		)
	}
	return result, nil
}

func (s *Service) skip(orderID string, sequence int, reason string) *commissiondomain.CreateCommissionResult {
	s.log.Info("commission skipped",
		zap.String("order_id", orderID),
		zap.Int("rebill_sequence", sequence),
		zap.String("reason", reason),
	)
	return &commissiondomain.CreateCommissionResult{Skipped: true, SkipReason: reason}
}

func mainRule(offer *offerdomain.Offer) commissiondomain.Rule {
	rule := commissiondomain.Rule{Kind: offer.CommissionType}
	switch offer.CommissionType {
	case offerdomain.CommissionTypePercentage:
		rule.PercentBps = offer.PercentBps
	default:
		rule.AmountCents = offer.AmountCents
	}
	return rule
}

// rebillRule returns the offer's dedicated rebill terms, falling back to
// the main rule when none were configured.
func rebillRule(offer *offerdomain.Offer) commissiondomain.Rule {
	if offer.RebillType == "" {
		return mainRule(offer)
	}
	rule := commissiondomain.Rule{Kind: offer.RebillType}
	switch offer.RebillType {
	case offerdomain.CommissionTypePercentage:
		rule.PercentBps = offer.RebillPercentBps
	default:
		rule.AmountCents = offer.RebillAmountCents
	}
	return rule
}

// computeAmount applies one closed rule to an order subtotal, rounding
// percentages half-up to the nearest cent.
func computeAmount(rule commissiondomain.Rule, subtotalCents int64) int64 {
	switch rule.Kind {
	case offerdomain.CommissionTypePercentage:
		return roundMoney(float64(subtotalCents) * float64(rule.PercentBps) / 10000)
	default:
		return rule.AmountCents
	}
}

func roundMoney(raw float64) int64 {
	return int64(math.Floor(raw + 0.5))
}

func snapshotOffer(offer *offerdomain.Offer, applied commissiondomain.Rule) commissiondomain.RuleSnapshot {
	snapshot := commissiondomain.RuleSnapshot{
		OfferID:    offer.ID.String(),
		Applied:    applied,
		Policy:     offer.SellingSubscriptions,
		WindowDays: offer.WindowDays,
	}
	if offer.SellingSubscriptions == offerdomain.RebillPolicyCreditFirstOnly {
		snapshot.MaxPayments = offer.SubscriptionMaxPayments
		rebill := rebillRule(offer)
		snapshot.RebillRule = &rebill
	}
	return snapshot
}
