package service

import (
	"context"
	"fmt"
	"io"

	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	payoutdomain "github.com/smallbiznis/partnerly/internal/payout/domain"
	"github.com/smallbiznis/partnerly/internal/providers/pdf"
	shopdomain "github.com/smallbiznis/partnerly/internal/shop/domain"
	"go.uber.org/zap"
)

const statementDateLayout = "Jan 2, 2006"

// Statement implements domain.Service. Only paid runs have statements;
// the affiliate must own at least one member commission.
func (s *Service) Statement(ctx context.Context, req payoutdomain.StatementRequest) (*payoutdomain.RunStatement, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	runID, err := parseID(req.RunID)
	if err != nil {
		return nil, err
	}
	affiliateID, err := parseID(req.AffiliateID)
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
	if run.Status != payoutdomain.RunStatusPaid {
		return nil, payoutdomain.ErrNotPaid
	}

	affiliate, err := s.affiliateRepo.FindByID(ctx, s.db, shopID, affiliateID)
	if err != nil {
		return nil, err
	}
	if affiliate == nil {
		return nil, payoutdomain.ErrMemberNotFound
	}

	shop, err := s.shopRepo.FindByID(ctx, s.db, shopID)
	if err != nil {
		return nil, err
	}
	if shop == nil {
		return nil, payoutdomain.ErrInvalidShop
	}

	memberIDs, err := s.repo.MemberIDs(ctx, s.db, run.ID)
	if err != nil {
		return nil, err
	}
	members, err := s.commissionRepo.FindByIDs(ctx, s.db, shopID, memberIDs)
	if err != nil {
		return nil, err
	}
	mine := make([]*commissiondomain.Commission, 0, len(members))
	for _, member := range members {
		if member.AffiliateID == affiliate.ID {
			mine = append(mine, member)
		}
	}
	if len(mine) == 0 {
		return nil, payoutdomain.ErrMemberNotFound
	}

	reader, err := s.statements.GenerateStatement(ctx, statementData(shop, affiliate, run, mine))
	if err != nil {
		return nil, err
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	s.log.Debug("payout statement rendered",
		zap.String("payout_run_id", run.ID.String()),
		zap.String("affiliate_id", affiliate.ID.String()),
		zap.Int("lines", len(mine)),
	)
	return &payoutdomain.RunStatement{
		FileName: fmt.Sprintf("payout-statement-%s-%d.pdf", run.ID.String(), affiliate.AffiliateNumber),
		Content:  content,
	}, nil
}

func statementData(shop *shopdomain.Shop, affiliate *affiliatedomain.Affiliate, run *payoutdomain.PayoutRun, members []*commissiondomain.Commission) pdf.StatementData {
	var total int64
	lines := make([]pdf.StatementLine, 0, len(members))
	for _, member := range members {
		total += member.AmountCents
		description := member.OrderID
		if member.RebillSequence > 0 {
			description = fmt.Sprintf("%s (rebill %d)", member.OrderID, member.RebillSequence)
		}
		lines = append(lines, pdf.StatementLine{
			Description: description,
			Date:        member.CreatedAt.Format(statementDateLayout),
			Amount:      formatCents(member.AmountCents, member.Currency),
		})
	}

	paidAt := ""
	if run.PaidAt != nil {
		paidAt = run.PaidAt.Format(statementDateLayout)
	}
	method := string(affiliate.PayoutMethod)
	if method == "" {
		method = "manual"
	}

	return pdf.StatementData{
		ShopName:   shop.Name,
		ShopDomain: shop.Domain,

		AffiliateName:   affiliate.Name,
		AffiliateEmail:  affiliate.Email,
		AffiliateNumber: fmt.Sprintf("%d", affiliate.AffiliateNumber),
		PayoutMethod:    method,
		PayoutReference: affiliate.PayoutReference,

		StatementNumber: run.ID.String(),
		PeriodStart:     run.PeriodStart.Format(statementDateLayout),
		PeriodEnd:       run.PeriodEnd.Format(statementDateLayout),
		PaidAt:          paidAt,
		Provider:        run.Provider,
		BatchReference:  run.ExternalBatchID,

		Lines: lines,

		TotalPaid: formatCents(total, run.Currency),
	}
}

func formatCents(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}
