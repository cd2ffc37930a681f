package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/internal/clock"
	overviewdomain "github.com/smallbiznis/partnerly/internal/overview/domain"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultTopAffiliates = 10

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func New(p Params) overviewdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("overview.service"),
		clock: p.Clock,
	}
}

func (s *Service) GetFunnel(ctx context.Context, req overviewdomain.OverviewRequest) (overviewdomain.FunnelResponse, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return overviewdomain.FunnelResponse{}, err
	}

	start, end := normalizeRange(req, s.clock.Now())

	clicks, err := s.countRows(ctx, "clicks", shopID, start, end)
	if err != nil {
		return overviewdomain.FunnelResponse{}, err
	}
	attributions, err := s.countRows(ctx, "order_attributions", shopID, start, end)
	if err != nil {
		return overviewdomain.FunnelResponse{}, err
	}
	commissions, err := s.countRows(ctx, "commissions", shopID, start, end)
	if err != nil {
		return overviewdomain.FunnelResponse{}, err
	}
	series, err := s.listClickSeries(ctx, shopID, start, end)
	if err != nil {
		return overviewdomain.FunnelResponse{}, err
	}

	var conversionRate *float64
	if clicks > 0 {
		rate := float64(attributions) / float64(clicks)
		conversionRate = &rate
	}

	return overviewdomain.FunnelResponse{
		Clicks:         clicks,
		Attributions:   attributions,
		Commissions:    commissions,
		ConversionRate: conversionRate,
		ClickSeries:    series,
		HasData:        clicks > 0 || attributions > 0 || commissions > 0,
	}, nil
}

func (s *Service) GetEarnings(ctx context.Context, req overviewdomain.OverviewRequest) (overviewdomain.EarningsResponse, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return overviewdomain.EarningsResponse{}, err
	}

	start, end := normalizeRange(req, s.clock.Now())
	currency, err := s.loadShopCurrency(ctx, shopID)
	if err != nil {
		return overviewdomain.EarningsResponse{}, err
	}

	byStatus, err := s.listStatusBreakdown(ctx, shopID, currency, start, end)
	if err != nil {
		return overviewdomain.EarningsResponse{}, err
	}
	paidOut, err := s.loadPaidOutTotal(ctx, shopID, currency, start, end)
	if err != nil {
		return overviewdomain.EarningsResponse{}, err
	}

	// Owed = earned and surviving review but not yet settled.
	var owed int64
	var total int64
	for _, row := range byStatus {
		total += row.Count
		switch row.Status {
		case "eligible", "approved":
			owed += row.AmountCents
		}
	}

	return overviewdomain.EarningsResponse{
		Currency:     currency,
		ByStatus:     byStatus,
		OwedCents:    owed,
		PaidOutCents: paidOut,
		HasData:      total > 0 || paidOut > 0,
	}, nil
}

func (s *Service) GetTopAffiliates(ctx context.Context, req overviewdomain.OverviewRequest, limit int) (overviewdomain.TopAffiliatesResponse, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return overviewdomain.TopAffiliatesResponse{}, err
	}
	if limit <= 0 {
		limit = defaultTopAffiliates
	}

	start, end := normalizeRange(req, s.clock.Now())
	currency, err := s.loadShopCurrency(ctx, shopID)
	if err != nil {
		return overviewdomain.TopAffiliatesResponse{}, err
	}

	var rows []standingRow
	if err := s.db.WithContext(ctx).Raw(
		`SELECT
			c.affiliate_id AS affiliate_id,
			a.name AS name,
			COUNT(1) AS commission_count,
			COALESCE(SUM(c.amount_cents), 0) AS earned_cents
		 FROM commissions c
		 JOIN affiliates a ON a.id = c.affiliate_id
		 WHERE c.shop_id = ?
		   AND c.currency = ?
		   AND c.status IN ('approved', 'paid')
		   AND c.created_at >= ?
		   AND c.created_at <= ?
		 GROUP BY c.affiliate_id, a.name
		 ORDER BY earned_cents DESC, c.affiliate_id ASC
		 LIMIT ?`,
		shopID,
		currency,
		start,
		end,
		limit,
	).Scan(&rows).Error; err != nil {
		return overviewdomain.TopAffiliatesResponse{}, err
	}

	affiliates := make([]overviewdomain.AffiliateStanding, 0, len(rows))
	for _, row := range rows {
		affiliates = append(affiliates, overviewdomain.AffiliateStanding{
			AffiliateID:     row.AffiliateID,
			Name:            row.Name,
			CommissionCount: row.CommissionCount,
			EarnedCents:     row.EarnedCents,
		})
	}

	return overviewdomain.TopAffiliatesResponse{
		Currency:   currency,
		Affiliates: affiliates,
		HasData:    len(affiliates) > 0,
	}, nil
}

func (s *Service) countRows(ctx context.Context, table string, shopID snowflake.ID, start, end time.Time) (int64, error) {
	var count int64
	query := fmt.Sprintf(
		`SELECT COUNT(1) FROM %s WHERE shop_id = ? AND created_at >= ? AND created_at <= ?`,
		table,
	)
	if err := s.db.WithContext(ctx).Raw(query, shopID, start, end).Scan(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Service) listClickSeries(ctx context.Context, shopID snowflake.ID, start, end time.Time) ([]overviewdomain.SeriesPoint, error) {
	query := fmt.Sprintf(
		`SELECT %s AS period, COUNT(1) AS value
		 FROM clicks
		 WHERE shop_id = ? AND created_at >= ? AND created_at <= ?
		 GROUP BY 1
		 ORDER BY 1`,
		s.dayBucket("created_at"),
	)

	var rows []seriesRow
	if err := s.db.WithContext(ctx).Raw(query, shopID, start, end).Scan(&rows).Error; err != nil {
		return nil, err
	}

	points := make([]overviewdomain.SeriesPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, overviewdomain.SeriesPoint{Period: row.Period, Value: row.Value})
	}
	return points, nil
}

func (s *Service) listStatusBreakdown(ctx context.Context, shopID snowflake.ID, currency string, start, end time.Time) ([]overviewdomain.StatusBreakdown, error) {
	var rows []breakdownRow
	if err := s.db.WithContext(ctx).Raw(
		`SELECT status, COUNT(1) AS count, COALESCE(SUM(amount_cents), 0) AS amount_cents
		 FROM commissions
		 WHERE shop_id = ? AND currency = ? AND created_at >= ? AND created_at <= ?
		 GROUP BY status
		 ORDER BY status`,
		shopID,
		currency,
		start,
		end,
	).Scan(&rows).Error; err != nil {
		return nil, err
	}

	breakdown := make([]overviewdomain.StatusBreakdown, 0, len(rows))
	for _, row := range rows {
		breakdown = append(breakdown, overviewdomain.StatusBreakdown{
			Status:      row.Status,
			Count:       row.Count,
			AmountCents: row.AmountCents,
		})
	}
	return breakdown, nil
}

func (s *Service) loadPaidOutTotal(ctx context.Context, shopID snowflake.ID, currency string, start, end time.Time) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(total_cents), 0)
		 FROM payout_runs
		 WHERE shop_id = ?
		   AND currency = ?
		   AND status = 'paid'
		   AND paid_at IS NOT NULL
		   AND paid_at >= ?
		   AND paid_at <= ?`,
		shopID,
		currency,
		start,
		end,
	).Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Service) loadShopCurrency(ctx context.Context, shopID snowflake.ID) (string, error) {
	var row struct {
		Currency string `gorm:"column:currency"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT currency FROM shops WHERE id = ? LIMIT 1`,
		shopID,
	).Scan(&row).Error; err != nil {
		return "", err
	}
	currency := strings.ToUpper(strings.TrimSpace(row.Currency))
	if currency == "" {
		currency = "USD"
	}
	return currency, nil
}

// dayBucket renders created_at as a YYYY-MM-DD bucket in the dialect at
// hand. Tests run on sqlite, production on postgres.
func (s *Service) dayBucket(column string) string {
	if strings.EqualFold(s.db.Dialector.Name(), "sqlite") {
		return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", column)
	}
	return fmt.Sprintf("to_char(%s, 'YYYY-MM-DD')", column)
}

func (s *Service) shopIDFromContext(ctx context.Context) (snowflake.ID, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok || shopID == 0 {
		return 0, overviewdomain.ErrInvalidShop
	}
	return snowflake.ID(shopID), nil
}

func normalizeRange(req overviewdomain.OverviewRequest, now time.Time) (time.Time, time.Time) {
	start := req.Start
	end := req.End
	if start.IsZero() || end.IsZero() {
		end = now.UTC()
		start = end.AddDate(0, 0, -30)
	}
	return truncateToDay(start.UTC()), endOfDay(end.UTC())
}

func truncateToDay(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfDay(value time.Time) time.Time {
	return truncateToDay(value).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

type seriesRow struct {
	Period string `gorm:"column:period"`
	Value  int64  `gorm:"column:value"`
}

type breakdownRow struct {
	Status      string `gorm:"column:status"`
	Count       int64  `gorm:"column:count"`
	AmountCents int64  `gorm:"column:amount_cents"`
}

type standingRow struct {
	AffiliateID     snowflake.ID `gorm:"column:affiliate_id"`
	Name            string       `gorm:"column:name"`
	CommissionCount int64        `gorm:"column:commission_count"`
	EarnedCents     int64        `gorm:"column:earned_cents"`
}
