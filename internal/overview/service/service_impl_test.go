package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	attributiondomain "github.com/smallbiznis/partnerly/internal/attribution/domain"
	clickdomain "github.com/smallbiznis/partnerly/internal/click/domain"
	"github.com/smallbiznis/partnerly/internal/clock"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	offerdomain "github.com/smallbiznis/partnerly/internal/offer/domain"
	overviewdomain "github.com/smallbiznis/partnerly/internal/overview/domain"
	payoutdomain "github.com/smallbiznis/partnerly/internal/payout/domain"
	shopdomain "github.com/smallbiznis/partnerly/internal/shop/domain"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	svc    overviewdomain.Service
	db     *gorm.DB
	node   *snowflake.Node
	shopID snowflake.ID
	clk    *clock.FakeClock
}

func setupOverview(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&shopdomain.Shop{},
		&clickdomain.Click{},
		&attributiondomain.OrderAttribution{},
		&affiliatedomain.Affiliate{},
		&commissiondomain.Commission{},
		&payoutdomain.PayoutRun{},
	))

	node, err := snowflake.NewNode(15)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC))

	svc := New(Params{DB: db, Log: zap.NewNop(), Clock: clk})

	f := &fixture{svc: svc, db: db, node: node, shopID: node.Generate(), clk: clk}

	shop := shopdomain.Shop{
		ID:        f.shopID,
		Name:      "Demo Shop",
		Slug:      "demo-shop",
		Domain:    "demo.example.com",
		Currency:  "USD",
		Status:    shopdomain.ShopStatusActive,
		CreatedAt: clk.Now(),
		UpdatedAt: clk.Now(),
	}
	require.NoError(t, db.Create(&shop).Error)
	return f
}

func (f *fixture) ctx() context.Context {
	return shopcontext.WithShopID(context.Background(), int64(f.shopID))
}

func (f *fixture) seedAffiliate(t *testing.T, name string) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	affiliate := affiliatedomain.Affiliate{
		ID:              id,
		ShopID:          f.shopID,
		AffiliateNumber: int64(id % 100000),
		Name:            name,
		Slug:            name,
		Email:           fmt.Sprintf("%s@example.com", id.String()),
		Status:          affiliatedomain.AffiliateStatusActive,
		OfferID:         f.node.Generate(),
		PayoutTermsDays: 30,
		Metadata:        datatypes.JSONMap{},
		CreatedAt:       f.clk.Now(),
		UpdatedAt:       f.clk.Now(),
	}
	require.NoError(t, f.db.Create(&affiliate).Error)
	return id
}

func (f *fixture) seedClick(t *testing.T, affiliateID snowflake.ID, at time.Time) {
	t.Helper()
	click := clickdomain.Click{
		ID:          f.node.Generate(),
		ShopID:      f.shopID,
		AffiliateID: affiliateID,
		ClickID:     f.node.Generate().String(),
		LandingURL:  "https://demo.example.com/",
		IPHash:      clickdomain.HashSignal("198.51.100.7"),
		UAHash:      clickdomain.HashSignal("agent"),
		CreatedAt:   at,
	}
	require.NoError(t, f.db.Create(&click).Error)
}

func (f *fixture) seedCommission(t *testing.T, affiliateID snowflake.ID, status commissiondomain.CommissionStatus, amountCents int64) {
	t.Helper()
	attribution := attributiondomain.OrderAttribution{
		ID:            f.node.Generate(),
		ShopID:        f.shopID,
		OrderID:       f.node.Generate().String(),
		AffiliateID:   affiliateID,
		Method:        attributiondomain.MethodLink,
		SubtotalCents: amountCents * 10,
		Currency:      "USD",
		CreatedAt:     f.clk.Now(),
	}
	require.NoError(t, f.db.Create(&attribution).Error)

	commission := commissiondomain.Commission{
		ID:                 f.node.Generate(),
		ShopID:             f.shopID,
		AffiliateID:        affiliateID,
		OrderAttributionID: attribution.ID,
		OrderID:            attribution.OrderID,
		Status:             status,
		AmountCents:        amountCents,
		Currency:           "USD",
		EligibleDate:       f.clk.Now(),
		RuleSnapshot: commissiondomain.RuleSnapshot{
			Applied: commissiondomain.Rule{
				Kind:        offerdomain.CommissionTypeFlatRate,
				AmountCents: amountCents,
			},
		},
		CreatedAt: f.clk.Now(),
		UpdatedAt: f.clk.Now(),
	}
	require.NoError(t, f.db.Create(&commission).Error)
}

func TestGetFunnelCountsWindow(t *testing.T) {
	f := setupOverview(t)
	affiliateID := f.seedAffiliate(t, "alpha")

	now := f.clk.Now()
	f.seedClick(t, affiliateID, now.Add(-48*time.Hour))
	f.seedClick(t, affiliateID, now.Add(-48*time.Hour))
	f.seedClick(t, affiliateID, now.Add(-2*time.Hour))
	// Outside the requested window.
	f.seedClick(t, affiliateID, now.AddDate(0, 0, -40))

	f.seedCommission(t, affiliateID, commissiondomain.StatusPending, 500)

	funnel, err := f.svc.GetFunnel(f.ctx(), overviewdomain.OverviewRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, funnel.Clicks)
	assert.EqualValues(t, 1, funnel.Attributions)
	assert.EqualValues(t, 1, funnel.Commissions)
	require.NotNil(t, funnel.ConversionRate)
	assert.InDelta(t, 1.0/3.0, *funnel.ConversionRate, 1e-9)
	assert.True(t, funnel.HasData)

	// Two buckets: the 48h-ago pair and today's click.
	require.Len(t, funnel.ClickSeries, 2)
	assert.EqualValues(t, 2, funnel.ClickSeries[0].Value)
	assert.EqualValues(t, 1, funnel.ClickSeries[1].Value)
}

func TestGetFunnelEmptyShop(t *testing.T) {
	f := setupOverview(t)

	funnel, err := f.svc.GetFunnel(f.ctx(), overviewdomain.OverviewRequest{})
	require.NoError(t, err)
	assert.False(t, funnel.HasData)
	assert.Nil(t, funnel.ConversionRate)
	assert.Empty(t, funnel.ClickSeries)

	_, err = f.svc.GetFunnel(context.Background(), overviewdomain.OverviewRequest{})
	assert.ErrorIs(t, err, overviewdomain.ErrInvalidShop)
}

func TestGetEarningsBreaksDownByStatus(t *testing.T) {
	f := setupOverview(t)
	affiliateID := f.seedAffiliate(t, "alpha")

	f.seedCommission(t, affiliateID, commissiondomain.StatusPending, 100)
	f.seedCommission(t, affiliateID, commissiondomain.StatusEligible, 200)
	f.seedCommission(t, affiliateID, commissiondomain.StatusApproved, 300)
	f.seedCommission(t, affiliateID, commissiondomain.StatusPaid, 400)

	paidAt := f.clk.Now().Add(-time.Hour)
	run := payoutdomain.PayoutRun{
		ID:          f.node.Generate(),
		ShopID:      f.shopID,
		PeriodStart: f.clk.Now().AddDate(0, -1, 0),
		PeriodEnd:   f.clk.Now(),
		Status:      payoutdomain.RunStatusPaid,
		TotalCents:  400,
		Currency:    "USD",
		MemberCount: 1,
		PaidAt:      &paidAt,
		CreatedAt:   f.clk.Now(),
		UpdatedAt:   f.clk.Now(),
	}
	require.NoError(t, f.db.Create(&run).Error)

	earnings, err := f.svc.GetEarnings(f.ctx(), overviewdomain.OverviewRequest{})
	require.NoError(t, err)
	assert.Equal(t, "USD", earnings.Currency)
	assert.EqualValues(t, 500, earnings.OwedCents)
	assert.EqualValues(t, 400, earnings.PaidOutCents)
	assert.True(t, earnings.HasData)

	byStatus := map[string]overviewdomain.StatusBreakdown{}
	for _, row := range earnings.ByStatus {
		byStatus[row.Status] = row
	}
	require.Len(t, byStatus, 4)
	assert.EqualValues(t, 1, byStatus["pending"].Count)
	assert.EqualValues(t, 300, byStatus["approved"].AmountCents)
}

func TestGetTopAffiliatesRanksByEarnings(t *testing.T) {
	f := setupOverview(t)
	alpha := f.seedAffiliate(t, "alpha")
	beta := f.seedAffiliate(t, "beta")

	f.seedCommission(t, alpha, commissiondomain.StatusApproved, 100)
	f.seedCommission(t, beta, commissiondomain.StatusApproved, 300)
	f.seedCommission(t, beta, commissiondomain.StatusPaid, 200)
	// Pending money does not rank.
	f.seedCommission(t, alpha, commissiondomain.StatusPending, 9000)

	top, err := f.svc.GetTopAffiliates(f.ctx(), overviewdomain.OverviewRequest{}, 0)
	require.NoError(t, err)
	require.Len(t, top.Affiliates, 2)
	assert.Equal(t, beta, top.Affiliates[0].AffiliateID)
	assert.Equal(t, "beta", top.Affiliates[0].Name)
	assert.EqualValues(t, 500, top.Affiliates[0].EarnedCents)
	assert.EqualValues(t, 2, top.Affiliates[0].CommissionCount)
	assert.Equal(t, alpha, top.Affiliates[1].AffiliateID)

	limited, err := f.svc.GetTopAffiliates(f.ctx(), overviewdomain.OverviewRequest{}, 1)
	require.NoError(t, err)
	require.Len(t, limited.Affiliates, 1)
	assert.Equal(t, beta, limited.Affiliates[0].AffiliateID)
}
