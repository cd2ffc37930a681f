package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	affiliaterepo "github.com/smallbiznis/partnerly/internal/affiliate/repository"
	attributiondomain "github.com/smallbiznis/partnerly/internal/attribution/domain"
	attributionrepo "github.com/smallbiznis/partnerly/internal/attribution/repository"
	clickdomain "github.com/smallbiznis/partnerly/internal/click/domain"
	clickrepo "github.com/smallbiznis/partnerly/internal/click/repository"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/config"
	offerdomain "github.com/smallbiznis/partnerly/internal/offer/domain"
	offerrepo "github.com/smallbiznis/partnerly/internal/offer/repository"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	svc     attributiondomain.Service
	db      *gorm.DB
	node    *snowflake.Node
	shopID  snowflake.ID
	coupons *stubCouponResolver
}

type stubCouponResolver struct {
	coupons map[string]*affiliatedomain.Coupon
}

func (s *stubCouponResolver) ResolveCoupon(_ context.Context, _ snowflake.ID, code string) (*affiliatedomain.Coupon, error) {
	coupon, ok := s.coupons[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, nil
	}
	return coupon, nil
}

func setupResolver(t *testing.T, cfg config.TrackingConfig) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	require.NoError(t, db.AutoMigrate(
		&clickdomain.Click{},
		&affiliatedomain.Affiliate{},
		&offerdomain.Offer{},
		&attributiondomain.OrderAttribution{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	coupons := &stubCouponResolver{coupons: map[string]*affiliatedomain.Coupon{}}
	svc := New(Params{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clock.SystemClock{},
		Tracking:      config.NewStaticTrackingConfigHolder(cfg),
		Repo:          attributionrepo.Provide(),
		ClickRepo:     clickrepo.Provide(),
		AffiliateRepo: affiliaterepo.Provide(),
		OfferRepo:     offerrepo.Provide(),
		Coupons:       coupons,
	})

	return &fixture{
		svc:     svc,
		db:      db,
		node:    node,
		shopID:  node.Generate(),
		coupons: coupons,
	}
}

func defaultTrackingConfig() config.TrackingConfig {
	return config.TrackingConfig{
		DefaultWindowDays:  30,
		FingerprintEnabled: true,
		ClickRetentionDays: 365,
	}
}

func (f *fixture) ctx() context.Context {
	return shopcontext.WithShopID(context.Background(), int64(f.shopID))
}

func (f *fixture) seedOffer(t *testing.T, windowDays int, status offerdomain.OfferStatus) snowflake.ID {
	t.Helper()
	offer := offerdomain.Offer{
		ID:             f.node.Generate(),
		ShopID:         f.shopID,
		Name:           "Standard",
		Slug:           "standard",
		Status:         status,
		CommissionType: offerdomain.CommissionTypeFlatRate,
		AmountCents:    1000,
		Currency:       "USD",
		WindowDays:     windowDays,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, f.db.Create(&offer).Error)
	return offer.ID
}

func (f *fixture) seedAffiliate(t *testing.T, status affiliatedomain.AffiliateStatus, offerID snowflake.ID) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	affiliate := affiliatedomain.Affiliate{
		ID:              id,
		ShopID:          f.shopID,
		AffiliateNumber: int64(id % 100000),
		Name:            "Partner",
		Slug:            "partner",
		Email:           fmt.Sprintf("partner-%s@example.com", id.String()),
		Status:          status,
		OfferID:         offerID,
		PayoutTermsDays: 30,
		Metadata:        datatypes.JSONMap{},
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	require.NoError(t, f.db.Create(&affiliate).Error)
	return id
}

func (f *fixture) seedClick(t *testing.T, affiliateID snowflake.ID, token, ipHash, uaHash string, at time.Time) snowflake.ID {
	t.Helper()
	click := clickdomain.Click{
		ID:          f.node.Generate(),
		ShopID:      f.shopID,
		AffiliateID: affiliateID,
		ClickID:     token,
		LandingURL:  "https://shop.example/landing",
		IPHash:      ipHash,
		UAHash:      uaHash,
		CreatedAt:   at,
	}
	require.NoError(t, f.db.Create(&click).Error)
	return click.ID
}

func orderEvent(orderID string, at time.Time, signals attributiondomain.AttributionSignals) attributiondomain.OrderEvent {
	return attributiondomain.OrderEvent{
		OrderID:       orderID,
		OrderNumber:   "#" + orderID,
		SubtotalCents: 19999,
		Currency:      "usd",
		OccurredAt:    at,
		Signals:       signals,
	}
}

func TestResolveOrderLinkWithinWindow(t *testing.T) {
	f := setupResolver(t, defaultTrackingConfig())
	offerID := f.seedOffer(t, 90, offerdomain.OfferStatusActive)
	affiliateID := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, offerID)

	clickAt := time.Now().UTC().Add(-89 * 24 * time.Hour)
	clickRef := f.seedClick(t, affiliateID, "tok-1", "ip", "ua", clickAt)

	got, err := f.svc.ResolveOrder(f.ctx(), orderEvent("order-1", time.Now().UTC(), attributiondomain.AttributionSignals{
		ClickID: "tok-1",
	}))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, affiliateID, got.AffiliateID)
	assert.Equal(t, attributiondomain.MethodLink, got.Method)
	assert.Equal(t, clickRef, got.ClickRef)
	assert.Equal(t, "USD", got.Currency)
	assert.Equal(t, int64(19999), got.SubtotalCents)
}

func TestResolveOrderClickOutsideWindow(t *testing.T) {
	f := setupResolver(t, defaultTrackingConfig())
	offerID := f.seedOffer(t, 90, offerdomain.OfferStatusActive)
	affiliateID := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, offerID)

	clickAt := time.Now().UTC().Add(-91 * 24 * time.Hour)
	f.seedClick(t, affiliateID, "tok-1", "ip", "ua", clickAt)

	got, err := f.svc.ResolveOrder(f.ctx(), orderEvent("order-1", time.Now().UTC(), attributiondomain.AttributionSignals{
		ClickID: "tok-1",
		IPHash:  "ip",
		UAHash:  "ua",
	}))
	require.NoError(t, err)
	assert.Nil(t, got)

	var count int64
	require.NoError(t, f.db.Model(&attributiondomain.OrderAttribution{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestResolveOrderWindowBoundaryInclusive(t *testing.T) {
	f := setupResolver(t, defaultTrackingConfig())
	offerID := f.seedOffer(t, 90, offerdomain.OfferStatusActive)
	affiliateID := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, offerID)

	orderAt := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	boundary := orderAt.Add(-90 * 24 * time.Hour)

	f.seedClick(t, affiliateID, "exact", "ip", "ua", boundary)
	got, err := f.svc.ResolveOrder(f.ctx(), orderEvent("order-exact", orderAt, attributiondomain.AttributionSignals{
		ClickID: "exact",
	}))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, attributiondomain.MethodLink, got.Method)

	f.seedClick(t, affiliateID, "stale", "ip", "ua", boundary.Add(-time.Second))
	none, err := f.svc.ResolveOrder(f.ctx(), orderEvent("order-stale", orderAt, attributiondomain.AttributionSignals{
		ClickID: "stale",
	}))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestResolveOrderCouponBeatsNewerClick(t *testing.T) {
	f := setupResolver(t, defaultTrackingConfig())
	offerID := f.seedOffer(t, 90, offerdomain.OfferStatusActive)
	couponAffiliate := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, offerID)
	clickAffiliate := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, offerID)

	f.seedClick(t, clickAffiliate, "tok-1", "ip", "ua", time.Now().UTC().Add(-time.Hour))
	f.coupons.coupons["SUMMER20"] = &affiliatedomain.Coupon{
		ID:          f.node.Generate(),
		ShopID:      f.shopID,
		AffiliateID: couponAffiliate,
		Code:        "SUMMER20",
		Active:      true,
	}

	got, err := f.svc.ResolveOrder(f.ctx(), orderEvent("order-1", time.Now().UTC(), attributiondomain.AttributionSignals{
		ClickID: "tok-1",
		Coupon:  "summer20",
	}))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, couponAffiliate, got.AffiliateID)
	assert.Equal(t, attributiondomain.MethodCoupon, got.Method)
	assert.Zero(t, got.ClickRef)
}

func TestResolveOrderUnknownCouponFallsThrough(t *testing.T) {
	f := setupResolver(t, defaultTrackingConfig())
	offerID := f.seedOffer(t, 90, offerdomain.OfferStatusActive)
	affiliateID := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, offerID)

	clickRef := f.seedClick(t, affiliateID, "tok-1", "ip", "ua", time.Now().UTC().Add(-time.Hour))

	got, err := f.svc.ResolveOrder(f.ctx(), orderEvent("order-1", time.Now().UTC(), attributiondomain.AttributionSignals{
		ClickID: "tok-1",
		Coupon:  "NOSUCHCODE",
	}))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, attributiondomain.MethodLink, got.Method)
	assert.Equal(t, clickRef, got.ClickRef)
}

func TestResolveOrderFingerprintLastTouchAcrossAffiliates(t *testing.T) {
	f := setupResolver(t, defaultTrackingConfig())
	offerID := f.seedOffer(t, 90, offerdomain.OfferStatusActive)
	early := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, offerID)
	late := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, offerID)

	now := time.Now().UTC()
	f.seedClick(t, early, "tok-early", "ip", "ua", now.Add(-48*time.Hour))
	lateRef := f.seedClick(t, late, "tok-late", "ip", "ua", now.Add(-time.Hour))

	got, err := f.svc.ResolveOrder(f.ctx(), orderEvent("order-1", now, attributiondomain.AttributionSignals{
		IPHash: "ip",
		UAHash: "ua",
	}))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, late, got.AffiliateID)
	assert.Equal(t, attributiondomain.MethodFingerprint, got.Method)
	assert.Equal(t, lateRef, got.ClickRef)

	var count int64
	require.NoError(t, f.db.Model(&attributiondomain.OrderAttribution{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestResolveOrderFingerprintSkipsIneligibleLatest(t *testing.T) {
	f := setupResolver(t, defaultTrackingConfig())
	wideOffer := f.seedOffer(t, 90, offerdomain.OfferStatusActive)
	narrowOffer := f.seedOffer(t, 1, offerdomain.OfferStatusActive)
	wide := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, wideOffer)
	narrow := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, narrowOffer)

	now := time.Now().UTC()
	wideRef := f.seedClick(t, wide, "tok-wide", "ip", "ua", now.Add(-72*time.Hour))
	// Latest click, but its affiliate's one-day window already lapsed.
	f.seedClick(t, narrow, "tok-narrow", "ip", "ua", now.Add(-48*time.Hour))

	got, err := f.svc.ResolveOrder(f.ctx(), orderEvent("order-1", now, attributiondomain.AttributionSignals{
		IPHash: "ip",
		UAHash: "ua",
	}))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, wide, got.AffiliateID)
	assert.Equal(t, wideRef, got.ClickRef)
}

func TestResolveOrderReplayReturnsFirstAttribution(t *testing.T) {
	f := setupResolver(t, defaultTrackingConfig())
	offerID := f.seedOffer(t, 90, offerdomain.OfferStatusActive)
	affiliateID := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, offerID)
	f.seedClick(t, affiliateID, "tok-1", "ip", "ua", time.Now().UTC().Add(-time.Hour))

	event := orderEvent("order-1", time.Now().UTC(), attributiondomain.AttributionSignals{ClickID: "tok-1"})

	first, err := f.svc.ResolveOrder(f.ctx(), event)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.svc.ResolveOrder(f.ctx(), event)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, f.db.Model(&attributiondomain.OrderAttribution{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestResolveOrderConcurrentDuplicatesConverge(t *testing.T) {
	f := setupResolver(t, defaultTrackingConfig())
	offerID := f.seedOffer(t, 90, offerdomain.OfferStatusActive)
	affiliateID := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, offerID)
	f.seedClick(t, affiliateID, "tok-1", "ip", "ua", time.Now().UTC().Add(-time.Hour))

	event := orderEvent("order-1", time.Now().UTC(), attributiondomain.AttributionSignals{ClickID: "tok-1"})

	const workers = 6
	var wg sync.WaitGroup
	results := make([]*attributiondomain.OrderAttribution, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			got, err := f.svc.ResolveOrder(f.ctx(), event)
			if err == nil {
				results[slot] = got
			}
		}(i)
	}
	wg.Wait()

	var count int64
	require.NoError(t, f.db.Model(&attributiondomain.OrderAttribution{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	for _, got := range results {
		require.NotNil(t, got)
		assert.Equal(t, affiliateID, got.AffiliateID)
	}
}

func TestResolveOrderNoSignalsNoAttribution(t *testing.T) {
	f := setupResolver(t, defaultTrackingConfig())

	got, err := f.svc.ResolveOrder(f.ctx(), orderEvent("order-1", time.Now().UTC(), attributiondomain.AttributionSignals{}))
	require.NoError(t, err)
	assert.Nil(t, got)

	var count int64
	require.NoError(t, f.db.Model(&attributiondomain.OrderAttribution{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestResolveOrderFingerprintDisabled(t *testing.T) {
	cfg := defaultTrackingConfig()
	cfg.FingerprintEnabled = false
	f := setupResolver(t, cfg)

	offerID := f.seedOffer(t, 90, offerdomain.OfferStatusActive)
	affiliateID := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, offerID)
	f.seedClick(t, affiliateID, "tok-1", "ip", "ua", time.Now().UTC().Add(-time.Hour))

	got, err := f.svc.ResolveOrder(f.ctx(), orderEvent("order-1", time.Now().UTC(), attributiondomain.AttributionSignals{
		IPHash: "ip",
		UAHash: "ua",
	}))
	require.NoError(t, err)
	assert.Nil(t, got)

	linked, err := f.svc.ResolveOrder(f.ctx(), orderEvent("order-2", time.Now().UTC(), attributiondomain.AttributionSignals{
		ClickID: "tok-1",
	}))
	require.NoError(t, err)
	require.NotNil(t, linked)
	assert.Equal(t, attributiondomain.MethodLink, linked.Method)
}

func TestResolveOrderIneligibleAffiliates(t *testing.T) {
	f := setupResolver(t, defaultTrackingConfig())
	activeOffer := f.seedOffer(t, 90, offerdomain.OfferStatusActive)
	archivedOffer := f.seedOffer(t, 90, offerdomain.OfferStatusArchived)

	cases := []struct {
		name        string
		affiliateID snowflake.ID
	}{
		{name: "suspended affiliate", affiliateID: f.seedAffiliate(t, affiliatedomain.AffiliateStatusSuspended, activeOffer)},
		{name: "pending affiliate", affiliateID: f.seedAffiliate(t, affiliatedomain.AffiliateStatusPending, activeOffer)},
		{name: "archived offer", affiliateID: f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, archivedOffer)},
		{name: "no offer", affiliateID: f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, 0)},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token := fmt.Sprintf("tok-%d", i)
			f.seedClick(t, tc.affiliateID, token, "ip", "ua", time.Now().UTC().Add(-time.Hour))
			got, err := f.svc.ResolveOrder(f.ctx(), orderEvent(fmt.Sprintf("order-%d", i), time.Now().UTC(), attributiondomain.AttributionSignals{
				ClickID: token,
			}))
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestResolveOrderFutureClickNeverWins(t *testing.T) {
	f := setupResolver(t, defaultTrackingConfig())
	offerID := f.seedOffer(t, 90, offerdomain.OfferStatusActive)
	affiliateID := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, offerID)

	orderAt := time.Now().UTC().Add(-time.Hour)
	f.seedClick(t, affiliateID, "tok-1", "ip", "ua", orderAt.Add(time.Minute))

	got, err := f.svc.ResolveOrder(f.ctx(), orderEvent("order-1", orderAt, attributiondomain.AttributionSignals{
		ClickID: "tok-1",
		IPHash:  "ip",
		UAHash:  "ua",
	}))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolveOrderValidation(t *testing.T) {
	f := setupResolver(t, defaultTrackingConfig())

	_, err := f.svc.ResolveOrder(f.ctx(), attributiondomain.OrderEvent{Currency: "USD"})
	assert.ErrorIs(t, err, attributiondomain.ErrInvalidOrder)

	_, err = f.svc.ResolveOrder(f.ctx(), attributiondomain.OrderEvent{OrderID: "o", SubtotalCents: -1, Currency: "USD"})
	assert.ErrorIs(t, err, attributiondomain.ErrInvalidSubtotal)

	_, err = f.svc.ResolveOrder(f.ctx(), attributiondomain.OrderEvent{OrderID: "o", Currency: "US"})
	assert.ErrorIs(t, err, attributiondomain.ErrInvalidCurrency)

	_, err = f.svc.ResolveOrder(context.Background(), attributiondomain.OrderEvent{OrderID: "o", Currency: "USD"})
	assert.ErrorIs(t, err, attributiondomain.ErrInvalidShop)
}

func TestGetByOrderID(t *testing.T) {
	f := setupResolver(t, defaultTrackingConfig())
	offerID := f.seedOffer(t, 90, offerdomain.OfferStatusActive)
	affiliateID := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, offerID)
	f.seedClick(t, affiliateID, "tok-1", "ip", "ua", time.Now().UTC().Add(-time.Hour))

	created, err := f.svc.ResolveOrder(f.ctx(), orderEvent("order-9", time.Now().UTC(), attributiondomain.AttributionSignals{ClickID: "tok-1"}))
	require.NoError(t, err)
	require.NotNil(t, created)

	got, err := f.svc.GetByOrderID(f.ctx(), "order-9")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = f.svc.GetByOrderID(f.ctx(), "missing")
	assert.ErrorIs(t, err, attributiondomain.ErrNotFound)
}

func TestListAttributionsFilters(t *testing.T) {
	f := setupResolver(t, defaultTrackingConfig())
	offerID := f.seedOffer(t, 90, offerdomain.OfferStatusActive)
	affiliateID := f.seedAffiliate(t, affiliatedomain.AffiliateStatusActive, offerID)
	f.seedClick(t, affiliateID, "tok-1", "ip", "ua", time.Now().UTC().Add(-time.Hour))
	f.coupons.coupons["CODE10"] = &affiliatedomain.Coupon{
		ID:          f.node.Generate(),
		ShopID:      f.shopID,
		AffiliateID: affiliateID,
		Code:        "CODE10",
		Active:      true,
	}

	_, err := f.svc.ResolveOrder(f.ctx(), orderEvent("order-1", time.Now().UTC(), attributiondomain.AttributionSignals{ClickID: "tok-1"}))
	require.NoError(t, err)
	_, err = f.svc.ResolveOrder(f.ctx(), orderEvent("order-2", time.Now().UTC(), attributiondomain.AttributionSignals{Coupon: "CODE10"}))
	require.NoError(t, err)

	coupons, err := f.svc.List(f.ctx(), attributiondomain.ListAttributionRequest{Method: "coupon"})
	require.NoError(t, err)
	require.Len(t, coupons.Attributions, 1)
	assert.Equal(t, "order-2", coupons.Attributions[0].OrderID)

	_, err = f.svc.List(f.ctx(), attributiondomain.ListAttributionRequest{Method: "telepathy"})
	assert.ErrorIs(t, err, attributiondomain.ErrInvalidMethod)

	all, err := f.svc.List(f.ctx(), attributiondomain.ListAttributionRequest{})
	require.NoError(t, err)
	assert.Len(t, all.Attributions, 2)
}
