package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/config"
	frauddomain "github.com/smallbiznis/partnerly/internal/fraud/domain"
	"github.com/smallbiznis/partnerly/internal/fraud/repository"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// commissionRow stands in for the commissions table flags are checked
// against.
type commissionRow struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	ShopID      snowflake.ID `gorm:"not null"`
	AffiliateID snowflake.ID `gorm:"not null"`
}

func (commissionRow) TableName() string { return "commissions" }

type affiliateRow struct {
	ID     snowflake.ID `gorm:"primaryKey"`
	ShopID snowflake.ID `gorm:"not null"`
}

func (affiliateRow) TableName() string { return "affiliates" }

type fixture struct {
	svc    frauddomain.Service
	db     *gorm.DB
	node   *snowflake.Node
	shopID snowflake.ID
}

func setupFraudService(t *testing.T, cfg config.TrackingConfig) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	require.NoError(t, db.AutoMigrate(
		&frauddomain.FraudFlag{},
		&commissionRow{},
		&affiliateRow{},
	))

	node, err := snowflake.NewNode(8)
	require.NoError(t, err)

	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.SystemClock{},
		Tracking: config.NewStaticTrackingConfigHolder(cfg),
		Repo:     repository.Provide(),
	})

	return &fixture{svc: svc, db: db, node: node, shopID: node.Generate()}
}

func trackingDefaults() config.TrackingConfig {
	return config.TrackingConfig{
		DefaultWindowDays:  30,
		FingerprintEnabled: true,
		ClickRetentionDays: 365,
	}
}

func (f *fixture) ctx() context.Context {
	return shopcontext.WithShopID(context.Background(), int64(f.shopID))
}

func (f *fixture) seedCommission(t *testing.T, affiliateID snowflake.ID) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	require.NoError(t, f.db.Create(&commissionRow{
		ID:          id,
		ShopID:      f.shopID,
		AffiliateID: affiliateID,
	}).Error)
	return id
}

func (f *fixture) seedAffiliate(t *testing.T) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	require.NoError(t, f.db.Create(&affiliateRow{ID: id, ShopID: f.shopID}).Error)
	return id
}

func TestBlockedReturnsSortedSubset(t *testing.T) {
	f := setupFraudService(t, trackingDefaults())
	affiliateID := f.seedAffiliate(t)

	first := f.seedCommission(t, affiliateID)
	second := f.seedCommission(t, affiliateID)
	clean := f.seedCommission(t, affiliateID)

	for _, commissionID := range []snowflake.ID{second, first, second} {
		_, err := f.svc.FlagCommission(f.ctx(), frauddomain.FlagCommissionRequest{
			CommissionID: commissionID.String(),
			Reason:       "duplicate card",
		})
		require.NoError(t, err)
	}

	blocked, err := f.svc.Blocked(f.ctx(), []snowflake.ID{clean, second, first})
	require.NoError(t, err)
	require.Len(t, blocked, 2)
	assert.Equal(t, first, blocked[0])
	assert.Equal(t, second, blocked[1])
	assert.True(t, blocked[0] < blocked[1])
}

func TestBlockedClearsAfterResolve(t *testing.T) {
	f := setupFraudService(t, trackingDefaults())
	affiliateID := f.seedAffiliate(t)
	commissionID := f.seedCommission(t, affiliateID)

	flag, err := f.svc.FlagCommission(f.ctx(), frauddomain.FlagCommissionRequest{
		CommissionID: commissionID.String(),
		Reason:       "self-referral suspected",
	})
	require.NoError(t, err)
	assert.Equal(t, affiliateID, flag.AffiliateID)
	assert.Equal(t, frauddomain.FlagTypeManual, flag.FlagType)

	blocked, err := f.svc.Blocked(f.ctx(), []snowflake.ID{commissionID})
	require.NoError(t, err)
	require.Len(t, blocked, 1)

	resolved, err := f.svc.ResolveFlag(f.ctx(), flag.ID.String())
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedAt)

	blocked, err = f.svc.Blocked(f.ctx(), []snowflake.ID{commissionID})
	require.NoError(t, err)
	assert.Empty(t, blocked)
}

func TestResolveFlagIdempotent(t *testing.T) {
	f := setupFraudService(t, trackingDefaults())
	affiliateID := f.seedAffiliate(t)
	commissionID := f.seedCommission(t, affiliateID)

	flag, err := f.svc.FlagCommission(f.ctx(), frauddomain.FlagCommissionRequest{
		CommissionID: commissionID.String(),
	})
	require.NoError(t, err)

	first, err := f.svc.ResolveFlag(f.ctx(), flag.ID.String())
	require.NoError(t, err)
	require.NotNil(t, first.ResolvedAt)

	second, err := f.svc.ResolveFlag(f.ctx(), flag.ID.String())
	require.NoError(t, err)
	assert.True(t, second.Resolved)
	assert.Equal(t, first.ResolvedAt.Unix(), second.ResolvedAt.Unix())
}

func TestFlagCommissionUnknownCommission(t *testing.T) {
	f := setupFraudService(t, trackingDefaults())

	_, err := f.svc.FlagCommission(f.ctx(), frauddomain.FlagCommissionRequest{
		CommissionID: f.node.Generate().String(),
	})
	require.ErrorIs(t, err, frauddomain.ErrInvalidCommission)
}

func TestAffiliateLevelFlagDoesNotBlockCommissions(t *testing.T) {
	f := setupFraudService(t, trackingDefaults())
	affiliateID := f.seedAffiliate(t)
	commissionID := f.seedCommission(t, affiliateID)

	flag, err := f.svc.FlagCommission(f.ctx(), frauddomain.FlagCommissionRequest{
		AffiliateID: affiliateID.String(),
		Reason:      "traffic quality review",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 0, flag.CommissionID)

	blocked, err := f.svc.Blocked(f.ctx(), []snowflake.ID{commissionID})
	require.NoError(t, err)
	assert.Empty(t, blocked)
}

func TestAutoFlagThreshold(t *testing.T) {
	cfg := trackingDefaults()
	cfg.FraudAutoFlagEnabled = true
	cfg.FraudAutoFlagMinScore = 75

	f := setupFraudService(t, cfg)
	affiliateID := f.seedAffiliate(t)
	commissionID := f.seedCommission(t, affiliateID)

	below, err := f.svc.AutoFlag(context.Background(), nil, frauddomain.AutoFlagRequest{
		ShopID:       f.shopID,
		AffiliateID:  affiliateID,
		CommissionID: commissionID,
		RiskScore:    74.9,
	})
	require.NoError(t, err)
	assert.Nil(t, below)

	at, err := f.svc.AutoFlag(context.Background(), nil, frauddomain.AutoFlagRequest{
		ShopID:       f.shopID,
		AffiliateID:  affiliateID,
		CommissionID: commissionID,
		RiskScore:    75,
	})
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.Equal(t, frauddomain.FlagTypeRiskScore, at.FlagType)
	assert.False(t, at.Resolved)

	blocked, err := f.svc.Blocked(f.ctx(), []snowflake.ID{commissionID})
	require.NoError(t, err)
	require.Len(t, blocked, 1)
}

func TestAutoFlagDisabled(t *testing.T) {
	f := setupFraudService(t, trackingDefaults())
	affiliateID := f.seedAffiliate(t)
	commissionID := f.seedCommission(t, affiliateID)

	flag, err := f.svc.AutoFlag(context.Background(), nil, frauddomain.AutoFlagRequest{
		ShopID:       f.shopID,
		AffiliateID:  affiliateID,
		CommissionID: commissionID,
		RiskScore:    99,
	})
	require.NoError(t, err)
	assert.Nil(t, flag)
}

func TestListFlagsFilters(t *testing.T) {
	f := setupFraudService(t, trackingDefaults())
	affiliateID := f.seedAffiliate(t)
	commissionID := f.seedCommission(t, affiliateID)

	flag, err := f.svc.FlagCommission(f.ctx(), frauddomain.FlagCommissionRequest{
		CommissionID: commissionID.String(),
	})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = f.svc.FlagCommission(f.ctx(), frauddomain.FlagCommissionRequest{
		AffiliateID: affiliateID.String(),
	})
	require.NoError(t, err)

	_, err = f.svc.ResolveFlag(f.ctx(), flag.ID.String())
	require.NoError(t, err)

	all, err := f.svc.List(f.ctx(), frauddomain.ListFlagsRequest{})
	require.NoError(t, err)
	assert.Len(t, all.Flags, 2)

	unresolved, err := f.svc.List(f.ctx(), frauddomain.ListFlagsRequest{Resolved: "false"})
	require.NoError(t, err)
	require.Len(t, unresolved.Flags, 1)
	assert.EqualValues(t, 0, unresolved.Flags[0].CommissionID)

	byCommission, err := f.svc.List(f.ctx(), frauddomain.ListFlagsRequest{CommissionID: commissionID.String()})
	require.NoError(t, err)
	require.Len(t, byCommission.Flags, 1)
	assert.Equal(t, flag.ID, byCommission.Flags[0].ID)

	_, err = f.svc.List(f.ctx(), frauddomain.ListFlagsRequest{Resolved: "perhaps"})
	require.ErrorIs(t, err, frauddomain.ErrInvalidResolved)
}
