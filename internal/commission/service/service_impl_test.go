package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	affiliaterepo "github.com/smallbiznis/partnerly/internal/affiliate/repository"
	attributiondomain "github.com/smallbiznis/partnerly/internal/attribution/domain"
	attributionrepo "github.com/smallbiznis/partnerly/internal/attribution/repository"
	"github.com/smallbiznis/partnerly/internal/clock"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	"github.com/smallbiznis/partnerly/internal/commission/repository"
	"github.com/smallbiznis/partnerly/internal/config"
	"github.com/smallbiznis/partnerly/internal/events"
	frauddomain "github.com/smallbiznis/partnerly/internal/fraud/domain"
	fraudrepo "github.com/smallbiznis/partnerly/internal/fraud/repository"
	fraudservice "github.com/smallbiznis/partnerly/internal/fraud/service"
	ledgerdomain "github.com/smallbiznis/partnerly/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/partnerly/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/partnerly/internal/ledger/service"
	offerdomain "github.com/smallbiznis/partnerly/internal/offer/domain"
	offerrepo "github.com/smallbiznis/partnerly/internal/offer/repository"
	postbackdomain "github.com/smallbiznis/partnerly/internal/postback/domain"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	svc       commissiondomain.Service
	fraudSvc  frauddomain.Service
	db        *gorm.DB
	node      *snowflake.Node
	shopID    snowflake.ID
	clk       *clock.FakeClock
	postbacks *stubDeliverer
}

// stubDeliverer records deliveries and reports them all as sent.
type stubDeliverer struct {
	delivered []postbackdomain.Delivery
}

func (d *stubDeliverer) DeliverAll(_ context.Context, deliveries []postbackdomain.Delivery) []postbackdomain.Result {
	d.delivered = append(d.delivered, deliveries...)
	results := make([]postbackdomain.Result, 0, len(deliveries))
	for _, delivery := range deliveries {
		results = append(results, postbackdomain.Result{
			CommissionID: delivery.CommissionID,
			Event:        delivery.Event,
			OK:           true,
		})
	}
	return results
}

func setupCommissionService(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	stripForUpdate(db)

	require.NoError(t, db.AutoMigrate(
		&commissiondomain.Commission{},
		&attributiondomain.OrderAttribution{},
		&affiliatedomain.Affiliate{},
		&offerdomain.Offer{},
		&frauddomain.FraudFlag{},
		&ledgerdomain.LedgerEntry{},
		&events.OutboxEvent{},
	))

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	fraudSvc := fraudservice.New(fraudservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Tracking: config.NewStaticTrackingConfigHolder(testTrackingConfig()),
		Repo:     fraudrepo.Provide(),
	})

	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  ledgerrepo.Provide(),
	})

	outbox := events.NewOutbox(events.OutboxParams{DB: db, Log: zap.NewNop(), GenID: node})
	postbacks := &stubDeliverer{}

	svc := New(Params{
		DB:              db,
		Log:             zap.NewNop(),
		GenID:           node,
		Clock:           clk,
		Repo:            repository.Provide(),
		AttributionRepo: attributionrepo.Provide(),
		AffiliateRepo:   affiliaterepo.Provide(),
		OfferRepo:       offerrepo.Provide(),
		FraudSvc:        fraudSvc,
		LedgerSvc:       ledgerSvc,
		Postbacks:       postbacks,
		Outbox:          outbox,
	})

	return &fixture{
		svc:       svc,
		fraudSvc:  fraudSvc,
		db:        db,
		node:      node,
		shopID:    node.Generate(),
		clk:       clk,
		postbacks: postbacks,
	}
}

func testTrackingConfig() config.TrackingConfig {
	return config.TrackingConfig{
		DefaultWindowDays:     30,
		FingerprintEnabled:    true,
		ClickRetentionDays:    180,
		FraudAutoFlagEnabled:  true,
		FraudAutoFlagMinScore: 75,
	}
}

// stripForUpdate removes FOR UPDATE clauses sqlite cannot parse.
func stripForUpdate(db *gorm.DB) {
	strip := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_strip_for_update", strip)
	db.Callback().Row().Before("gorm:row").Register("sqlite_strip_for_update_row", strip)
}

func (f *fixture) ctx() context.Context {
	return shopcontext.WithShopID(context.Background(), int64(f.shopID))
}

func (f *fixture) seedOffer(t *testing.T, offer offerdomain.Offer) snowflake.ID {
	t.Helper()
	offer.ID = f.node.Generate()
	offer.ShopID = f.shopID
	if offer.Name == "" {
		offer.Name = "Standard"
	}
	if offer.Slug == "" {
		offer.Slug = "standard"
	}
	if offer.Status == "" {
		offer.Status = offerdomain.OfferStatusActive
	}
	if offer.Currency == "" {
		offer.Currency = "USD"
	}
	if offer.WindowDays == 0 {
		offer.WindowDays = 30
	}
	offer.CreatedAt = f.clk.Now()
	offer.UpdatedAt = f.clk.Now()
	require.NoError(t, f.db.Create(&offer).Error)
	return offer.ID
}

func (f *fixture) seedAffiliate(t *testing.T, offerID snowflake.ID, payoutTermsDays int) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	affiliate := affiliatedomain.Affiliate{
		ID:              id,
		ShopID:          f.shopID,
		AffiliateNumber: int64(id % 100000),
		Name:            "Partner",
		Slug:            "partner",
		Email:           fmt.Sprintf("partner-%s@example.com", id.String()),
		Status:          affiliatedomain.AffiliateStatusActive,
		OfferID:         offerID,
		PayoutTermsDays: payoutTermsDays,
		Metadata:        datatypes.JSONMap{},
		CreatedAt:       f.clk.Now(),
		UpdatedAt:       f.clk.Now(),
	}
	require.NoError(t, f.db.Create(&affiliate).Error)
	return id
}

func (f *fixture) seedAttribution(t *testing.T, affiliateID snowflake.ID, orderID string, subtotalCents int64) snowflake.ID {
	t.Helper()
	attribution := attributiondomain.OrderAttribution{
		ID:            f.node.Generate(),
		ShopID:        f.shopID,
		OrderID:       orderID,
		AffiliateID:   affiliateID,
		Method:        attributiondomain.MethodLink,
		SubtotalCents: subtotalCents,
		Currency:      "USD",
		CreatedAt:     f.clk.Now(),
	}
	require.NoError(t, f.db.Create(&attribution).Error)
	return attribution.ID
}

// createCommission runs the full calculator path for a flat $10 offer and
// returns the pending commission.
func (f *fixture) createCommission(t *testing.T, orderID string) *commissiondomain.Commission {
	t.Helper()
	offerID := f.seedOffer(t, offerdomain.Offer{
		CommissionType: offerdomain.CommissionTypeFlatRate,
		AmountCents:    1000,
	})
	affiliateID := f.seedAffiliate(t, offerID, 30)
	attributionID := f.seedAttribution(t, affiliateID, orderID, 5000)

	result, err := f.svc.CreateFromAttribution(f.ctx(), commissiondomain.CreateCommissionRequest{
		AttributionID: attributionID,
		OrderID:       orderID,
		SubtotalCents: 5000,
		Currency:      "USD",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Commission)
	require.Equal(t, commissiondomain.StatusPending, result.Commission.Status)
	return result.Commission
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *commissiondomain.Commission {
	t.Helper()
	var commission commissiondomain.Commission
	require.NoError(t, f.db.Where("id = ?", id).First(&commission).Error)
	return &commission
}

func (f *fixture) ledgerEntries(t *testing.T, sourceID snowflake.ID) []ledgerdomain.LedgerEntry {
	t.Helper()
	var entries []ledgerdomain.LedgerEntry
	require.NoError(t, f.db.Where("source_id = ?", sourceID).Order("id asc").Find(&entries).Error)
	return entries
}

func TestBulkValidateMovesPendingToEligible(t *testing.T) {
	f := setupCommissionService(t)
	commission := f.createCommission(t, "order-1")

	result, err := f.svc.BulkValidate(f.ctx(), commissiondomain.BulkTransitionRequest{
		CommissionIDs: []string{commission.ID.String()},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Requested)
	assert.Equal(t, 1, result.Transitioned)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, commissiondomain.StatusEligible, f.reload(t, commission.ID).Status)

	// Replay is a no-op reported as a skip, not an error.
	replay, err := f.svc.BulkValidate(f.ctx(), commissiondomain.BulkTransitionRequest{
		CommissionIDs: []string{commission.ID.String()},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, replay.Transitioned)
	require.Len(t, replay.Skipped, 1)
	assert.Equal(t, "already_eligible", replay.Skipped[0].Reason)
}

func TestBulkApproveWritesLedgerAndDeliversPostback(t *testing.T) {
	f := setupCommissionService(t)
	commission := f.createCommission(t, "order-1")
	ids := []string{commission.ID.String()}

	_, err := f.svc.BulkValidate(f.ctx(), commissiondomain.BulkTransitionRequest{CommissionIDs: ids})
	require.NoError(t, err)

	result, err := f.svc.BulkApprove(f.ctx(), commissiondomain.BulkTransitionRequest{CommissionIDs: ids})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Transitioned)
	assert.Equal(t, commissiondomain.StatusApproved, f.reload(t, commission.ID).Status)

	entries := f.ledgerEntries(t, commission.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, ledgerdomain.EntryCommissionApproved, entries[0].EntryType)
	assert.Equal(t, commission.AmountCents, entries[0].AmountCents)

	require.Len(t, result.Postbacks, 1)
	assert.True(t, result.Postbacks[0].OK)
	assert.Equal(t, postbackdomain.EventApproval, result.Postbacks[0].Event)
	require.Len(t, f.postbacks.delivered, 1)
	assert.Equal(t, "commission_approval:"+commission.ID.String(), f.postbacks.delivered[0].DedupeKey)

	var outboxCount int64
	require.NoError(t, f.db.Model(&events.OutboxEvent{}).
		Where("event_type = ?", events.EventCommissionApproval).
		Count(&outboxCount).Error)
	assert.EqualValues(t, 1, outboxCount)
}

func TestApproveBlockedByUnresolvedFlag(t *testing.T) {
	f := setupCommissionService(t)
	commission := f.createCommission(t, "order-1")
	ids := []string{commission.ID.String()}

	_, err := f.svc.BulkValidate(f.ctx(), commissiondomain.BulkTransitionRequest{CommissionIDs: ids})
	require.NoError(t, err)

	flag, err := f.fraudSvc.FlagCommission(f.ctx(), frauddomain.FlagCommissionRequest{
		CommissionID: commission.ID.String(),
		Reason:       "manual review",
	})
	require.NoError(t, err)

	_, err = f.svc.BulkApprove(f.ctx(), commissiondomain.BulkTransitionRequest{CommissionIDs: ids})
	require.Error(t, err)
	assert.True(t, errors.Is(err, commissiondomain.ErrFraudBlocked))

	var blocked *commissiondomain.FraudBlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, []snowflake.ID{commission.ID}, blocked.CommissionIDs)
	assert.Equal(t, commissiondomain.StatusEligible, f.reload(t, commission.ID).Status)

	_, err = f.fraudSvc.ResolveFlag(f.ctx(), flag.ID.String())
	require.NoError(t, err)

	result, err := f.svc.BulkApprove(f.ctx(), commissiondomain.BulkTransitionRequest{CommissionIDs: ids})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Transitioned)
}

func TestReverseIgnoresFraudGate(t *testing.T) {
	f := setupCommissionService(t)
	commission := f.createCommission(t, "order-1")

	_, err := f.fraudSvc.FlagCommission(f.ctx(), frauddomain.FlagCommissionRequest{
		CommissionID: commission.ID.String(),
		Reason:       "manual review",
	})
	require.NoError(t, err)

	result, err := f.svc.BulkReverse(f.ctx(), commissiondomain.BulkTransitionRequest{
		CommissionIDs: []string{commission.ID.String()},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Transitioned)
	assert.Equal(t, commissiondomain.StatusReversed, f.reload(t, commission.ID).Status)
}

func TestPaidCommissionRefusesReversal(t *testing.T) {
	f := setupCommissionService(t)
	commission := f.createCommission(t, "order-1")
	ids := []string{commission.ID.String()}

	_, err := f.svc.BulkValidate(f.ctx(), commissiondomain.BulkTransitionRequest{CommissionIDs: ids})
	require.NoError(t, err)

	f.clk.Advance(31 * 24 * time.Hour)
	runID := f.node.Generate()
	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.PayForRun(f.ctx(), tx, commissiondomain.PayForRunRequest{
			ShopID:        f.shopID,
			PayoutRunID:   runID,
			CommissionIDs: []snowflake.ID{commission.ID},
		})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, commissiondomain.StatusPaid, f.reload(t, commission.ID).Status)

	result, err := f.svc.BulkReverse(f.ctx(), commissiondomain.BulkTransitionRequest{CommissionIDs: ids})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Transitioned)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, commissiondomain.ErrClawbackRequired.Error(), result.Skipped[0].Reason)
	assert.Equal(t, commissiondomain.StatusPaid, f.reload(t, commission.ID).Status)
}

func TestReverseFromApprovedWritesCompensatingEntry(t *testing.T) {
	f := setupCommissionService(t)
	commission := f.createCommission(t, "order-1")
	ids := []string{commission.ID.String()}

	_, err := f.svc.BulkValidate(f.ctx(), commissiondomain.BulkTransitionRequest{CommissionIDs: ids})
	require.NoError(t, err)
	_, err = f.svc.BulkApprove(f.ctx(), commissiondomain.BulkTransitionRequest{CommissionIDs: ids})
	require.NoError(t, err)
	_, err = f.svc.BulkReverse(f.ctx(), commissiondomain.BulkTransitionRequest{CommissionIDs: ids})
	require.NoError(t, err)

	entries := f.ledgerEntries(t, commission.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, ledgerdomain.EntryCommissionApproved, entries[0].EntryType)
	assert.Equal(t, ledgerdomain.EntryCommissionReversed, entries[1].EntryType)
	assert.Equal(t, int64(0), entries[0].AmountCents+entries[1].AmountCents)
}

func TestReverseFromPendingSkipsLedger(t *testing.T) {
	f := setupCommissionService(t)
	commission := f.createCommission(t, "order-1")

	_, err := f.svc.BulkReverse(f.ctx(), commissiondomain.BulkTransitionRequest{
		CommissionIDs: []string{commission.ID.String()},
	})
	require.NoError(t, err)

	// Nothing was ever credited, so nothing needs debiting.
	assert.Empty(t, f.ledgerEntries(t, commission.ID))
}

func TestBulkTransitionReportsMissingIDs(t *testing.T) {
	f := setupCommissionService(t)
	commission := f.createCommission(t, "order-1")
	missing := f.node.Generate()

	result, err := f.svc.BulkValidate(f.ctx(), commissiondomain.BulkTransitionRequest{
		CommissionIDs: []string{commission.ID.String(), missing.String()},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Requested)
	assert.Equal(t, 1, result.Transitioned)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, missing.String(), result.Skipped[0].CommissionID)
	assert.Equal(t, commissiondomain.ErrNotFound.Error(), result.Skipped[0].Reason)
}

func TestBulkTransitionRejectsEmptySet(t *testing.T) {
	f := setupCommissionService(t)

	_, err := f.svc.BulkValidate(f.ctx(), commissiondomain.BulkTransitionRequest{})
	assert.ErrorIs(t, err, commissiondomain.ErrEmptyIDSet)

	_, err = f.svc.BulkValidate(f.ctx(), commissiondomain.BulkTransitionRequest{CommissionIDs: []string{" ", ""}})
	assert.ErrorIs(t, err, commissiondomain.ErrEmptyIDSet)
}

func TestReverseForOrder(t *testing.T) {
	f := setupCommissionService(t)
	commission := f.createCommission(t, "order-refunded")

	result, err := f.svc.ReverseForOrder(f.ctx(), "order-refunded")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Transitioned)
	assert.Equal(t, commissiondomain.StatusReversed, f.reload(t, commission.ID).Status)

	// Refunds for orders that never earned anything are fine.
	noop, err := f.svc.ReverseForOrder(f.ctx(), "order-unknown")
	require.NoError(t, err)
	assert.Equal(t, 0, noop.Requested)
	assert.Equal(t, 0, noop.Transitioned)
}

func TestPayForRunAllOrNothing(t *testing.T) {
	f := setupCommissionService(t)

	// Same offer, two affiliates with different payout terms so only one
	// clears its hold period.
	offerID := f.seedOffer(t, offerdomain.Offer{
		CommissionType: offerdomain.CommissionTypeFlatRate,
		AmountCents:    1000,
	})
	fastID := f.seedAffiliate(t, offerID, 10)
	slowID := f.seedAffiliate(t, offerID, 30)

	fastAttr := f.seedAttribution(t, fastID, "order-fast", 5000)
	slowAttr := f.seedAttribution(t, slowID, "order-slow", 5000)

	fast, err := f.svc.CreateFromAttribution(f.ctx(), commissiondomain.CreateCommissionRequest{
		AttributionID: fastAttr, OrderID: "order-fast", SubtotalCents: 5000, Currency: "USD",
	})
	require.NoError(t, err)
	slow, err := f.svc.CreateFromAttribution(f.ctx(), commissiondomain.CreateCommissionRequest{
		AttributionID: slowAttr, OrderID: "order-slow", SubtotalCents: 5000, Currency: "USD",
	})
	require.NoError(t, err)

	ids := []string{fast.Commission.ID.String(), slow.Commission.ID.String()}
	_, err = f.svc.BulkValidate(f.ctx(), commissiondomain.BulkTransitionRequest{CommissionIDs: ids})
	require.NoError(t, err)

	f.clk.Advance(11 * 24 * time.Hour)
	runID := f.node.Generate()
	members := []snowflake.ID{fast.Commission.ID, slow.Commission.ID}

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.PayForRun(f.ctx(), tx, commissiondomain.PayForRunRequest{
			ShopID:        f.shopID,
			PayoutRunID:   runID,
			CommissionIDs: members,
		})
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, commissiondomain.ErrNotYetEligible))

	var blocked *commissiondomain.PayBlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, []snowflake.ID{slow.Commission.ID}, blocked.CommissionIDs)

	// The transaction rolled back; neither member moved.
	assert.Equal(t, commissiondomain.StatusEligible, f.reload(t, fast.Commission.ID).Status)
	assert.Equal(t, commissiondomain.StatusEligible, f.reload(t, slow.Commission.ID).Status)

	f.clk.Advance(20 * 24 * time.Hour)
	var paid *commissiondomain.PayForRunResult
	err = f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		paid, err = f.svc.PayForRun(f.ctx(), tx, commissiondomain.PayForRunRequest{
			ShopID:        f.shopID,
			PayoutRunID:   runID,
			CommissionIDs: members,
		})
		return err
	})
	require.NoError(t, err)
	require.Len(t, paid.Paid, 2)
	require.Len(t, paid.Postbacks, 2)

	for _, id := range members {
		row := f.reload(t, id)
		assert.Equal(t, commissiondomain.StatusPaid, row.Status)
		assert.Equal(t, runID, row.PayoutRunID)

		entries := f.ledgerEntries(t, id)
		require.Len(t, entries, 1)
		assert.Equal(t, ledgerdomain.EntryPayoutPaid, entries[0].EntryType)
		assert.Equal(t, -row.AmountCents, entries[0].AmountCents)
	}
}

func TestGetByIDScopedToShop(t *testing.T) {
	f := setupCommissionService(t)
	commission := f.createCommission(t, "order-1")

	found, err := f.svc.GetByID(f.ctx(), commission.ID.String())
	require.NoError(t, err)
	assert.Equal(t, commission.ID, found.ID)

	otherShop := shopcontext.WithShopID(context.Background(), int64(f.node.Generate()))
	_, err = f.svc.GetByID(otherShop, commission.ID.String())
	assert.ErrorIs(t, err, commissiondomain.ErrNotFound)
}

func TestListFiltersByStatus(t *testing.T) {
	f := setupCommissionService(t)
	first := f.createCommission(t, "order-1")
	f.createCommission(t, "order-2")
	f.createCommission(t, "order-3")

	_, err := f.svc.BulkValidate(f.ctx(), commissiondomain.BulkTransitionRequest{
		CommissionIDs: []string{first.ID.String()},
	})
	require.NoError(t, err)

	pending, err := f.svc.List(f.ctx(), commissiondomain.ListCommissionsRequest{Status: "pending"})
	require.NoError(t, err)
	assert.Len(t, pending.Commissions, 2)

	eligible, err := f.svc.List(f.ctx(), commissiondomain.ListCommissionsRequest{Status: "eligible"})
	require.NoError(t, err)
	require.Len(t, eligible.Commissions, 1)
	assert.Equal(t, first.ID, eligible.Commissions[0].ID)

	_, err = f.svc.List(f.ctx(), commissiondomain.ListCommissionsRequest{Status: "bogus"})
	assert.ErrorIs(t, err, commissiondomain.ErrInvalidStatus)
}
