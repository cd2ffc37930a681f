package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	auditdomain "github.com/smallbiznis/partnerly/internal/audit/domain"
	clickdomain "github.com/smallbiznis/partnerly/internal/click/domain"
	"github.com/smallbiznis/partnerly/internal/clock"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	"github.com/smallbiznis/partnerly/internal/events"
	obsmetrics "github.com/smallbiznis/partnerly/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/partnerly/internal/payout/domain"
	postbackdomain "github.com/smallbiznis/partnerly/internal/postback/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Mocks for dependencies

type mockCommissionSvc struct {
	commissiondomain.Service
	db *gorm.DB
}

// BulkValidate flips pending rows to eligible the way the real service
// does, minus the ledger and rule bookkeeping the scheduler never sees.
func (m *mockCommissionSvc) BulkValidate(ctx context.Context, req commissiondomain.BulkTransitionRequest) (*commissiondomain.BulkTransitionResult, error) {
	ids := make([]int64, 0, len(req.CommissionIDs))
	for _, raw := range req.CommissionIDs {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, int64(id))
	}
	res := m.db.WithContext(ctx).Exec(
		`UPDATE commissions SET status = ? WHERE id IN ? AND status = ?`,
		commissiondomain.StatusEligible, ids, commissiondomain.StatusPending,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	return &commissiondomain.BulkTransitionResult{
		Requested:    len(req.CommissionIDs),
		Transitioned: int(res.RowsAffected),
	}, nil
}

type mockPayoutSvc struct {
	payoutdomain.Service
	polls int
}

func (m *mockPayoutSvc) PollProviderStatuses(ctx context.Context, limit int) (int, error) {
	m.polls++
	return 0, nil
}

type mockClickSvc struct {
	clickdomain.Service
	pruned  int64
	cutoffs []time.Time
}

func (m *mockClickSvc) PruneOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	m.cutoffs = append(m.cutoffs, cutoff)
	pruned := m.pruned
	m.pruned = 0
	return pruned, nil
}

type mockAuditSvc struct{}

func (mockAuditSvc) AuditLog(ctx context.Context, shopID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (mockAuditSvc) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type mockAuthzSvc struct{}

func (mockAuthzSvc) Authorize(ctx context.Context, actor, shopID, object, action string) error {
	return nil
}

type mockDispatcher struct {
	delivered []postbackdomain.Delivery
	failFor   map[string]string
}

func (m *mockDispatcher) Deliver(ctx context.Context, d postbackdomain.Delivery) postbackdomain.Result {
	if msg, ok := m.failFor[d.CommissionID]; ok {
		return postbackdomain.Result{CommissionID: d.CommissionID, Event: d.Event, OK: false, Error: msg}
	}
	m.delivered = append(m.delivered, d)
	return postbackdomain.Result{CommissionID: d.CommissionID, Event: d.Event, OK: true}
}

// TestScheduler_RunOnce_FakeClock_HoldWindow walks a 30-day hold window
// day by day: commissions stay pending until their eligible date, the
// fraud-flagged one stays held past it, and approval events drain to the
// postback dispatcher with failures aging out of delivery attempts.
func TestScheduler_RunOnce_FakeClock_HoldWindow(t *testing.T) {
	// 1. Setup DB
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	// SQLite support hack: remove FOR UPDATE clauses
	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	})
	db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	})

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	// Create tables needed by Scheduler
	if err := db.Exec(`
		CREATE TABLE commissions (
			id INTEGER PRIMARY KEY,
			shop_id INTEGER,
			affiliate_id INTEGER,
			order_id TEXT,
			status TEXT,
			eligible_date DATETIME
		)
	`).Error; err != nil {
		t.Fatalf("create commissions table: %v", err)
	}
	if err := db.Exec(`
		CREATE TABLE fraud_flags (
			id INTEGER PRIMARY KEY,
			shop_id INTEGER,
			affiliate_id INTEGER,
			commission_id INTEGER,
			resolved BOOLEAN
		)
	`).Error; err != nil {
		t.Fatalf("create fraud_flags table: %v", err)
	}
	if err := db.Exec(`
		CREATE TABLE outbox_events (
			id INTEGER PRIMARY KEY,
			shop_id INTEGER,
			event_type TEXT,
			payload TEXT,
			dedupe_key TEXT,
			published BOOLEAN,
			published_at DATETIME,
			attempts INTEGER,
			last_error TEXT,
			created_at DATETIME
		)
	`).Error; err != nil {
		t.Fatalf("create outbox_events table: %v", err)
	}
	if err := db.Exec(`
		CREATE TABLE payout_runs (
			id INTEGER PRIMARY KEY,
			shop_id INTEGER,
			provider TEXT,
			external_batch_id TEXT,
			provider_status TEXT,
			updated_at DATETIME
		)
	`).Error; err != nil {
		t.Fatalf("create payout_runs table: %v", err)
	}

	// 2. Setup Dependencies
	node, err := snowflake.NewNode(19)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	startTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fakeClock := clock.NewFakeClock(startTime)

	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "partnerly", Environment: "test"})

	dispatcher := &mockDispatcher{failFor: map[string]string{}}
	clickSvc := &mockClickSvc{pruned: 3}
	payoutSvc := &mockPayoutSvc{}
	outbox := events.NewOutbox(events.OutboxParams{DB: db, Log: zap.NewNop(), GenID: node})

	sched, err := New(Params{
		DB:            db,
		Log:           zap.NewNop(),
		CommissionSvc: &mockCommissionSvc{db: db},
		PayoutSvc:     payoutSvc,
		ClickSvc:      clickSvc,
		AuditSvc:      mockAuditSvc{},
		AuthzSvc:      mockAuthzSvc{},
		Dispatcher:    dispatcher,
		Outbox:        outbox,
		GenID:         node,
		Clock:         fakeClock,
		Config: Config{
			BatchSize:            10,
			MaxSweepBatchSize:    10,
			MaxDispatchBatchSize: 10,
			MaxPollBatchSize:     10,
			RetentionBatchSize:   100,
			MaxDispatchAttempts:  3,
			StaleThreshold:       24 * time.Hour,
		},
	})
	if err != nil {
		t.Fatalf("New scheduler: %v", err)
	}

	// 3. Seed Initial Data
	// Three commissions on a 30-day hold; the third is under a fraud flag.
	shopID := node.Generate()
	affiliateA := node.Generate()
	affiliateB := node.Generate()
	commissionA := node.Generate()
	commissionB := node.Generate()
	commissionC := node.Generate()
	eligibleAt := startTime.AddDate(0, 0, 30)

	seed := []struct {
		id        snowflake.ID
		affiliate snowflake.ID
		orderID   string
	}{
		{commissionA, affiliateA, "ord_1001"},
		{commissionB, affiliateA, "ord_1002"},
		{commissionC, affiliateB, "ord_1003"},
	}
	for _, row := range seed {
		if err := db.Exec(`
			INSERT INTO commissions (id, shop_id, affiliate_id, order_id, status, eligible_date)
			VALUES (?, ?, ?, ?, ?, ?)
		`, row.id, shopID, row.affiliate, row.orderID, commissiondomain.StatusPending, eligibleAt).Error; err != nil {
			t.Fatalf("seed commission %s: %v", row.orderID, err)
		}
	}
	if err := db.Exec(`
		INSERT INTO fraud_flags (id, shop_id, affiliate_id, commission_id, resolved)
		VALUES (?, ?, ?, ?, ?)
	`, node.Generate(), shopID, affiliateB, commissionC, false).Error; err != nil {
		t.Fatalf("seed fraud flag: %v", err)
	}

	// A payout batch the provider has been sitting on since day one; the
	// stale sweep should keep scanning it without failing the run.
	if err := db.Exec(`
		INSERT INTO payout_runs (id, shop_id, provider, external_batch_id, provider_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, node.Generate(), shopID, "wise", "batch_001", payoutdomain.ProviderStatusSubmitted, startTime).Error; err != nil {
		t.Fatalf("seed payout run: %v", err)
	}

	ctx := context.Background()

	// 4. Day 1: nothing is due yet
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed at start: %v", err)
	}
	if got := countCommissionsByStatus(t, db, commissiondomain.StatusEligible); got != 0 {
		t.Fatalf("expected no eligible commissions on day 1, got %d", got)
	}
	if len(clickSvc.cutoffs) == 0 {
		t.Fatal("expected click retention to run on day 1")
	}
	wantCutoff := startTime.AddDate(0, 0, -180)
	if !clickSvc.cutoffs[0].Equal(wantCutoff) {
		t.Fatalf("expected retention cutoff %v, got %v", wantCutoff, clickSvc.cutoffs[0])
	}

	// 5. Walk the hold window a day at a time
	for fakeClock.Now().Before(eligibleAt) {
		fakeClock.Advance(24 * time.Hour)
		if err := sched.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce failed at %v: %v", fakeClock.Now(), err)
		}
		if fakeClock.Now().Before(eligibleAt) {
			if got := countCommissionsByStatus(t, db, commissiondomain.StatusEligible); got != 0 {
				t.Fatalf("commission left the hold early at %v: %d eligible", fakeClock.Now(), got)
			}
		}
	}

	// 6. The hold has elapsed: A and B moved, the flagged one stayed put
	if got := countCommissionsByStatus(t, db, commissiondomain.StatusEligible); got != 2 {
		t.Fatalf("expected 2 eligible commissions after the hold, got %d", got)
	}
	var statusC string
	if err := db.Raw(`SELECT status FROM commissions WHERE id = ?`, commissionC).Scan(&statusC).Error; err != nil {
		t.Fatalf("fetch flagged commission: %v", err)
	}
	if statusC != string(commissiondomain.StatusPending) {
		t.Fatalf("expected fraud-flagged commission to stay pending, got %s", statusC)
	}
	if payoutSvc.polls == 0 {
		t.Fatal("expected payout poll job to have run")
	}

	// 7. Queue approval events: two deliverable, one the shop endpoint
	// rejects, one with a broken payload.
	failingCommission := node.Generate()
	dispatcher.failFor[failingCommission.String()] = "postback_status_500"

	publish := func(commissionID snowflake.ID, affiliateID snowflake.ID, amountCents int64, orderID string) {
		t.Helper()
		if err := outbox.Publish(ctx, events.Event{
			ShopID: shopID,
			Type:   events.EventCommissionApproval,
			Payload: map[string]any{
				"commission_id": commissionID.String(),
				"affiliate_id":  affiliateID.String(),
				"amount_cents":  amountCents,
				"currency":      "USD",
				"order_id":      orderID,
			},
			DedupeKey: "commission:" + commissionID.String() + ":approval",
		}); err != nil {
			t.Fatalf("publish approval event: %v", err)
		}
	}
	publish(commissionA, affiliateA, 2500, "ord_1001")
	publish(commissionB, affiliateA, 4100, "ord_1002")
	publish(failingCommission, affiliateA, 900, "ord_1004")

	if err := outbox.Publish(ctx, events.Event{
		ShopID:  shopID,
		Type:    events.EventClickRecorded,
		Payload: map[string]any{"click_id": "clk_001"},
	}); err != nil {
		t.Fatalf("publish click event: %v", err)
	}
	if err := outbox.Publish(ctx, events.Event{
		ShopID:  shopID,
		Type:    events.EventCommissionApproval,
		Payload: map[string]any{"affiliate_id": affiliateA.String()},
	}); err != nil {
		t.Fatalf("publish malformed event: %v", err)
	}

	fakeClock.Advance(24 * time.Hour)
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed during dispatch: %v", err)
	}

	// 8. Verify deliveries
	if len(dispatcher.delivered) != 2 {
		t.Fatalf("expected 2 postback deliveries, got %d", len(dispatcher.delivered))
	}
	first := dispatcher.delivered[0]
	if first.CommissionID != commissionA.String() || first.AmountCents != 2500 {
		t.Fatalf("unexpected first delivery: %+v", first)
	}
	if first.Event != postbackdomain.EventApproval {
		t.Fatalf("expected approval event, got %q", first.Event)
	}
	if first.DedupeKey != "commission:"+commissionA.String()+":approval" {
		t.Fatalf("unexpected dedupe key: %q", first.DedupeKey)
	}
	if second := dispatcher.delivered[1]; second.CommissionID != commissionB.String() || second.AmountCents != 4100 {
		t.Fatalf("unexpected second delivery: %+v", second)
	}

	var publishedCount int64
	if err := db.Raw(`SELECT COUNT(1) FROM outbox_events WHERE published = ?`, true).Scan(&publishedCount).Error; err != nil {
		t.Fatalf("count published events: %v", err)
	}
	// Two approvals plus the click event, which needs no postback and is
	// marked published in place.
	if publishedCount != 3 {
		t.Fatalf("expected 3 published events, got %d", publishedCount)
	}

	// The failing and malformed events each got two attempts this run:
	// one on the first pass and one on the drain retry.
	type eventState struct {
		Published bool
		Attempts  int
		LastError *string
	}
	var failing eventState
	if err := db.Raw(
		`SELECT published, attempts, last_error FROM outbox_events WHERE dedupe_key = ?`,
		"commission:"+failingCommission.String()+":approval",
	).Scan(&failing).Error; err != nil {
		t.Fatalf("fetch failing event: %v", err)
	}
	if failing.Published {
		t.Fatal("expected failing event to stay unpublished")
	}
	if failing.Attempts != 2 {
		t.Fatalf("expected 2 attempts on failing event, got %d", failing.Attempts)
	}
	if failing.LastError == nil || *failing.LastError != "postback_status_500" {
		t.Fatalf("expected delivery error recorded, got %v", failing.LastError)
	}

	// 9. One more run exhausts the attempt budget; after that the rows
	// stop being claimed.
	fakeClock.Advance(24 * time.Hour)
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed on retry day: %v", err)
	}
	if err := db.Raw(
		`SELECT published, attempts, last_error FROM outbox_events WHERE dedupe_key = ?`,
		"commission:"+failingCommission.String()+":approval",
	).Scan(&failing).Error; err != nil {
		t.Fatalf("refetch failing event: %v", err)
	}
	if failing.Attempts != 3 {
		t.Fatalf("expected attempts capped at 3, got %d", failing.Attempts)
	}

	fakeClock.Advance(24 * time.Hour)
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed after dead-letter: %v", err)
	}
	if err := db.Raw(
		`SELECT published, attempts, last_error FROM outbox_events WHERE dedupe_key = ?`,
		"commission:"+failingCommission.String()+":approval",
	).Scan(&failing).Error; err != nil {
		t.Fatalf("refetch dead-lettered event: %v", err)
	}
	if failing.Attempts != 3 {
		t.Fatalf("expected dead-lettered event to stop accruing attempts, got %d", failing.Attempts)
	}
	if len(dispatcher.delivered) != 2 {
		t.Fatalf("expected no further deliveries, got %d", len(dispatcher.delivered))
	}
}

func countCommissionsByStatus(t *testing.T, db *gorm.DB, status commissiondomain.CommissionStatus) int64 {
	t.Helper()
	var count int64
	if err := db.Raw(`SELECT COUNT(1) FROM commissions WHERE status = ?`, status).Scan(&count).Error; err != nil {
		t.Fatalf("count commissions: %v", err)
	}
	return count
}
