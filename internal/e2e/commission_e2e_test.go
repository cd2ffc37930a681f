package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	attributiondomain "github.com/smallbiznis/partnerly/internal/attribution/domain"
	clickdomain "github.com/smallbiznis/partnerly/internal/click/domain"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	frauddomain "github.com/smallbiznis/partnerly/internal/fraud/domain"
	ledgerdomain "github.com/smallbiznis/partnerly/internal/ledger/domain"
	overviewdomain "github.com/smallbiznis/partnerly/internal/overview/domain"
	payoutdomain "github.com/smallbiznis/partnerly/internal/payout/domain"
)

func TestE2E_ClickToCommissionLifecycle(t *testing.T) {
	resetDatabase(t, env.db)

	fixture := createShopFixture(t)
	offer := createOffer(t, fixture, map[string]any{
		"name":            "Standard 20%",
		"commission_type": "percentage",
		"percent_bps":     2000,
		"currency":        "USD",
		"window_days":     30,
	})
	partner := createActiveAffiliate(t, fixture, offer.ID.String())
	secret := createAPIKey(t, fixture)

	clickToken := "clk-" + testSuffix()
	first := trackClick(t, secret.APIKey, map[string]any{
		"affiliate_id": partner.ID.String(),
		"click_id":     clickToken,
		"landing_url":  "https://shop.example.com/landing",
		"ip_hash":      clickdomain.HashSignal("198.51.100.7"),
		"ua_hash":      clickdomain.HashSignal("Mozilla/5.0 e2e"),
	}, http.StatusCreated)
	if first.Click == nil || first.Deduplicated {
		t.Fatalf("expected a fresh click row, got %+v", first)
	}

	replayedClick := trackClick(t, secret.APIKey, map[string]any{
		"affiliate_id": partner.ID.String(),
		"click_id":     clickToken,
		"landing_url":  "https://shop.example.com/landing",
	}, http.StatusOK)
	if !replayedClick.Deduplicated || replayedClick.Click.ID != first.Click.ID {
		t.Fatalf("expected the original click back on redelivery, got %+v", replayedClick)
	}

	orderID := "ord-" + testSuffix()
	result := postOrder(t, secret.APIKey, map[string]any{
		"order_id":       orderID,
		"order_number":   "1001",
		"subtotal_cents": 10000,
		"currency":       "USD",
		"attribution_signals": map[string]any{
			"click_id": clickToken,
		},
	}, http.StatusCreated)
	if result.Attribution == nil || result.Attribution.Method != attributiondomain.MethodLink {
		t.Fatalf("expected link attribution, got %+v", result.Attribution)
	}
	if result.Attribution.ClickRef != first.Click.ID {
		t.Fatalf("expected the winning click recorded on the attribution")
	}
	if result.Commission == nil || result.Commission.AmountCents != 2000 {
		t.Fatalf("expected 20%% of 10000, got %+v", result.Commission)
	}
	if result.Commission.Status != commissiondomain.StatusPending || result.Commission.RebillSequence != 0 {
		t.Fatalf("expected a pending first-payment commission, got %+v", result.Commission)
	}

	replayed := postOrder(t, secret.APIKey, map[string]any{
		"order_id":       orderID,
		"order_number":   "1001",
		"subtotal_cents": 10000,
		"currency":       "USD",
		"attribution_signals": map[string]any{
			"click_id": clickToken,
		},
	}, http.StatusOK)
	if !replayed.Replayed || replayed.Commission == nil || replayed.Commission.ID != result.Commission.ID {
		t.Fatalf("expected the stored commission back on redelivery, got %+v", replayed)
	}
	if countRows(t, env.db, "commissions", "shop_id = ?", mustParseID(t, fixture.ShopID)) != 1 {
		t.Fatalf("expected exactly one commission row after replay")
	}

	matureAndSweep(t, fixture.ShopID)

	eligible := listCommissions(t, fixture, "status=eligible")
	if len(eligible.Commissions) != 1 || eligible.Commissions[0].ID != result.Commission.ID {
		t.Fatalf("expected the commission eligible after the sweep, got %+v", eligible.Commissions)
	}

	resp, body := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/admin/v1/commissions/approve", map[string]any{
		"commission_ids": []string{result.Commission.ID.String()},
	}, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve failed: %d: %s", resp.StatusCode, string(body))
	}
	approved := commissiondomain.BulkTransitionResult{}
	if err := json.Unmarshal(body, &approved); err != nil {
		t.Fatalf("decode approve result: %v", err)
	}
	if approved.Requested != 1 || approved.Transitioned != 1 {
		t.Fatalf("expected one approval, got %+v", approved)
	}

	if countRows(t, env.db, "ledger_entries", "shop_id = ? AND affiliate_id = ? AND entry_type = ?",
		mustParseID(t, fixture.ShopID), partner.ID, ledgerdomain.EntryCommissionApproved) != 1 {
		t.Fatalf("expected one approval posting in the ledger")
	}
	balance := affiliateBalance(t, fixture, partner.ID.String())
	if balance.BalanceCents != 2000 || balance.ApprovedCents != 2000 {
		t.Fatalf("unexpected balance after approval: %+v", balance)
	}

	// A second pass over a settled book must not move or post anything.
	if err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("scheduler run: %v", err)
	}
	if countRows(t, env.db, "commissions", "shop_id = ? AND status = ?",
		mustParseID(t, fixture.ShopID), commissiondomain.StatusApproved) != 1 {
		t.Fatalf("expected the approved commission untouched by the sweep")
	}
	if countRows(t, env.db, "ledger_entries", "shop_id = ?", mustParseID(t, fixture.ShopID)) != 1 {
		t.Fatalf("expected no duplicate ledger postings")
	}
}

func TestE2E_UnattributedOrderLeavesNoTrace(t *testing.T) {
	resetDatabase(t, env.db)

	fixture := createShopFixture(t)
	offer := createOffer(t, fixture, map[string]any{
		"name":            "Standard 20%",
		"commission_type": "percentage",
		"percent_bps":     2000,
		"currency":        "USD",
		"window_days":     30,
	})
	createActiveAffiliate(t, fixture, offer.ID.String())
	secret := createAPIKey(t, fixture)

	result := postOrder(t, secret.APIKey, map[string]any{
		"order_id":       "ord-" + testSuffix(),
		"subtotal_cents": 10000,
		"currency":       "USD",
	}, http.StatusOK)
	if result.Attribution != nil || result.Commission != nil {
		t.Fatalf("expected no attribution for a signal-less order, got %+v", result)
	}

	shopID := mustParseID(t, fixture.ShopID)
	if countRows(t, env.db, "order_attributions", "shop_id = ?", shopID) != 0 {
		t.Fatalf("expected no attribution rows")
	}
	if countRows(t, env.db, "commissions", "shop_id = ?", shopID) != 0 {
		t.Fatalf("expected no commission rows")
	}
}

func TestE2E_CouponAttribution(t *testing.T) {
	resetDatabase(t, env.db)

	fixture := createShopFixture(t)
	offer := createOffer(t, fixture, map[string]any{
		"name":            "Flat five",
		"commission_type": "flat_rate",
		"amount_cents":    500,
		"currency":        "USD",
		"window_days":     30,
	})
	partner := createActiveAffiliate(t, fixture, offer.ID.String())
	secret := createAPIKey(t, fixture)

	resp, body := doJSON(t, newHTTPClient(), http.MethodPost,
		env.baseURL+"/admin/v1/affiliates/"+partner.ID.String()+"/coupons",
		map[string]any{"code": "summer20"}, fixture.Headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("assign coupon failed: %d: %s", resp.StatusCode, string(body))
	}
	coupon := affiliatedomain.Coupon{}
	if err := json.Unmarshal(body, &coupon); err != nil {
		t.Fatalf("decode coupon: %v", err)
	}
	if coupon.Code != "SUMMER20" || !coupon.Active {
		t.Fatalf("expected the code stored uppercase and active, got %+v", coupon)
	}

	result := postOrder(t, secret.APIKey, map[string]any{
		"order_id":       "ord-" + testSuffix(),
		"subtotal_cents": 8000,
		"currency":       "USD",
		"attribution_signals": map[string]any{
			"coupon": "Summer20",
		},
	}, http.StatusCreated)
	if result.Attribution == nil || result.Attribution.Method != attributiondomain.MethodCoupon {
		t.Fatalf("expected coupon attribution, got %+v", result.Attribution)
	}
	if result.Attribution.ClickRef != 0 {
		t.Fatalf("expected no click evidence on a coupon win")
	}
	if result.Commission == nil || result.Commission.AmountCents != 500 {
		t.Fatalf("expected the flat rate regardless of subtotal, got %+v", result.Commission)
	}

	listing := struct {
		Coupons []affiliatedomain.Coupon `json:"coupons"`
	}{}
	resp, body = doJSON(t, newHTTPClient(), http.MethodGet,
		env.baseURL+"/admin/v1/affiliates/"+partner.ID.String()+"/coupons", nil, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list coupons failed: %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		t.Fatalf("decode coupons: %v", err)
	}
	if len(listing.Coupons) != 1 || listing.Coupons[0].ID != coupon.ID {
		t.Fatalf("expected the assigned coupon in the listing, got %+v", listing.Coupons)
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodPost,
		env.baseURL+"/admin/v1/coupons/"+coupon.ID.String()+"/deactivate", nil, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deactivate coupon failed: %d: %s", resp.StatusCode, string(body))
	}
	deactivated := affiliatedomain.Coupon{}
	if err := json.Unmarshal(body, &deactivated); err != nil {
		t.Fatalf("decode coupon: %v", err)
	}
	if deactivated.Active {
		t.Fatalf("expected the coupon inactive")
	}

	afterwards := postOrder(t, secret.APIKey, map[string]any{
		"order_id":       "ord-" + testSuffix(),
		"subtotal_cents": 8000,
		"currency":       "USD",
		"attribution_signals": map[string]any{
			"coupon": "SUMMER20",
		},
	}, http.StatusOK)
	if afterwards.Attribution != nil {
		t.Fatalf("expected no attribution from a deactivated coupon, got %+v", afterwards.Attribution)
	}
}

func TestE2E_FingerprintAttribution(t *testing.T) {
	resetDatabase(t, env.db)

	fixture := createShopFixture(t)
	offer := createOffer(t, fixture, map[string]any{
		"name":            "Referral 10%",
		"commission_type": "percentage",
		"percent_bps":     1000,
		"currency":        "USD",
		"window_days":     30,
	})
	partner := createActiveAffiliate(t, fixture, offer.ID.String())
	secret := createAPIKey(t, fixture)

	ipHash := clickdomain.HashSignal("203.0.113.9")
	uaHash := clickdomain.HashSignal("Mozilla/5.0 fingerprint")
	tracked := trackClick(t, secret.APIKey, map[string]any{
		"affiliate_id": partner.ID.String(),
		"landing_url":  "https://shop.example.com/landing",
		"ip_hash":      ipHash,
		"ua_hash":      uaHash,
	}, http.StatusCreated)

	result := postOrder(t, secret.APIKey, map[string]any{
		"order_id":       "ord-" + testSuffix(),
		"subtotal_cents": 10000,
		"currency":       "USD",
		"attribution_signals": map[string]any{
			"ip_hash": ipHash,
			"ua_hash": uaHash,
		},
	}, http.StatusCreated)
	if result.Attribution == nil || result.Attribution.Method != attributiondomain.MethodFingerprint {
		t.Fatalf("expected fingerprint attribution, got %+v", result.Attribution)
	}
	if result.Attribution.ClickRef != tracked.Click.ID {
		t.Fatalf("expected the fingerprinted click as evidence")
	}
	if result.Commission == nil || result.Commission.AmountCents != 1000 {
		t.Fatalf("expected 10%% of 10000, got %+v", result.Commission)
	}

	// Half a fingerprint is no fingerprint.
	partial := postOrder(t, secret.APIKey, map[string]any{
		"order_id":       "ord-" + testSuffix(),
		"subtotal_cents": 10000,
		"currency":       "USD",
		"attribution_signals": map[string]any{
			"ip_hash": ipHash,
		},
	}, http.StatusOK)
	if partial.Attribution != nil {
		t.Fatalf("expected no match on ip hash alone, got %+v", partial.Attribution)
	}
}

func TestE2E_RefundReversesCommission(t *testing.T) {
	resetDatabase(t, env.db)

	fixture := createShopFixture(t)
	offer := createOffer(t, fixture, map[string]any{
		"name":            "Flat five",
		"commission_type": "flat_rate",
		"amount_cents":    500,
		"currency":        "USD",
		"window_days":     30,
	})
	partner := createActiveAffiliate(t, fixture, offer.ID.String())
	secret := createAPIKey(t, fixture)

	clickToken := "clk-" + testSuffix()
	trackClick(t, secret.APIKey, map[string]any{
		"affiliate_id": partner.ID.String(),
		"click_id":     clickToken,
		"landing_url":  "https://shop.example.com/landing",
	}, http.StatusCreated)

	orderID := "ord-" + testSuffix()
	result := postOrder(t, secret.APIKey, map[string]any{
		"order_id":       orderID,
		"subtotal_cents": 6000,
		"currency":       "USD",
		"attribution_signals": map[string]any{
			"click_id": clickToken,
		},
	}, http.StatusCreated)

	matureAndSweep(t, fixture.ShopID)
	resp, body := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/admin/v1/commissions/approve", map[string]any{
		"commission_ids": []string{result.Commission.ID.String()},
	}, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve failed: %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/v1/events/refunds", map[string]any{
		"order_id": orderID,
	}, map[string]string{"Authorization": "Bearer " + secret.APIKey})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refund failed: %d: %s", resp.StatusCode, string(body))
	}
	reversed := commissiondomain.BulkTransitionResult{}
	if err := json.Unmarshal(body, &reversed); err != nil {
		t.Fatalf("decode refund result: %v", err)
	}
	if reversed.Requested != 1 || reversed.Transitioned != 1 {
		t.Fatalf("expected one reversal, got %+v", reversed)
	}

	after := listCommissions(t, fixture, "status=reversed")
	if len(after.Commissions) != 1 || after.Commissions[0].ID != result.Commission.ID {
		t.Fatalf("expected the commission reversed, got %+v", after.Commissions)
	}
	if countRows(t, env.db, "ledger_entries", "shop_id = ? AND entry_type = ?",
		mustParseID(t, fixture.ShopID), ledgerdomain.EntryCommissionReversed) != 1 {
		t.Fatalf("expected one reversal posting")
	}
	balance := affiliateBalance(t, fixture, partner.ID.String())
	if balance.BalanceCents != 0 || balance.ApprovedCents != 500 || balance.ReversedCents != 500 {
		t.Fatalf("expected the approval cancelled out, got %+v", balance)
	}

	// Refunds for orders this system never attributed are a zero-count
	// success, not an error.
	resp, body = doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/v1/events/refunds", map[string]any{
		"order_id": "ord-unknown-" + testSuffix(),
	}, map[string]string{"Authorization": "Bearer " + secret.APIKey})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unknown-order refund failed: %d: %s", resp.StatusCode, string(body))
	}
	unknown := commissiondomain.BulkTransitionResult{}
	if err := json.Unmarshal(body, &unknown); err != nil {
		t.Fatalf("decode refund result: %v", err)
	}
	if unknown.Requested != 0 || unknown.Transitioned != 0 {
		t.Fatalf("expected a zero-count result, got %+v", unknown)
	}
}

func TestE2E_FraudFlagBlocksPromotion(t *testing.T) {
	resetDatabase(t, env.db)

	fixture := createShopFixture(t)
	offer := createOffer(t, fixture, map[string]any{
		"name":            "Referral 15%",
		"commission_type": "percentage",
		"percent_bps":     1500,
		"currency":        "USD",
		"window_days":     30,
	})
	partner := createActiveAffiliate(t, fixture, offer.ID.String())
	secret := createAPIKey(t, fixture)

	clickToken := "clk-" + testSuffix()
	trackClick(t, secret.APIKey, map[string]any{
		"affiliate_id": partner.ID.String(),
		"click_id":     clickToken,
		"landing_url":  "https://shop.example.com/landing",
	}, http.StatusCreated)
	result := postOrder(t, secret.APIKey, map[string]any{
		"order_id":       "ord-" + testSuffix(),
		"subtotal_cents": 10000,
		"currency":       "USD",
		"attribution_signals": map[string]any{
			"click_id": clickToken,
		},
	}, http.StatusCreated)
	commissionID := result.Commission.ID.String()

	resp, body := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/admin/v1/fraud-flags", map[string]any{
		"commission_id": commissionID,
		"flag_type":     "manual",
		"reason":        "velocity spike",
	}, fixture.Headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("flag failed: %d: %s", resp.StatusCode, string(body))
	}
	flag := frauddomain.FraudFlag{}
	if err := json.Unmarshal(body, &flag); err != nil {
		t.Fatalf("decode flag: %v", err)
	}
	if flag.ID == 0 || flag.Resolved || flag.CommissionID != result.Commission.ID {
		t.Fatalf("unexpected flag payload: %+v", flag)
	}

	// The sweep must leave the flagged commission behind.
	matureAndSweep(t, fixture.ShopID)
	pending := listCommissions(t, fixture, "status=pending")
	if len(pending.Commissions) != 1 {
		t.Fatalf("expected the flagged commission still pending, got %+v", pending.Commissions)
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/admin/v1/commissions/validate", map[string]any{
		"commission_ids": []string{commissionID},
	}, fixture.Headers)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status 409 for a flagged commission, got %d: %s", resp.StatusCode, string(body))
	}
	envelope := errorEnvelope{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Type != "fraud_blocked" {
		t.Fatalf("expected fraud_blocked error type, got %q", envelope.Error.Type)
	}
	if len(envelope.Error.Errors) != 1 || envelope.Error.Errors[0].Code != "fraud_blocked" ||
		envelope.Error.Errors[0].Message != commissionID {
		t.Fatalf("expected the blocking commission named, got %+v", envelope.Error.Errors)
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodPost,
		env.baseURL+"/admin/v1/fraud-flags/"+flag.ID.String()+"/resolve", nil, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve failed: %d: %s", resp.StatusCode, string(body))
	}
	resolved := frauddomain.FraudFlag{}
	if err := json.Unmarshal(body, &resolved); err != nil {
		t.Fatalf("decode flag: %v", err)
	}
	if !resolved.Resolved {
		t.Fatalf("expected the flag resolved")
	}

	if err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("scheduler run: %v", err)
	}
	eligible := listCommissions(t, fixture, "status=eligible")
	if len(eligible.Commissions) != 1 {
		t.Fatalf("expected the commission promoted once the flag cleared, got %+v", eligible.Commissions)
	}
}

func TestE2E_PayoutRunLifecycle(t *testing.T) {
	resetDatabase(t, env.db)

	fixture := createShopFixture(t)
	offer := createOffer(t, fixture, map[string]any{
		"name":            "Standard 20%",
		"commission_type": "percentage",
		"percent_bps":     2000,
		"currency":        "USD",
		"window_days":     30,
	})
	partner := createActiveAffiliate(t, fixture, offer.ID.String())
	secret := createAPIKey(t, fixture)

	commissionIDs := make([]string, 0, 2)
	for _, subtotal := range []int64{10000, 25000} {
		clickToken := "clk-" + testSuffix()
		trackClick(t, secret.APIKey, map[string]any{
			"affiliate_id": partner.ID.String(),
			"click_id":     clickToken,
			"landing_url":  "https://shop.example.com/landing",
		}, http.StatusCreated)
		result := postOrder(t, secret.APIKey, map[string]any{
			"order_id":       "ord-" + testSuffix(),
			"subtotal_cents": subtotal,
			"currency":       "USD",
			"attribution_signals": map[string]any{
				"click_id": clickToken,
			},
		}, http.StatusCreated)
		commissionIDs = append(commissionIDs, result.Commission.ID.String())
	}

	matureAndSweep(t, fixture.ShopID)
	resp, body := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/admin/v1/commissions/approve", map[string]any{
		"commission_ids": commissionIDs,
	}, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve failed: %d: %s", resp.StatusCode, string(body))
	}

	periodEnd := time.Now().UTC()
	periodStart := periodEnd.AddDate(0, -1, 0)
	resp, body = doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/admin/v1/payout-runs", map[string]any{
		"commission_ids": commissionIDs,
		"period_start":   periodStart,
		"period_end":     periodEnd,
	}, fixture.Headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create run failed: %d: %s", resp.StatusCode, string(body))
	}
	run := payoutdomain.PayoutRun{}
	if err := json.Unmarshal(body, &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.Status != payoutdomain.RunStatusDraft || run.TotalCents != 7000 || run.MemberCount != 2 || run.Currency != "USD" {
		t.Fatalf("unexpected draft run: %+v", run)
	}
	if countRows(t, env.db, "payout_run_commissions", "payout_run_id = ?", run.ID) != 2 {
		t.Fatalf("expected both commissions joined to the run")
	}
	// Drafts reserve members through the join table; the commissions
	// themselves are stamped only when money moves.
	if countRows(t, env.db, "commissions", "payout_run_id = ?", run.ID) != 0 {
		t.Fatalf("expected commissions unstamped while the run is draft")
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/admin/v1/payout-runs", map[string]any{
		"commission_ids": commissionIDs,
		"period_start":   periodStart,
		"period_end":     periodEnd,
	}, fixture.Headers)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status 409 for joined members, got %d: %s", resp.StatusCode, string(body))
	}
	envelope := errorEnvelope{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Type != "conflict" || len(envelope.Error.Errors) != 2 {
		t.Fatalf("expected both members reported, got %+v", envelope.Error)
	}
	for _, detail := range envelope.Error.Errors {
		if detail.Code != "member_already_in_run" {
			t.Fatalf("expected member_already_in_run, got %q", detail.Code)
		}
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodPost,
		env.baseURL+"/admin/v1/payout-runs/"+run.ID.String()+"/approve", map[string]any{
			"external_batch_id": "wire-2026-08",
		}, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve run failed: %d: %s", resp.StatusCode, string(body))
	}
	approved := payoutdomain.RunResult{}
	if err := json.Unmarshal(body, &approved); err != nil {
		t.Fatalf("decode run result: %v", err)
	}
	if approved.Run == nil || approved.Run.Status != payoutdomain.RunStatusPaid || approved.Run.PaidAt == nil {
		t.Fatalf("expected the run settled, got %+v", approved.Run)
	}
	if approved.Run.ExternalBatchID != "wire-2026-08" || approved.Run.Provider != "manual" {
		t.Fatalf("expected the settlement reference recorded, got %+v", approved.Run)
	}

	shopID := mustParseID(t, fixture.ShopID)
	if countRows(t, env.db, "commissions", "payout_run_id = ? AND status = ?",
		run.ID, commissiondomain.StatusPaid) != 2 {
		t.Fatalf("expected both members paid and stamped")
	}
	if countRows(t, env.db, "ledger_entries", "shop_id = ? AND entry_type = ?",
		shopID, ledgerdomain.EntryPayoutPaid) != 2 {
		t.Fatalf("expected one payout posting per member")
	}
	balance := affiliateBalance(t, fixture, partner.ID.String())
	if balance.BalanceCents != 0 || balance.ApprovedCents != 7000 || balance.PaidCents != 7000 {
		t.Fatalf("expected the payout to zero the balance, got %+v", balance)
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodPost,
		env.baseURL+"/admin/v1/payout-runs/"+run.ID.String()+"/approve", map[string]any{}, fixture.Headers)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status 409 re-approving a paid run, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodGet,
		env.baseURL+"/admin/v1/payout-runs/"+run.ID.String(), nil, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get run failed: %d: %s", resp.StatusCode, string(body))
	}
	detail := payoutdomain.RunDetail{}
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatalf("decode run detail: %v", err)
	}
	if detail.Run == nil || detail.Run.Status != payoutdomain.RunStatusPaid || len(detail.Members) != 2 {
		t.Fatalf("expected the paid run with both members, got %+v", detail)
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodGet,
		env.baseURL+"/admin/v1/payout-runs/"+run.ID.String()+"/statements/"+partner.ID.String(), nil, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("statement failed: %d: %s", resp.StatusCode, string(body))
	}
	if got := resp.Header.Get("Content-Type"); !strings.Contains(got, "application/pdf") {
		t.Fatalf("expected a pdf statement, got %q", got)
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "attachment") {
		t.Fatalf("expected an attachment disposition")
	}
	if !strings.HasPrefix(string(body), "%PDF") {
		t.Fatalf("expected pdf content, got %q", string(body[:min(len(body), 16)]))
	}

	if countRows(t, env.db, "audit_logs", "shop_id = ? AND action = ?", shopID, "payout_run.create") == 0 {
		t.Fatalf("expected the run creation audited")
	}
	if countRows(t, env.db, "audit_logs", "shop_id = ? AND action = ?", shopID, "payout_run.approved") == 0 {
		t.Fatalf("expected the run approval audited")
	}
}

func TestE2E_SubscriptionRebills(t *testing.T) {
	resetDatabase(t, env.db)

	fixture := createShopFixture(t)
	offer := createOffer(t, fixture, map[string]any{
		"name":                      "Subscription plan",
		"commission_type":           "percentage",
		"percent_bps":               1000,
		"currency":                  "USD",
		"window_days":               30,
		"selling_subscriptions":     "credit_first_only",
		"subscription_max_payments": 2,
		"rebill_type":               "flat_rate",
		"rebill_amount_cents":       300,
	})
	partner := createActiveAffiliate(t, fixture, offer.ID.String())
	secret := createAPIKey(t, fixture)

	clickToken := "clk-" + testSuffix()
	trackClick(t, secret.APIKey, map[string]any{
		"affiliate_id": partner.ID.String(),
		"click_id":     clickToken,
		"landing_url":  "https://shop.example.com/landing",
	}, http.StatusCreated)

	subscriptionEvent := func(orderID string) map[string]any {
		return map[string]any{
			"order_id":        orderID,
			"subtotal_cents":  10000,
			"currency":        "USD",
			"customer_ref":    "cust-42",
			"is_subscription": true,
			"selling_plan_id": "plan-basic",
		}
	}

	opening := subscriptionEvent("sub-1-" + testSuffix())
	opening["attribution_signals"] = map[string]any{"click_id": clickToken}
	first := postOrder(t, secret.APIKey, opening, http.StatusCreated)
	if first.Rebill || first.Commission == nil || first.Commission.AmountCents != 1000 {
		t.Fatalf("expected the opening payment on the main rule, got %+v", first)
	}

	secondID := "sub-2-" + testSuffix()
	second := postOrder(t, secret.APIKey, subscriptionEvent(secondID), http.StatusCreated)
	if !second.Rebill || second.RebillSequence != 1 || second.Commission == nil || second.Commission.AmountCents != 300 {
		t.Fatalf("expected the first rebill on the rebill rule, got %+v", second)
	}

	third := postOrder(t, secret.APIKey, subscriptionEvent("sub-3-"+testSuffix()), http.StatusCreated)
	if !third.Rebill || third.RebillSequence != 2 || third.Commission == nil || third.Commission.AmountCents != 300 {
		t.Fatalf("expected the second rebill credited, got %+v", third)
	}

	fourth := postOrder(t, secret.APIKey, subscriptionEvent("sub-4-"+testSuffix()), http.StatusOK)
	if !fourth.Skipped || fourth.SkipReason != "max_payments_reached" {
		t.Fatalf("expected the cap to stop the third rebill, got %+v", fourth)
	}

	replayed := postOrder(t, secret.APIKey, subscriptionEvent(secondID), http.StatusOK)
	if !replayed.Replayed || replayed.Commission == nil || replayed.Commission.ID != second.Commission.ID {
		t.Fatalf("expected the stored rebill back on redelivery, got %+v", replayed)
	}

	resp, body := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/v1/events/cancellations", map[string]any{
		"customer_ref":    "cust-42",
		"selling_plan_id": "plan-basic",
	}, map[string]string{"Authorization": "Bearer " + secret.APIKey})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancellation failed: %d: %s", resp.StatusCode, string(body))
	}

	// With the lineage gone the next charge is just an order without
	// signals, and it earns nothing.
	afterCancel := postOrder(t, secret.APIKey, subscriptionEvent("sub-5-"+testSuffix()), http.StatusOK)
	if afterCancel.Attribution != nil || afterCancel.Commission != nil {
		t.Fatalf("expected no credit after cancellation, got %+v", afterCancel)
	}

	if countRows(t, env.db, "commissions", "shop_id = ?", mustParseID(t, fixture.ShopID)) != 3 {
		t.Fatalf("expected the opening payment plus two rebills")
	}
}

func TestE2E_OverviewReports(t *testing.T) {
	resetDatabase(t, env.db)

	fixture := createShopFixture(t)
	offer := createOffer(t, fixture, map[string]any{
		"name":            "Standard 20%",
		"commission_type": "percentage",
		"percent_bps":     2000,
		"currency":        "USD",
		"window_days":     30,
	})
	partner := createActiveAffiliate(t, fixture, offer.ID.String())
	secret := createAPIKey(t, fixture)

	clickToken := "clk-" + testSuffix()
	trackClick(t, secret.APIKey, map[string]any{
		"affiliate_id": partner.ID.String(),
		"click_id":     clickToken,
		"landing_url":  "https://shop.example.com/landing",
	}, http.StatusCreated)
	trackClick(t, secret.APIKey, map[string]any{
		"affiliate_id": partner.ID.String(),
		"click_id":     "clk-" + testSuffix(),
		"landing_url":  "https://shop.example.com/landing",
	}, http.StatusCreated)

	result := postOrder(t, secret.APIKey, map[string]any{
		"order_id":       "ord-" + testSuffix(),
		"subtotal_cents": 10000,
		"currency":       "USD",
		"attribution_signals": map[string]any{
			"click_id": clickToken,
		},
	}, http.StatusCreated)

	matureAndSweep(t, fixture.ShopID)
	resp, body := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/admin/v1/commissions/approve", map[string]any{
		"commission_ids": []string{result.Commission.ID.String()},
	}, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve failed: %d: %s", resp.StatusCode, string(body))
	}

	funnel := overviewdomain.FunnelResponse{}
	resp, body = doJSON(t, newHTTPClient(), http.MethodGet, env.baseURL+"/admin/v1/overview/funnel", nil, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("funnel failed: %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &funnel); err != nil {
		t.Fatalf("decode funnel: %v", err)
	}
	if funnel.Clicks != 2 || funnel.Attributions != 1 || funnel.Commissions != 1 || !funnel.HasData {
		t.Fatalf("unexpected funnel: %+v", funnel)
	}
	if funnel.ConversionRate == nil || *funnel.ConversionRate <= 0 {
		t.Fatalf("expected a conversion rate with clicks present")
	}
	if len(funnel.ClickSeries) == 0 {
		t.Fatalf("expected a click series")
	}

	earnings := overviewdomain.EarningsResponse{}
	resp, body = doJSON(t, newHTTPClient(), http.MethodGet, env.baseURL+"/admin/v1/overview/earnings", nil, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("earnings failed: %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &earnings); err != nil {
		t.Fatalf("decode earnings: %v", err)
	}
	if earnings.Currency != "USD" || earnings.OwedCents != 2000 || !earnings.HasData {
		t.Fatalf("unexpected earnings: %+v", earnings)
	}
	foundApproved := false
	for _, row := range earnings.ByStatus {
		if row.Status == string(commissiondomain.StatusApproved) {
			foundApproved = true
			if row.Count != 1 || row.AmountCents != 2000 {
				t.Fatalf("unexpected approved bucket: %+v", row)
			}
		}
	}
	if !foundApproved {
		t.Fatalf("expected an approved bucket in %+v", earnings.ByStatus)
	}

	top := overviewdomain.TopAffiliatesResponse{}
	resp, body = doJSON(t, newHTTPClient(), http.MethodGet, env.baseURL+"/admin/v1/overview/top-affiliates", nil, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("top affiliates failed: %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &top); err != nil {
		t.Fatalf("decode top affiliates: %v", err)
	}
	if len(top.Affiliates) != 1 {
		t.Fatalf("expected one standing, got %+v", top.Affiliates)
	}
	standing := top.Affiliates[0]
	if standing.AffiliateID != partner.ID || standing.CommissionCount != 1 || standing.EarnedCents != 2000 {
		t.Fatalf("unexpected standing: %+v", standing)
	}

	reporting := createAPIKey(t, fixture)
	tracker := struct {
		Funnel   overviewdomain.FunnelResponse   `json:"funnel"`
		Earnings overviewdomain.EarningsResponse `json:"earnings"`
	}{}
	resp, body = doJSON(t, newHTTPClient(), http.MethodGet, env.baseURL+"/v1/reports/overview", nil, map[string]string{
		"Authorization": "Bearer " + reporting.APIKey,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tracker overview failed: %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &tracker); err != nil {
		t.Fatalf("decode tracker overview: %v", err)
	}
	if tracker.Funnel.Clicks != 2 || tracker.Earnings.OwedCents != 2000 {
		t.Fatalf("expected the tracker surface to mirror the admin one, got %+v", tracker)
	}
}

func affiliateBalance(t *testing.T, fixture *shopFixture, affiliateID string) ledgerdomain.BalanceResponse {
	t.Helper()

	resp, body := doJSON(t, newHTTPClient(), http.MethodGet,
		env.baseURL+"/admin/v1/affiliates/"+affiliateID+"/balance", nil, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balance failed: %d: %s", resp.StatusCode, string(body))
	}
	out := ledgerdomain.BalanceResponse{}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	return out
}
