package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/partnerly/internal/affiliate"
	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	"github.com/smallbiznis/partnerly/internal/apikey"
	apikeydomain "github.com/smallbiznis/partnerly/internal/apikey/domain"
	"github.com/smallbiznis/partnerly/internal/attribution"
	"github.com/smallbiznis/partnerly/internal/audit"
	"github.com/smallbiznis/partnerly/internal/authorization"
	"github.com/smallbiznis/partnerly/internal/cache"
	"github.com/smallbiznis/partnerly/internal/click"
	clickdomain "github.com/smallbiznis/partnerly/internal/click/domain"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/cloudmetrics"
	"github.com/smallbiznis/partnerly/internal/commission"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	"github.com/smallbiznis/partnerly/internal/config"
	"github.com/smallbiznis/partnerly/internal/conversion"
	conversiondomain "github.com/smallbiznis/partnerly/internal/conversion/domain"
	"github.com/smallbiznis/partnerly/internal/events"
	"github.com/smallbiznis/partnerly/internal/fraud"
	"github.com/smallbiznis/partnerly/internal/ledger"
	"github.com/smallbiznis/partnerly/internal/migration"
	"github.com/smallbiznis/partnerly/internal/observability"
	"github.com/smallbiznis/partnerly/internal/offer"
	offerdomain "github.com/smallbiznis/partnerly/internal/offer/domain"
	"github.com/smallbiznis/partnerly/internal/overview"
	"github.com/smallbiznis/partnerly/internal/payout"
	"github.com/smallbiznis/partnerly/internal/postback"
	"github.com/smallbiznis/partnerly/internal/providers"
	"github.com/smallbiznis/partnerly/internal/ratelimit"
	"github.com/smallbiznis/partnerly/internal/reference"
	"github.com/smallbiznis/partnerly/internal/scheduler"
	schedulertesting "github.com/smallbiznis/partnerly/internal/scheduler/testing"
	"github.com/smallbiznis/partnerly/internal/server"
	"github.com/smallbiznis/partnerly/internal/shop"
	shopdomain "github.com/smallbiznis/partnerly/internal/shop/domain"
	"github.com/smallbiznis/partnerly/internal/subscription"
	"github.com/smallbiznis/partnerly/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type testEnv struct {
	app       *fx.App
	server    *server.Server
	db        *gorm.DB
	baseURL   string
	scheduler *scheduler.Scheduler
	httpSrv   *httptest.Server
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		// The suite needs a reachable postgres; without one there is
		// nothing meaningful to run.
		fmt.Fprintln(os.Stderr, "skipping end-to-end tests:", err)
		os.Exit(0)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resetDatabase(t, env.db)

	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_ShopBootstrap(t *testing.T) {
	resetDatabase(t, env.db)

	fixture := createShopFixture(t)

	if countRows(t, env.db, "shop_members", "shop_id = ? AND user_id = ? AND role = ?",
		mustParseID(t, fixture.ShopID), fixture.OwnerID, shopdomain.RoleOwner) != 1 {
		t.Fatalf("expected creator enrolled as owner")
	}

	resp, body := doJSON(t, newHTTPClient(), http.MethodGet, env.baseURL+"/admin/v1/shop", nil, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for shop, got %d: %s", resp.StatusCode, string(body))
	}
	got := shopdomain.ShopResponse{}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode shop: %v", err)
	}
	if got.ID != fixture.ShopID || got.Currency != "USD" {
		t.Fatalf("unexpected shop payload: %+v", got)
	}

	listing := struct {
		Shops []shopdomain.ShopResponse `json:"shops"`
	}{}
	resp, body = doJSON(t, newHTTPClient(), http.MethodGet, env.baseURL+"/admin/v1/shops", nil, map[string]string{
		"X-User-ID": fixture.OwnerID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for shops, got %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		t.Fatalf("decode shops: %v", err)
	}
	if len(listing.Shops) != 1 || listing.Shops[0].ID != fixture.ShopID {
		t.Fatalf("expected the created shop in the listing, got %+v", listing.Shops)
	}

	if countRows(t, env.db, "audit_logs", "shop_id = ? AND action = ?",
		mustParseID(t, fixture.ShopID), "shop.created") == 0 {
		t.Fatalf("expected shop.created audit entry")
	}
}

func TestE2E_APIKeyAuthentication(t *testing.T) {
	resetDatabase(t, env.db)

	fixture := createShopFixture(t)
	created := createOffer(t, fixture, map[string]any{
		"name":            "Standard 20%",
		"commission_type": "percentage",
		"percent_bps":     2000,
		"currency":        "USD",
		"window_days":     30,
	})
	partner := createActiveAffiliate(t, fixture, created.ID.String())

	secret := createAPIKey(t, fixture)
	clickReq := map[string]any{
		"affiliate_id": partner.ID.String(),
		"click_id":     "clk-" + testSuffix(),
		"landing_url":  "https://shop.example.com/landing",
		"ip_hash":      clickdomain.HashSignal("198.51.100.7"),
		"ua_hash":      clickdomain.HashSignal("Mozilla/5.0 e2e"),
	}
	trackClick(t, secret.APIKey, clickReq, http.StatusCreated)

	resp, body := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/v1/clicks", clickReq, map[string]string{
		"Authorization": "Bearer pk_live_not_a_key",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for unknown key, got %d: %s", resp.StatusCode, string(body))
	}

	reporting := createAPIKey(t, fixture, apikeydomain.ScopeReportsRead)
	resp, body = doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/v1/clicks", clickReq, map[string]string{
		"Authorization": "Bearer " + reporting.APIKey,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected status 403 for reports-only key, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodGet, env.baseURL+"/v1/reports/overview", nil, map[string]string{
		"Authorization": "Bearer " + reporting.APIKey,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for tracker overview, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_APIKeyRotationAndRevocation(t *testing.T) {
	resetDatabase(t, env.db)

	fixture := createShopFixture(t)
	created := createOffer(t, fixture, map[string]any{
		"name":            "Flat five",
		"commission_type": "flat_rate",
		"amount_cents":    500,
		"currency":        "USD",
		"window_days":     30,
	})
	partner := createActiveAffiliate(t, fixture, created.ID.String())
	clickFor := func(apiKey string) int {
		resp, _ := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/v1/clicks", map[string]any{
			"affiliate_id": partner.ID.String(),
			"click_id":     "clk-" + testSuffix(),
			"landing_url":  "https://shop.example.com/landing",
		}, map[string]string{"Authorization": "Bearer " + apiKey})
		return resp.StatusCode
	}

	original := createAPIKey(t, fixture, apikeydomain.ScopeClicksWrite)
	if got := clickFor(original.APIKey); got != http.StatusCreated {
		t.Fatalf("expected status 201 for fresh key, got %d", got)
	}

	resp, body := doJSON(t, newHTTPClient(), http.MethodPost,
		env.baseURL+"/admin/v1/api-keys/"+original.KeyID+"/rotate", map[string]any{}, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotate failed: %d: %s", resp.StatusCode, string(body))
	}
	rotated := apikeydomain.SecretResponse{}
	if err := json.Unmarshal(body, &rotated); err != nil {
		t.Fatalf("decode rotated key: %v", err)
	}
	if rotated.APIKey == "" || rotated.APIKey == original.APIKey || rotated.KeyID == original.KeyID {
		t.Fatalf("expected a fresh secret and key id from rotation")
	}

	// The retired key stays valid through the rotation grace window so
	// callers can swap credentials without dropping events.
	if got := clickFor(original.APIKey); got != http.StatusCreated {
		t.Fatalf("expected status 201 for key in grace window, got %d", got)
	}
	if got := clickFor(rotated.APIKey); got != http.StatusCreated {
		t.Fatalf("expected status 201 for rotated key, got %d", got)
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodPost,
		env.baseURL+"/admin/v1/api-keys/"+original.KeyID+"/revoke", nil, fixture.Headers)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke failed: %d: %s", resp.StatusCode, string(body))
	}
	if got := clickFor(original.APIKey); got != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for revoked key, got %d", got)
	}
	if got := clickFor(rotated.APIKey); got != http.StatusCreated {
		t.Fatalf("expected rotated key unaffected by revoking the old one, got %d", got)
	}

	keys := []apikeydomain.Response{}
	resp, body = doJSON(t, newHTTPClient(), http.MethodGet, env.baseURL+"/admin/v1/api-keys", nil, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list keys failed: %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &keys); err != nil {
		t.Fatalf("decode keys: %v", err)
	}
	for _, key := range keys {
		if key.KeyID == original.KeyID && key.IsActive {
			t.Fatalf("expected revoked key inactive in listing")
		}
	}
}

func TestE2E_RoleEnforcement(t *testing.T) {
	resetDatabase(t, env.db)

	fixture := createShopFixture(t)
	offerReq := map[string]any{
		"name":            "Referral 10%",
		"commission_type": "percentage",
		"percent_bps":     1000,
		"currency":        "USD",
		"window_days":     30,
	}
	createOffer(t, fixture, offerReq)

	analystID := "analyst-" + testSuffix()
	resp, body := doJSON(t, newHTTPClient(), http.MethodPut, env.baseURL+"/admin/v1/shop/members", map[string]any{
		"user_id": analystID,
		"role":    shopdomain.RoleAnalyst,
	}, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add analyst failed: %d: %s", resp.StatusCode, string(body))
	}

	analystHeaders := adminHeaders(analystID, fixture.ShopID)
	resp, body = doJSON(t, newHTTPClient(), http.MethodGet, env.baseURL+"/admin/v1/offers", nil, analystHeaders)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected analyst to read offers, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/admin/v1/offers", offerReq, analystHeaders)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected status 403 for analyst creating offers, got %d: %s", resp.StatusCode, string(body))
	}
	envelope := errorEnvelope{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Type != "forbidden" {
		t.Fatalf("expected forbidden error type, got %q", envelope.Error.Type)
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/admin/v1/api-keys", map[string]any{
		"name":   "analyst key",
		"scopes": []string{apikeydomain.ScopeReportsRead},
	}, analystHeaders)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected status 403 for analyst creating keys, got %d: %s", resp.StatusCode, string(body))
	}

	managerID := "manager-" + testSuffix()
	resp, body = doJSON(t, newHTTPClient(), http.MethodPut, env.baseURL+"/admin/v1/shop/members", map[string]any{
		"user_id": managerID,
		"role":    shopdomain.RoleAdmin,
	}, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add admin member failed: %d: %s", resp.StatusCode, string(body))
	}

	managerHeaders := adminHeaders(managerID, fixture.ShopID)
	resp, body = doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/admin/v1/api-keys", map[string]any{
		"name":   "ingest key",
		"scopes": []string{apikeydomain.ScopeClicksWrite},
	}, managerHeaders)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected admin member to create keys, got %d: %s", resp.StatusCode, string(body))
	}
	secret := apikeydomain.SecretResponse{}
	if err := json.Unmarshal(body, &secret); err != nil {
		t.Fatalf("decode key: %v", err)
	}

	// Revocation is reserved for owners.
	resp, body = doJSON(t, newHTTPClient(), http.MethodPost,
		env.baseURL+"/admin/v1/api-keys/"+secret.KeyID+"/revoke", nil, managerHeaders)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected status 403 for admin revoking keys, got %d: %s", resp.StatusCode, string(body))
	}
	resp, body = doJSON(t, newHTTPClient(), http.MethodPost,
		env.baseURL+"/admin/v1/api-keys/"+secret.KeyID+"/revoke", nil, fixture.Headers)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected owner to revoke keys, got %d: %s", resp.StatusCode, string(body))
	}

	strangerHeaders := adminHeaders("stranger-"+testSuffix(), fixture.ShopID)
	resp, body = doJSON(t, newHTTPClient(), http.MethodGet, env.baseURL+"/admin/v1/offers", nil, strangerHeaders)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected status 403 for non-member, got %d: %s", resp.StatusCode, string(body))
	}

	if countRows(t, env.db, "audit_logs", "shop_id = ? AND action = ?",
		mustParseID(t, fixture.ShopID), "authorization.denied") == 0 {
		t.Fatalf("expected denied attempts audited")
	}
}

func startEnv() (*testEnv, error) {
	var (
		srv         *server.Server
		dbConn      *gorm.DB
		cfg         config.Config
		schedulerSv *scheduler.Scheduler
	)

	app := fx.New(
		config.Module,
		cloudmetrics.Module,
		observability.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		db.Module,
		clock.Module,

		authorization.Module,
		audit.Module,
		events.Module,
		apikey.Module,
		shop.Module,
		offer.Module,
		cache.Module,
		affiliate.Module,
		click.Module,
		attribution.Module,
		subscription.Module,
		fraud.Module,
		ledger.Module,
		postback.Module,
		commission.Module,
		conversion.Module,
		providers.Module,
		payout.Module,
		overview.Module,
		ratelimit.Module,
		reference.Module,
		migration.Module,

		// Providing the constructor instead of scheduler.Module keeps the
		// ticker loop out; tests drive sweeps through RunOnce.
		fx.Provide(scheduler.New),
		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) {
			s.RegisterTrackerRoutes()
			s.RegisterAdminRoutes()
		}),
		fx.Populate(&srv, &dbConn, &cfg, &schedulerSv),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	if strings.ToLower(strings.TrimSpace(cfg.DBType)) != "postgres" {
		app.Stop(context.Background())
		return nil, fmt.Errorf("expected postgres db, got %s", cfg.DBType)
	}

	httpSrv := httptest.NewServer(srv.Engine())

	return &testEnv{
		app:       app,
		server:    srv,
		db:        dbConn,
		baseURL:   httpSrv.URL,
		scheduler: schedulerSv,
		httpSrv:   httpSrv,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("APP_MODE", "oss")
	setEnvIfEmpty("LOG_LEVEL", "error")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	if err := truncateAllTables(dbConn); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func truncateAllTables(dbConn *gorm.DB) error {
	type tableRow struct {
		Name string `gorm:"column:tablename"`
	}
	var rows []tableRow
	// casbin_rule survives the reset: the role policies are seeded once
	// at enforcer construction, while member groupings are re-ensured on
	// every authorized request.
	if err := dbConn.Raw(
		`SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename NOT IN ('schema_migrations', 'casbin_rule')`,
	).Scan(&rows).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tables := make([]string, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row.Name) == "" {
			continue
		}
		tables = append(tables, `"`+row.Name+`"`)
	}
	if len(tables) == 0 {
		return nil
	}

	stmt := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", "))
	return dbConn.Exec(stmt).Error
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Errors  []struct {
			Field   string `json:"field"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

type shopFixture struct {
	ShopID  string
	OwnerID string
	Headers map[string]string
}

func adminHeaders(userID, shopID string) map[string]string {
	return map[string]string{
		"X-User-ID": userID,
		"X-Shop-ID": shopID,
	}
}

func createShopFixture(t *testing.T) *shopFixture {
	t.Helper()

	ownerID := "owner-" + testSuffix()
	resp, body := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/admin/v1/shops", map[string]any{
		"name":     "Shop " + ownerID,
		"currency": "USD",
	}, map[string]string{"X-User-ID": ownerID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create shop failed: %d: %s", resp.StatusCode, string(body))
	}

	created := shopdomain.ShopResponse{}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode shop: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected shop id in response")
	}

	return &shopFixture{
		ShopID:  created.ID,
		OwnerID: ownerID,
		Headers: adminHeaders(ownerID, created.ID),
	}
}

func createOffer(t *testing.T, fixture *shopFixture, req map[string]any) offerdomain.Offer {
	t.Helper()

	resp, body := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/admin/v1/offers", req, fixture.Headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create offer failed: %d: %s", resp.StatusCode, string(body))
	}
	created := offerdomain.Offer{}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode offer: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected offer id in response")
	}
	return created
}

func createActiveAffiliate(t *testing.T, fixture *shopFixture, offerID string) affiliatedomain.Affiliate {
	t.Helper()

	suffix := testSuffix()
	resp, body := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/admin/v1/affiliates", map[string]any{
		"name":              "Partner " + suffix,
		"email":             fmt.Sprintf("partner-%s@example.com", suffix),
		"offer_id":          offerID,
		"payout_method":     "paypal",
		"payout_reference":  fmt.Sprintf("partner-%s@paypal.example.com", suffix),
		"payout_terms_days": 30,
	}, fixture.Headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create affiliate failed: %d: %s", resp.StatusCode, string(body))
	}
	created := affiliatedomain.Affiliate{}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode affiliate: %v", err)
	}

	resp, body = doJSON(t, newHTTPClient(), http.MethodPost,
		env.baseURL+"/admin/v1/affiliates/"+created.ID.String()+"/approve", nil, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve affiliate failed: %d: %s", resp.StatusCode, string(body))
	}
	approved := affiliatedomain.Affiliate{}
	if err := json.Unmarshal(body, &approved); err != nil {
		t.Fatalf("decode approved affiliate: %v", err)
	}
	if approved.Status != affiliatedomain.AffiliateStatusActive {
		t.Fatalf("expected active affiliate, got %s", approved.Status)
	}
	return approved
}

func createAPIKey(t *testing.T, fixture *shopFixture, scopes ...string) apikeydomain.SecretResponse {
	t.Helper()

	if len(scopes) == 0 {
		scopes = []string{
			apikeydomain.ScopeClicksWrite,
			apikeydomain.ScopeOrdersWrite,
			apikeydomain.ScopeReportsRead,
		}
	}
	resp, body := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/admin/v1/api-keys", map[string]any{
		"name":   "e2e key " + testSuffix(),
		"scopes": scopes,
	}, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create api key failed: %d: %s", resp.StatusCode, string(body))
	}
	secret := apikeydomain.SecretResponse{}
	if err := json.Unmarshal(body, &secret); err != nil {
		t.Fatalf("decode api key: %v", err)
	}
	if secret.APIKey == "" || secret.KeyID == "" {
		t.Fatalf("expected plaintext key in response")
	}
	return secret
}

func trackClick(t *testing.T, apiKey string, payload map[string]any, wantStatus int) clickdomain.TrackClickResponse {
	t.Helper()

	resp, body := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/v1/clicks", payload, map[string]string{
		"Authorization": "Bearer " + apiKey,
	})
	if resp.StatusCode != wantStatus {
		t.Fatalf("track click: expected status %d, got %d: %s", wantStatus, resp.StatusCode, string(body))
	}
	out := clickdomain.TrackClickResponse{}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode click: %v", err)
	}
	return out
}

func postOrder(t *testing.T, apiKey string, event map[string]any, wantStatus int) conversiondomain.ProcessOrderResult {
	t.Helper()

	resp, body := doJSON(t, newHTTPClient(), http.MethodPost, env.baseURL+"/v1/events/orders", event, map[string]string{
		"Authorization": "Bearer " + apiKey,
	})
	if resp.StatusCode != wantStatus {
		t.Fatalf("post order: expected status %d, got %d: %s", wantStatus, resp.StatusCode, string(body))
	}
	result := conversiondomain.ProcessOrderResult{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode order result: %v", err)
	}
	return result
}

func listCommissions(t *testing.T, fixture *shopFixture, query string) commissiondomain.ListCommissionsResponse {
	t.Helper()

	reqURL := env.baseURL + "/admin/v1/commissions"
	if query != "" {
		reqURL += "?" + query
	}
	resp, body := doJSON(t, newHTTPClient(), http.MethodGet, reqURL, nil, fixture.Headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list commissions failed: %d: %s", resp.StatusCode, string(body))
	}
	out := commissiondomain.ListCommissionsResponse{}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode commissions: %v", err)
	}
	return out
}

// matureAndSweep rewinds the shop's eligibility dates and runs one
// scheduler pass, the per-test stand-in for waiting out a hold period.
func matureAndSweep(t *testing.T, shopID string) {
	t.Helper()

	accelerator := schedulertesting.NewTimeAccelerator(env.db)
	if err := accelerator.MatureShopCommissions(context.Background(), mustParseID(t, shopID)); err != nil {
		t.Fatalf("mature commissions: %v", err)
	}
	if err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("scheduler run: %v", err)
	}
}

func testSuffix() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

func countRows(t *testing.T, dbConn *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := dbConn.Table(table).Where(where, args...).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func mustParseID(t *testing.T, value string) snowflake.ID {
	t.Helper()
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed == 0 {
		t.Fatalf("invalid snowflake id: %s", value)
	}
	return parsed
}

func doJSON(t *testing.T, client *http.Client, method, reqURL string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}
