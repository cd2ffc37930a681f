package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/partnerly/internal/affiliate"
	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	"github.com/smallbiznis/partnerly/internal/apikey"
	apikeydomain "github.com/smallbiznis/partnerly/internal/apikey/domain"
	"github.com/smallbiznis/partnerly/internal/attribution"
	"github.com/smallbiznis/partnerly/internal/audit"
	auditdomain "github.com/smallbiznis/partnerly/internal/audit/domain"
	"github.com/smallbiznis/partnerly/internal/authorization"
	"github.com/smallbiznis/partnerly/internal/cache"
	"github.com/smallbiznis/partnerly/internal/click"
	clickdomain "github.com/smallbiznis/partnerly/internal/click/domain"
	"github.com/smallbiznis/partnerly/internal/click/liveevents"
	"github.com/smallbiznis/partnerly/internal/cloudmetrics"
	"github.com/smallbiznis/partnerly/internal/commission"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	"github.com/smallbiznis/partnerly/internal/config"
	"github.com/smallbiznis/partnerly/internal/conversion"
	conversiondomain "github.com/smallbiznis/partnerly/internal/conversion/domain"
	"github.com/smallbiznis/partnerly/internal/events"
	"github.com/smallbiznis/partnerly/internal/fraud"
	frauddomain "github.com/smallbiznis/partnerly/internal/fraud/domain"
	"github.com/smallbiznis/partnerly/internal/ledger"
	ledgerdomain "github.com/smallbiznis/partnerly/internal/ledger/domain"
	"github.com/smallbiznis/partnerly/internal/observability"
	obsmiddleware "github.com/smallbiznis/partnerly/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/partnerly/internal/observability/metrics"
	obstracing "github.com/smallbiznis/partnerly/internal/observability/tracing"
	"github.com/smallbiznis/partnerly/internal/offer"
	offerdomain "github.com/smallbiznis/partnerly/internal/offer/domain"
	"github.com/smallbiznis/partnerly/internal/overview"
	overviewdomain "github.com/smallbiznis/partnerly/internal/overview/domain"
	"github.com/smallbiznis/partnerly/internal/payout"
	payoutdomain "github.com/smallbiznis/partnerly/internal/payout/domain"
	"github.com/smallbiznis/partnerly/internal/postback"
	"github.com/smallbiznis/partnerly/internal/providers"
	"github.com/smallbiznis/partnerly/internal/ratelimit"
	"github.com/smallbiznis/partnerly/internal/reference"
	referencedomain "github.com/smallbiznis/partnerly/internal/reference/domain"
	"github.com/smallbiznis/partnerly/internal/shop"
	shopdomain "github.com/smallbiznis/partnerly/internal/shop/domain"
	"github.com/smallbiznis/partnerly/internal/subscription"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	cloudmetrics.Module,
	fx.Provide(registerGin),
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
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

// RunHTTP serves the engine for the lifetime of the fx app.
func RunHTTP(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger

	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	apiKeySvc     apikeydomain.Service
	shopSvc       shopdomain.Service
	affiliateSvc  affiliatedomain.Service
	offerSvc      offerdomain.Service
	clickSvc      clickdomain.Service
	conversionSvc conversiondomain.Service
	commissionSvc commissiondomain.Service
	fraudSvc      frauddomain.Service
	ledgerSvc     ledgerdomain.Service
	payoutSvc     payoutdomain.Service
	overviewSvc   overviewdomain.Service
	refCatalog    referencedomain.Repository

	liveClicks    *liveevents.Hub
	obsMetrics    *obsmetrics.Metrics
	ingestLimiter *ratelimit.IngestLimiter
}

type ServerParams struct {
	fx.In

	Gin *gin.Engine
	Cfg config.Config
	DB  *gorm.DB
	Log *zap.Logger

	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	APIKeySvc     apikeydomain.Service
	ShopSvc       shopdomain.Service
	AffiliateSvc  affiliatedomain.Service
	OfferSvc      offerdomain.Service
	ClickSvc      clickdomain.Service
	ConversionSvc conversiondomain.Service
	CommissionSvc commissiondomain.Service
	FraudSvc      frauddomain.Service
	LedgerSvc     ledgerdomain.Service
	PayoutSvc     payoutdomain.Service
	OverviewSvc   overviewdomain.Service
	RefCatalog    referencedomain.Repository

	LiveClicks    *liveevents.Hub        `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics    `optional:"true"`
	IngestLimiter *ratelimit.IngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		log:           p.Log.Named("http.server"),
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		apiKeySvc:     p.APIKeySvc,
		shopSvc:       p.ShopSvc,
		affiliateSvc:  p.AffiliateSvc,
		offerSvc:      p.OfferSvc,
		clickSvc:      p.ClickSvc,
		conversionSvc: p.ConversionSvc,
		commissionSvc: p.CommissionSvc,
		fraudSvc:      p.FraudSvc,
		ledgerSvc:     p.LedgerSvc,
		payoutSvc:     p.PayoutSvc,
		overviewSvc:   p.OverviewSvc,
		refCatalog:    p.RefCatalog,
		liveClicks:    p.LiveClicks,
		obsMetrics:    p.ObsMetrics,
		ingestLimiter: p.IngestLimiter,
	}
}

func registerRoutes(s *Server) {
	s.RegisterTrackerRoutes()
	s.RegisterAdminRoutes()
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// RegisterTrackerRoutes mounts the API-key surface: the endpoints shop
// storefronts and commerce backends call directly.
func (s *Server) RegisterTrackerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/clicks",
		s.APIKeyRequired(apikeydomain.ScopeClicksWrite),
		s.IngestRateLimit(),
		s.TrackClick,
	)

	orderEvents := v1.Group("/events", s.APIKeyRequired(apikeydomain.ScopeOrdersWrite))
	{
		orderEvents.POST("/orders", s.IngestRateLimit(), s.IngestOrder)
		orderEvents.POST("/refunds", s.IngestRefund)
		orderEvents.POST("/cancellations", s.IngestCancellation)
	}

	v1.GET("/reports/overview",
		s.APIKeyRequired(apikeydomain.ScopeReportsRead),
		s.TrackerOverview,
	)
}

// RegisterAdminRoutes mounts the dashboard surface. Identity arrives as
// headers from the fronting proxy; the shop scope comes from X-Shop-ID
// and every route is checked against the member's role.
func (s *Server) RegisterAdminRoutes() {
	admin := s.engine.Group("/admin/v1")
	admin.Use(s.ActorRequired())

	// Pre-shop surface: creating the first shop and picking one.
	admin.POST("/shops", s.CreateShop)
	admin.GET("/shops", s.ListShops)
	admin.GET("/meta/currencies", s.ListCurrencies)

	shopScoped := admin.Group("", s.ShopRequired())

	shopScoped.GET("/shop", s.authorizeShopAction(authorization.ObjectShop, authorization.ActionShopView), s.GetShop)
	shopScoped.PATCH("/shop", s.authorizeShopAction(authorization.ObjectShop, authorization.ActionShopUpdate), s.UpdateShop)
	shopScoped.GET("/shop/members", s.authorizeShopAction(authorization.ObjectShopMember, authorization.ActionShopMemberView), s.ListShopMembers)
	shopScoped.PUT("/shop/members", s.authorizeShopAction(authorization.ObjectShopMember, authorization.ActionShopMemberManage), s.UpsertShopMember)
	shopScoped.DELETE("/shop/members/:user_id", s.authorizeShopAction(authorization.ObjectShopMember, authorization.ActionShopMemberManage), s.RemoveShopMember)

	shopScoped.GET("/affiliates", s.authorizeShopAction(authorization.ObjectAffiliate, authorization.ActionAffiliateView), s.ListAffiliates)
	shopScoped.POST("/affiliates", s.authorizeShopAction(authorization.ObjectAffiliate, authorization.ActionAffiliateCreate), s.CreateAffiliate)
	shopScoped.GET("/affiliates/:id", s.authorizeShopAction(authorization.ObjectAffiliate, authorization.ActionAffiliateView), s.GetAffiliate)
	shopScoped.PATCH("/affiliates/:id", s.authorizeShopAction(authorization.ObjectAffiliate, authorization.ActionAffiliateUpdate), s.UpdateAffiliate)
	shopScoped.POST("/affiliates/:id/approve", s.authorizeShopAction(authorization.ObjectAffiliate, authorization.ActionAffiliateApprove), s.ApproveAffiliate)
	shopScoped.POST("/affiliates/:id/suspend", s.authorizeShopAction(authorization.ObjectAffiliate, authorization.ActionAffiliateSuspend), s.SuspendAffiliate)
	shopScoped.POST("/affiliates/:id/reject", s.authorizeShopAction(authorization.ObjectAffiliate, authorization.ActionAffiliateReject), s.RejectAffiliate)
	shopScoped.GET("/affiliates/:id/coupons", s.authorizeShopAction(authorization.ObjectCoupon, authorization.ActionCouponView), s.ListAffiliateCoupons)
	shopScoped.POST("/affiliates/:id/coupons", s.authorizeShopAction(authorization.ObjectCoupon, authorization.ActionCouponAssign), s.AssignAffiliateCoupon)
	shopScoped.POST("/coupons/:id/deactivate", s.authorizeShopAction(authorization.ObjectCoupon, authorization.ActionCouponDeactivate), s.DeactivateCoupon)
	shopScoped.GET("/affiliates/:id/balance", s.authorizeShopAction(authorization.ObjectLedger, authorization.ActionLedgerView), s.GetAffiliateBalance)

	shopScoped.GET("/offers", s.authorizeShopAction(authorization.ObjectOffer, authorization.ActionOfferView), s.ListOffers)
	shopScoped.POST("/offers", s.authorizeShopAction(authorization.ObjectOffer, authorization.ActionOfferCreate), s.CreateOffer)
	shopScoped.GET("/offers/:id", s.authorizeShopAction(authorization.ObjectOffer, authorization.ActionOfferView), s.GetOffer)
	shopScoped.PATCH("/offers/:id", s.authorizeShopAction(authorization.ObjectOffer, authorization.ActionOfferUpdate), s.UpdateOffer)
	shopScoped.POST("/offers/:id/archive", s.authorizeShopAction(authorization.ObjectOffer, authorization.ActionOfferArchive), s.ArchiveOffer)

	shopScoped.GET("/clicks", s.authorizeShopAction(authorization.ObjectClick, authorization.ActionClickView), s.ListClicks)
	shopScoped.GET("/clicks/live", s.authorizeShopAction(authorization.ObjectClick, authorization.ActionClickView), s.StreamLiveClicks)

	shopScoped.GET("/commissions", s.authorizeShopAction(authorization.ObjectCommission, authorization.ActionCommissionView), s.ListCommissions)
	shopScoped.GET("/commissions/:id", s.authorizeShopAction(authorization.ObjectCommission, authorization.ActionCommissionView), s.GetCommission)
	shopScoped.POST("/commissions/validate", s.authorizeShopAction(authorization.ObjectCommission, authorization.ActionCommissionValidate), s.BulkValidateCommissions)
	shopScoped.POST("/commissions/approve", s.authorizeShopAction(authorization.ObjectCommission, authorization.ActionCommissionApprove), s.BulkApproveCommissions)
	shopScoped.POST("/commissions/reverse", s.authorizeShopAction(authorization.ObjectCommission, authorization.ActionCommissionReverse), s.BulkReverseCommissions)

	shopScoped.GET("/fraud-flags", s.authorizeShopAction(authorization.ObjectFraudFlag, authorization.ActionFraudFlagView), s.ListFraudFlags)
	shopScoped.POST("/fraud-flags", s.authorizeShopAction(authorization.ObjectFraudFlag, authorization.ActionFraudFlagCreate), s.CreateFraudFlag)
	shopScoped.POST("/fraud-flags/:id/resolve", s.authorizeShopAction(authorization.ObjectFraudFlag, authorization.ActionFraudFlagResolve), s.ResolveFraudFlag)

	shopScoped.GET("/payout-runs", s.authorizeShopAction(authorization.ObjectPayoutRun, authorization.ActionPayoutRunView), s.ListPayoutRuns)
	shopScoped.POST("/payout-runs", s.authorizeShopAction(authorization.ObjectPayoutRun, authorization.ActionPayoutRunCreate), s.CreatePayoutRun)
	shopScoped.POST("/payout-runs/pay-now", s.authorizeShopAction(authorization.ObjectPayoutRun, authorization.ActionPayoutRunPay), s.PayNow)
	shopScoped.GET("/payout-runs/:id", s.authorizeShopAction(authorization.ObjectPayoutRun, authorization.ActionPayoutRunView), s.GetPayoutRun)
	shopScoped.POST("/payout-runs/:id/approve", s.authorizeShopAction(authorization.ObjectPayoutRun, authorization.ActionPayoutRunApprove), s.ApprovePayoutRun)
	shopScoped.GET("/payout-runs/:id/statements/:affiliate_id", s.authorizeShopAction(authorization.ObjectPayoutRun, authorization.ActionPayoutRunView), s.GetPayoutStatement)

	shopScoped.GET("/payout-providers", s.authorizeShopAction(authorization.ObjectPayoutProvider, authorization.ActionPayoutProviderView), s.GetPayoutProviderConfig)
	shopScoped.PUT("/payout-providers", s.authorizeShopAction(authorization.ObjectPayoutProvider, authorization.ActionPayoutProviderManage), s.UpsertPayoutProviderConfig)

	shopScoped.GET("/ledger", s.authorizeShopAction(authorization.ObjectLedger, authorization.ActionLedgerView), s.ListLedgerEntries)

	shopScoped.GET("/overview/funnel", s.authorizeShopAction(authorization.ObjectOverview, authorization.ActionOverviewView), s.GetOverviewFunnel)
	shopScoped.GET("/overview/earnings", s.authorizeShopAction(authorization.ObjectOverview, authorization.ActionOverviewView), s.GetOverviewEarnings)
	shopScoped.GET("/overview/top-affiliates", s.authorizeShopAction(authorization.ObjectOverview, authorization.ActionOverviewView), s.GetOverviewTopAffiliates)

	shopScoped.GET("/api-keys", s.authorizeShopAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyView), s.ListAPIKeys)
	shopScoped.GET("/api-keys/scopes", s.authorizeShopAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyView), s.ListAPIKeyScopes)
	shopScoped.POST("/api-keys", s.authorizeShopAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyCreate), s.CreateAPIKey)
	shopScoped.POST("/api-keys/:key_id/rotate", s.authorizeShopAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyRotate), s.RotateAPIKey)
	shopScoped.POST("/api-keys/:key_id/revoke", s.authorizeShopAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyRevoke), s.RevokeAPIKey)

	shopScoped.GET("/audit-logs", s.authorizeShopAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)

	if s.cfg.Environment != "production" {
		shopScoped.POST("/test/cleanup", s.authorizeShopAction(authorization.ObjectShop, authorization.ActionShopUpdate), s.TestCleanup)
	}
}
