package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/partnerly/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectShop           = "shop"
	ObjectShopMember     = "shop_member"
	ObjectAffiliate      = "affiliate"
	ObjectCoupon         = "coupon"
	ObjectOffer          = "offer"
	ObjectClick          = "click"
	ObjectOrder          = "order"
	ObjectCommission     = "commission"
	ObjectFraudFlag      = "fraud_flag"
	ObjectPayoutRun      = "payout_run"
	ObjectPayoutProvider = "payout_provider"
	ObjectLedger         = "ledger"
	ObjectOverview       = "overview"
	ObjectAPIKey         = "api_key"
	ObjectAuditLog       = "audit_log"
)

const (
	ActionAffiliateView    = "affiliate.view"
	ActionAffiliateCreate  = "affiliate.create"
	ActionAffiliateUpdate  = "affiliate.update"
	ActionAffiliateApprove = "affiliate.approve"
	ActionAffiliateSuspend = "affiliate.suspend"
	ActionAffiliateReject  = "affiliate.reject"

	ActionCouponView       = "coupon.view"
	ActionCouponAssign     = "coupon.assign"
	ActionCouponDeactivate = "coupon.deactivate"

	ActionOfferView    = "offer.view"
	ActionOfferCreate  = "offer.create"
	ActionOfferUpdate  = "offer.update"
	ActionOfferArchive = "offer.archive"

	ActionClickView   = "click.view"
	ActionClickIngest = "click.ingest"

	ActionOrderIngest = "order.ingest"
	ActionOrderRefund = "order.refund"
	ActionOrderCancel = "order.cancel"

	ActionCommissionView     = "commission.view"
	ActionCommissionValidate = "commission.validate"
	ActionCommissionApprove  = "commission.approve"
	ActionCommissionReverse  = "commission.reverse"

	ActionFraudFlagView    = "fraud_flag.view"
	ActionFraudFlagCreate  = "fraud_flag.create"
	ActionFraudFlagResolve = "fraud_flag.resolve"

	ActionPayoutRunView    = "payout_run.view"
	ActionPayoutRunCreate  = "payout_run.create"
	ActionPayoutRunApprove = "payout_run.approve"
	ActionPayoutRunPay     = "payout_run.pay"
	ActionPayoutRunPoll    = "payout_run.poll"

	ActionPayoutProviderView   = "payout_provider.view"
	ActionPayoutProviderManage = "payout_provider.manage"

	ActionLedgerView = "ledger.view"

	ActionOverviewView = "overview.view"

	ActionAPIKeyView   = "api_key.view"
	ActionAPIKeyCreate = "api_key.create"
	ActionAPIKeyRotate = "api_key.rotate"
	ActionAPIKeyRevoke = "api_key.revoke"

	ActionAuditLogView = "audit_log.view"

	ActionShopView    = "shop.view"
	ActionShopUpdate  = "shop.update"
	ActionShopSuspend = "shop.suspend"

	ActionShopMemberView   = "shop_member.view"
	ActionShopMemberManage = "shop_member.manage"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, shopID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		return ErrInvalidShop
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, actorType, actorID, err := s.resolveActor(ctx, actor, shopID)
	if err != nil {
		s.auditDenied(ctx, actorType, actorID, shopID, object, action)
		return err
	}

	domain := fmt.Sprintf("shop:%s", shopID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorType, actorID, shopID, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditGranted(ctx, actorType, actorID, shopID, object, action)
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, shopID string) (string, string, string, *string, error) {
	if actor == "system" {
		roleName := "role:system"
		return actor, roleName, "system", nil, nil
	}
	if strings.HasPrefix(actor, "api_key:") {
		// API keys act with the system role; the scope check happened at
		// the transport layer.
		apiKeyIDRaw := strings.TrimPrefix(actor, "api_key:")
		apiKeyID, err := snowflake.ParseString(apiKeyIDRaw)
		if err != nil || apiKeyID == 0 {
			return "", "", "", nil, ErrInvalidActor
		}
		apiKeyIDStr := apiKeyID.String()
		roleName := "role:system"
		return actor, roleName, "api_key", &apiKeyIDStr, nil
	}
	if strings.HasPrefix(actor, "user:") {
		// User ids are opaque external identities, not snowflakes.
		userID := strings.TrimSpace(strings.TrimPrefix(actor, "user:"))
		if userID == "" {
			return "", "", "", nil, ErrInvalidActor
		}
		parsedShopID, err := snowflake.ParseString(shopID)
		if err != nil || parsedShopID == 0 {
			return actor, "", "user", &userID, ErrInvalidShop
		}
		role, err := s.roleForUser(ctx, parsedShopID, userID)
		if err != nil {
			return actor, "", "user", &userID, err
		}
		roleName := fmt.Sprintf("role:%s", strings.ToLower(role))
		return actor, roleName, "user", &userID, nil
	}
	return "", "", "", nil, ErrInvalidActor
}

func (s *ServiceImpl) roleForUser(ctx context.Context, shopID snowflake.ID, userID string) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM shop_members
		 WHERE shop_id = ? AND user_id = ?
		 LIMIT 1`,
		shopID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorType string, actorID *string, shopID string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	parsedShopID, err := snowflake.ParseString(shopID)
	if err != nil || parsedShopID == 0 {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, &parsedShopID, actorType, actorID, "authorization.denied", "authorization", &targetID, map[string]any{
		"object":  object,
		"action":  action,
		"actor":   actorType,
		"shop_id": shopID,
		"subject": actorSubject(actorType, actorID),
	})
}

func (s *ServiceImpl) auditGranted(ctx context.Context, actorType string, actorID *string, shopID string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	parsedShopID, err := snowflake.ParseString(shopID)
	if err != nil || parsedShopID == 0 {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, &parsedShopID, actorType, actorID, "authorization.granted", "authorization", &targetID, map[string]any{
		"object":  object,
		"action":  action,
		"actor":   actorType,
		"shop_id": shopID,
		"subject": actorSubject(actorType, actorID),
	})
}

func actorSubject(actorType string, actorID *string) string {
	switch actorType {
	case "system":
		return "system"
	case "user":
		if actorID != nil && strings.TrimSpace(*actorID) != "" {
			return fmt.Sprintf("user:%s", strings.TrimSpace(*actorID))
		}
	}
	return ""
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionAPIKeyRotate, ActionAPIKeyRevoke, ActionPayoutRunApprove, ActionPayoutRunPay, ActionShopSuspend:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	views := [][2]string{
		{ObjectShop, ActionShopView},
		{ObjectAffiliate, ActionAffiliateView},
		{ObjectCoupon, ActionCouponView},
		{ObjectOffer, ActionOfferView},
		{ObjectClick, ActionClickView},
		{ObjectCommission, ActionCommissionView},
		{ObjectFraudFlag, ActionFraudFlagView},
		{ObjectPayoutRun, ActionPayoutRunView},
		{ObjectLedger, ActionLedgerView},
		{ObjectOverview, ActionOverviewView},
	}

	adminMutations := [][2]string{
		{ObjectAffiliate, ActionAffiliateCreate},
		{ObjectAffiliate, ActionAffiliateUpdate},
		{ObjectAffiliate, ActionAffiliateApprove},
		{ObjectAffiliate, ActionAffiliateSuspend},
		{ObjectAffiliate, ActionAffiliateReject},
		{ObjectCoupon, ActionCouponAssign},
		{ObjectCoupon, ActionCouponDeactivate},
		{ObjectOffer, ActionOfferCreate},
		{ObjectOffer, ActionOfferUpdate},
		{ObjectOffer, ActionOfferArchive},
		{ObjectOrder, ActionOrderRefund},
		{ObjectOrder, ActionOrderCancel},
		{ObjectCommission, ActionCommissionValidate},
		{ObjectCommission, ActionCommissionApprove},
		{ObjectCommission, ActionCommissionReverse},
		{ObjectFraudFlag, ActionFraudFlagCreate},
		{ObjectFraudFlag, ActionFraudFlagResolve},
		{ObjectPayoutRun, ActionPayoutRunCreate},
		{ObjectPayoutRun, ActionPayoutRunApprove},
		{ObjectPayoutRun, ActionPayoutRunPay},
		{ObjectPayoutProvider, ActionPayoutProviderView},
		{ObjectShop, ActionShopUpdate},
		{ObjectShopMember, ActionShopMemberView},
		{ObjectAPIKey, ActionAPIKeyView},
		{ObjectAPIKey, ActionAPIKeyCreate},
		{ObjectAPIKey, ActionAPIKeyRotate},
		{ObjectAuditLog, ActionAuditLogView},
	}

	ownerOnly := [][2]string{
		{ObjectShop, ActionShopSuspend},
		{ObjectShopMember, ActionShopMemberManage},
		{ObjectPayoutProvider, ActionPayoutProviderManage},
		{ObjectAPIKey, ActionAPIKeyRevoke},
	}

	// Automated processes and API keys: the programmatic ingest and
	// sweep surface plus the reporting reads.
	system := [][2]string{
		{ObjectClick, ActionClickIngest},
		{ObjectOrder, ActionOrderIngest},
		{ObjectOrder, ActionOrderRefund},
		{ObjectOrder, ActionOrderCancel},
		{ObjectCommission, ActionCommissionValidate},
		{ObjectPayoutRun, ActionPayoutRunPoll},
		{ObjectClick, ActionClickView},
		{ObjectCommission, ActionCommissionView},
		{ObjectAffiliate, ActionAffiliateView},
		{ObjectPayoutRun, ActionPayoutRunView},
		{ObjectLedger, ActionLedgerView},
		{ObjectOverview, ActionOverviewView},
	}

	policies := make([][]string, 0, 4*len(views)+2*len(adminMutations)+len(ownerOnly)+len(system))
	for _, rule := range views {
		policies = append(policies, []string{"role:analyst", rule[0], rule[1]})
		policies = append(policies, []string{"role:admin", rule[0], rule[1]})
		policies = append(policies, []string{"role:owner", rule[0], rule[1]})
	}
	for _, rule := range adminMutations {
		policies = append(policies, []string{"role:admin", rule[0], rule[1]})
		policies = append(policies, []string{"role:owner", rule[0], rule[1]})
	}
	for _, rule := range ownerOnly {
		policies = append(policies, []string{"role:owner", rule[0], rule[1]})
	}
	for _, rule := range system {
		policies = append(policies, []string{"role:system", rule[0], rule[1]})
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
