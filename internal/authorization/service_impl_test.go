package authorization

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	shopdomain "github.com/smallbiznis/partnerly/internal/shop/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc    Service
	db     *gorm.DB
	node   *snowflake.Node
	shopID snowflake.ID
}

func setupAuthorization(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&shopdomain.ShopMember{}))

	node, err := snowflake.NewNode(18)
	require.NoError(t, err)

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Enforcer: enforcer,
	})

	return &fixture{svc: svc, db: db, node: node, shopID: node.Generate()}
}

func (f *fixture) addMember(t *testing.T, userID, role string) {
	t.Helper()
	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.db.Create(&shopdomain.ShopMember{
		ID:        f.node.Generate(),
		ShopID:    f.shopID,
		UserID:    userID,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)
}

func TestAuthorizeRoles(t *testing.T) {
	f := setupAuthorization(t)
	ctx := context.Background()
	shop := f.shopID.String()

	f.addMember(t, "owner-1", shopdomain.RoleOwner)
	f.addMember(t, "admin-1", shopdomain.RoleAdmin)
	f.addMember(t, "analyst-1", shopdomain.RoleAnalyst)

	// Owners hold the owner-only capabilities.
	require.NoError(t, f.svc.Authorize(ctx, "user:owner-1", shop, ObjectPayoutProvider, ActionPayoutProviderManage))
	require.NoError(t, f.svc.Authorize(ctx, "user:owner-1", shop, ObjectShopMember, ActionShopMemberManage))
	require.NoError(t, f.svc.Authorize(ctx, "user:owner-1", shop, ObjectAPIKey, ActionAPIKeyRevoke))

	// Admins mutate but stop at the owner-only surface.
	require.NoError(t, f.svc.Authorize(ctx, "user:admin-1", shop, ObjectPayoutRun, ActionPayoutRunApprove))
	require.NoError(t, f.svc.Authorize(ctx, "user:admin-1", shop, ObjectCommission, ActionCommissionReverse))
	assert.ErrorIs(t, f.svc.Authorize(ctx, "user:admin-1", shop, ObjectPayoutProvider, ActionPayoutProviderManage), ErrForbidden)
	assert.ErrorIs(t, f.svc.Authorize(ctx, "user:admin-1", shop, ObjectAPIKey, ActionAPIKeyRevoke), ErrForbidden)

	// Analysts read everything and change nothing.
	require.NoError(t, f.svc.Authorize(ctx, "user:analyst-1", shop, ObjectOverview, ActionOverviewView))
	require.NoError(t, f.svc.Authorize(ctx, "user:analyst-1", shop, ObjectLedger, ActionLedgerView))
	assert.ErrorIs(t, f.svc.Authorize(ctx, "user:analyst-1", shop, ObjectCommission, ActionCommissionApprove), ErrForbidden)
	assert.ErrorIs(t, f.svc.Authorize(ctx, "user:analyst-1", shop, ObjectAffiliate, ActionAffiliateCreate), ErrForbidden)

	// Non-members are denied outright.
	assert.ErrorIs(t, f.svc.Authorize(ctx, "user:stranger", shop, ObjectOverview, ActionOverviewView), ErrForbidden)
}

func TestAuthorizeSystemAndAPIKeys(t *testing.T) {
	f := setupAuthorization(t)
	ctx := context.Background()
	shop := f.shopID.String()

	require.NoError(t, f.svc.Authorize(ctx, "system", shop, ObjectPayoutRun, ActionPayoutRunPoll))
	require.NoError(t, f.svc.Authorize(ctx, "system", shop, ObjectOrder, ActionOrderIngest))
	assert.ErrorIs(t, f.svc.Authorize(ctx, "system", shop, ObjectAPIKey, ActionAPIKeyRevoke), ErrForbidden)

	keyActor := "api_key:" + f.node.Generate().String()
	require.NoError(t, f.svc.Authorize(ctx, keyActor, shop, ObjectClick, ActionClickIngest))
	require.NoError(t, f.svc.Authorize(ctx, keyActor, shop, ObjectCommission, ActionCommissionView))
	assert.ErrorIs(t, f.svc.Authorize(ctx, keyActor, shop, ObjectPayoutRun, ActionPayoutRunApprove), ErrForbidden)

	assert.ErrorIs(t, f.svc.Authorize(ctx, "api_key:junk", shop, ObjectClick, ActionClickIngest), ErrInvalidActor)
}

func TestAuthorizeValidation(t *testing.T) {
	f := setupAuthorization(t)
	ctx := context.Background()
	shop := f.shopID.String()

	assert.ErrorIs(t, f.svc.Authorize(ctx, "", shop, ObjectShop, ActionShopView), ErrInvalidActor)
	assert.ErrorIs(t, f.svc.Authorize(ctx, "robot", shop, ObjectShop, ActionShopView), ErrInvalidActor)
	assert.ErrorIs(t, f.svc.Authorize(ctx, "system", "", ObjectShop, ActionShopView), ErrInvalidShop)
	assert.ErrorIs(t, f.svc.Authorize(ctx, "system", shop, "", ActionShopView), ErrInvalidObject)
	assert.ErrorIs(t, f.svc.Authorize(ctx, "system", shop, ObjectShop, ""), ErrInvalidAction)
	assert.ErrorIs(t, f.svc.Authorize(ctx, "user:analyst-1", "bogus", ObjectShop, ActionShopView), ErrInvalidShop)
}

func TestAuthorizeFollowsRoleChanges(t *testing.T) {
	f := setupAuthorization(t)
	ctx := context.Background()
	shop := f.shopID.String()

	f.addMember(t, "user-1", shopdomain.RoleAnalyst)
	assert.ErrorIs(t, f.svc.Authorize(ctx, "user:user-1", shop, ObjectOffer, ActionOfferCreate), ErrForbidden)

	// Promotion replaces the cached grouping on the next check.
	require.NoError(t, f.db.Exec(
		`UPDATE shop_members SET role = ? WHERE shop_id = ? AND user_id = ?`,
		shopdomain.RoleAdmin, f.shopID, "user-1",
	).Error)
	require.NoError(t, f.svc.Authorize(ctx, "user:user-1", shop, ObjectOffer, ActionOfferCreate))

	// And a demotion takes the capability away again.
	require.NoError(t, f.db.Exec(
		`UPDATE shop_members SET role = ? WHERE shop_id = ? AND user_id = ?`,
		shopdomain.RoleAnalyst, f.shopID, "user-1",
	).Error)
	assert.ErrorIs(t, f.svc.Authorize(ctx, "user:user-1", shop, ObjectOffer, ActionOfferCreate), ErrForbidden)
}
