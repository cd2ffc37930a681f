package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	apikeydomain "github.com/smallbiznis/partnerly/internal/apikey/domain"
	"github.com/smallbiznis/partnerly/internal/apikey/repository"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc    apikeydomain.Service
	repo   apikeydomain.Repository
	db     *gorm.DB
	shopID snowflake.ID
	clk    *clock.FakeClock
}

func setupAPIKeys(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&apikeydomain.APIKey{}))

	node, err := snowflake.NewNode(16)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2024, 8, 1, 10, 0, 0, 0, time.UTC))
	repo := repository.Provide()

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repo,
	})

	return &fixture{svc: svc, repo: repo, db: db, shopID: node.Generate(), clk: clk}
}

func (f *fixture) ctx() context.Context {
	return shopcontext.WithShopID(context.Background(), int64(f.shopID))
}

func TestCreateIssuesScopedKey(t *testing.T) {
	f := setupAPIKeys(t)

	secret, err := f.svc.Create(f.ctx(), apikeydomain.CreateRequest{
		Name:   "storefront tracker",
		Scopes: []string{"Clicks:Write", "orders:write", "clicks:write"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret.APIKey, "pk_live_key_"))
	assert.Equal(t, []string{"clicks:write", "orders:write"}, secret.Scopes)

	keys, err := f.svc.List(f.ctx())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, secret.KeyID, keys[0].KeyID)
	assert.True(t, keys[0].IsActive)

	// Only the hash is stored; the plaintext authenticates by hash.
	found, err := f.repo.FindActiveByHash(f.ctx(), f.db, apikeydomain.HashAPIKey(secret.APIKey), f.clk.Now())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, secret.KeyID, found.KeyID)
	assert.True(t, found.HasScope(apikeydomain.ScopeClicksWrite))
	assert.False(t, found.HasScope(apikeydomain.ScopeReportsRead))
}

func TestCreateValidation(t *testing.T) {
	f := setupAPIKeys(t)

	_, err := f.svc.Create(f.ctx(), apikeydomain.CreateRequest{Scopes: []string{"clicks:write"}})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidName)

	_, err = f.svc.Create(f.ctx(), apikeydomain.CreateRequest{Name: "x"})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidScope)

	_, err = f.svc.Create(f.ctx(), apikeydomain.CreateRequest{Name: "x", Scopes: []string{"admin:everything"}})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidScope)

	_, err = f.svc.Create(context.Background(), apikeydomain.CreateRequest{Name: "x", Scopes: []string{"clicks:write"}})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidShop)
}

func TestRotateKeepsOldKeyThroughGrace(t *testing.T) {
	f := setupAPIKeys(t)

	old, err := f.svc.Create(f.ctx(), apikeydomain.CreateRequest{
		Name:   "tracker",
		Scopes: []string{"clicks:write"},
	})
	require.NoError(t, err)

	rotated, err := f.svc.Rotate(f.ctx(), old.KeyID)
	require.NoError(t, err)
	assert.NotEqual(t, old.KeyID, rotated.KeyID)
	assert.Equal(t, []string{"clicks:write"}, rotated.Scopes)

	// Inside the grace window both keys authenticate.
	oldKey, err := f.repo.FindActiveByHash(f.ctx(), f.db, apikeydomain.HashAPIKey(old.APIKey), f.clk.Now())
	require.NoError(t, err)
	require.NotNil(t, oldKey)

	f.clk.Advance(25 * time.Hour)
	oldKey, err = f.repo.FindActiveByHash(f.ctx(), f.db, apikeydomain.HashAPIKey(old.APIKey), f.clk.Now())
	require.NoError(t, err)
	assert.Nil(t, oldKey)
	newKey, err := f.repo.FindActiveByHash(f.ctx(), f.db, apikeydomain.HashAPIKey(rotated.APIKey), f.clk.Now())
	require.NoError(t, err)
	require.NotNil(t, newKey)

	keys, err := f.svc.List(f.ctx())
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	// An expired key cannot rotate again.
	_, err = f.svc.Rotate(f.ctx(), old.KeyID)
	assert.ErrorIs(t, err, apikeydomain.ErrNotFound)
}

func TestRevokeDisablesImmediately(t *testing.T) {
	f := setupAPIKeys(t)

	secret, err := f.svc.Create(f.ctx(), apikeydomain.CreateRequest{
		Name:   "tracker",
		Scopes: []string{"orders:write"},
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(f.ctx(), secret.KeyID))

	found, err := f.repo.FindActiveByHash(f.ctx(), f.db, apikeydomain.HashAPIKey(secret.APIKey), f.clk.Now())
	require.NoError(t, err)
	assert.Nil(t, found)

	assert.ErrorIs(t, f.svc.Revoke(f.ctx(), "key_UNKNOWN"), apikeydomain.ErrNotFound)
}
