// Package seed bootstraps demo data for local and evaluation installs:
// one shop with an owner membership, a starter offer, two active
// affiliates with coupons, and a fixed tracker API key so ingest calls
// work out of the box.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	apikeydomain "github.com/smallbiznis/partnerly/internal/apikey/domain"
	offerdomain "github.com/smallbiznis/partnerly/internal/offer/domain"
	shopdomain "github.com/smallbiznis/partnerly/internal/shop/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	demoShopName   = "Demo Shop"
	demoShopSlug   = "demo"
	demoShopDomain = "demo.example.com"

	demoOwnerUserID = "demo-owner"

	// demoAPIKey is a fixed dev credential. Never enable SEED_DEMO_DATA
	// against a production database.
	demoAPIKey = "pk_live_key_DEMO_local_dev_only"
	demoKeyID  = "key_DEMO"
)

// EnsureDemoData seeds the demo shop and its fixtures. Every step is
// find-or-create, so reruns and concurrent replicas converge on the
// same rows.
func EnsureDemoData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		shop, err := ensureDemoShopTx(ctx, tx, node)
		if err != nil {
			return err
		}
		if err := ensureOwnerTx(ctx, tx, node, shop.ID); err != nil {
			return err
		}
		offer, err := ensureOfferTx(ctx, tx, node, shop.ID)
		if err != nil {
			return err
		}
		if err := ensureAffiliatesTx(ctx, tx, node, shop.ID, offer.ID); err != nil {
			return err
		}
		return ensureAPIKeyTx(ctx, tx, node, shop.ID)
	})
}

func ensureDemoShopTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (shopdomain.Shop, error) {
	var shop shopdomain.Shop
	err := tx.WithContext(ctx).Where("slug = ?", demoShopSlug).First(&shop).Error
	if err == nil {
		return shop, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return shop, err
	}

	now := time.Now().UTC()
	shop = shopdomain.Shop{
		ID:        node.Generate(),
		Name:      demoShopName,
		Slug:      demoShopSlug,
		Domain:    demoShopDomain,
		Currency:  "USD",
		Status:    shopdomain.ShopStatusActive,
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&shop).Error; err != nil {
		return shop, err
	}
	return shop, nil
}

func ensureOwnerTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, shopID snowflake.ID) error {
	var member shopdomain.ShopMember
	err := tx.WithContext(ctx).
		Where("shop_id = ? AND user_id = ?", shopID, demoOwnerUserID).
		First(&member).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	member = shopdomain.ShopMember{
		ID:        node.Generate(),
		ShopID:    shopID,
		UserID:    demoOwnerUserID,
		Role:      shopdomain.RoleOwner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return tx.WithContext(ctx).Create(&member).Error
}

func ensureOfferTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, shopID snowflake.ID) (offerdomain.Offer, error) {
	var offer offerdomain.Offer
	err := tx.WithContext(ctx).
		Where("shop_id = ? AND slug = ?", shopID, "standard").
		First(&offer).Error
	if err == nil {
		return offer, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return offer, err
	}

	now := time.Now().UTC()
	offer = offerdomain.Offer{
		ID:             node.Generate(),
		ShopID:         shopID,
		Name:           "Standard",
		Slug:           "standard",
		Status:         offerdomain.OfferStatusActive,
		CommissionType: offerdomain.CommissionTypePercentage,
		PercentBps:     1000,
		Currency:       "USD",
		WindowDays:     30,

		SellingSubscriptions:    offerdomain.RebillPolicyCreditAll,
		SubscriptionMaxPayments: 12,
		RebillType:              offerdomain.CommissionTypePercentage,
		RebillPercentBps:        500,

		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&offer).Error; err != nil {
		return offer, err
	}
	return offer, nil
}

func ensureAffiliatesTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, shopID, offerID snowflake.ID) error {
	type partner struct {
		Number int64
		Name   string
		Slug   string
		Email  string
		Coupon string
	}

	partners := []partner{
		{1, "Ana Pereira", "ana-pereira", "ana@example.com", "ANA10"},
		{2, "Ben Tan", "ben-tan", "ben@example.com", "BEN10"},
	}

	now := time.Now().UTC()
	for _, p := range partners {
		var affiliate affiliatedomain.Affiliate
		err := tx.WithContext(ctx).
			Where("shop_id = ? AND email = ?", shopID, p.Email).
			First(&affiliate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			affiliate = affiliatedomain.Affiliate{
				ID:              node.Generate(),
				ShopID:          shopID,
				AffiliateNumber: p.Number,
				Name:            p.Name,
				Slug:            p.Slug,
				Email:           p.Email,
				Status:          affiliatedomain.AffiliateStatusActive,
				OfferID:         offerID,
				PayoutTermsDays: affiliatedomain.DefaultPayoutTermsDays,
				PayoutMethod:    affiliatedomain.PayoutMethodManual,
				Metadata:        datatypes.JSONMap{},
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := tx.WithContext(ctx).Create(&affiliate).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		err = tx.WithContext(ctx).
			Exec(`
				INSERT INTO coupons (id, shop_id, affiliate_id, code, active, created_at, updated_at)
				VALUES (?, ?, ?, ?, TRUE, ?, ?)
				ON CONFLICT (shop_id, code) DO NOTHING
			`,
				node.Generate(),
				shopID,
				affiliate.ID,
				p.Coupon,
				now,
				now,
			).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func ensureAPIKeyTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, shopID snowflake.ID) error {
	var key apikeydomain.APIKey
	err := tx.WithContext(ctx).
		Where("shop_id = ? AND key_id = ?", shopID, demoKeyID).
		First(&key).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	key = apikeydomain.APIKey{
		ID:     node.Generate(),
		ShopID: shopID,
		KeyID:  demoKeyID,
		Name:   "Demo tracker key",
		Scopes: pq.StringArray{
			apikeydomain.ScopeClicksWrite,
			apikeydomain.ScopeOrdersWrite,
		},
		KeyHash:   apikeydomain.HashAPIKey(demoAPIKey),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return tx.WithContext(ctx).Create(&key).Error
}
