package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
	"github.com/smallbiznis/partnerly/internal/config"
	"go.uber.org/zap"
)

const (
	defaultCouponTTL = 5 * time.Minute

	keyCouponResolver = "coupon:resolve:%s:%s"
)

// CouponResolverCache stores coupon code lookups on the order ingest path.
// Entries are invalidated on every coupon write so a deactivated code
// never keeps attributing orders past the TTL.
type CouponResolverCache interface {
	GetCoupon(ctx context.Context, shopID snowflake.ID, code string) (*affiliatedomain.Coupon, bool)
	SetCoupon(ctx context.Context, shopID snowflake.ID, code string, coupon *affiliatedomain.Coupon)
	Invalidate(ctx context.Context, shopID snowflake.ID, code string)
}

// NewCouponResolverCache returns a redis-backed cache when a redis address
// is configured, otherwise an in-process TTL cache.
func NewCouponResolverCache(cfg config.Config, log *zap.Logger) CouponResolverCache {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return newMemoryCouponCache()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	})
	return &redisCouponCache{
		client: client,
		log:    log.Named("cache.coupon"),
		ttl:    defaultCouponTTL,
	}
}

type memoryCouponCache struct {
	coupons Cache[string, *affiliatedomain.Coupon]
	ttl     time.Duration
}

func newMemoryCouponCache() *memoryCouponCache {
	return &memoryCouponCache{
		coupons: NewTTLCache[string, *affiliatedomain.Coupon](),
		ttl:     defaultCouponTTL,
	}
}

func (c *memoryCouponCache) GetCoupon(_ context.Context, shopID snowflake.ID, code string) (*affiliatedomain.Coupon, bool) {
	return c.coupons.Get(couponKey(shopID, code))
}

func (c *memoryCouponCache) SetCoupon(_ context.Context, shopID snowflake.ID, code string, coupon *affiliatedomain.Coupon) {
	if coupon == nil || coupon.ID == 0 {
		return
	}
	c.coupons.Set(couponKey(shopID, code), coupon, c.ttl)
}

func (c *memoryCouponCache) Invalidate(_ context.Context, shopID snowflake.ID, code string) {
	c.coupons.Delete(couponKey(shopID, code))
}

type redisCouponCache struct {
	client *redis.Client
	log    *zap.Logger
	ttl    time.Duration
}

func (c *redisCouponCache) GetCoupon(ctx context.Context, shopID snowflake.ID, code string) (*affiliatedomain.Coupon, bool) {
	raw, err := c.client.Get(ctx, couponKey(shopID, code)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("coupon cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var coupon affiliatedomain.Coupon
	if err := json.Unmarshal(raw, &coupon); err != nil {
		return nil, false
	}
	return &coupon, true
}

func (c *redisCouponCache) SetCoupon(ctx context.Context, shopID snowflake.ID, code string, coupon *affiliatedomain.Coupon) {
	if coupon == nil || coupon.ID == 0 {
		return
	}
	raw, err := json.Marshal(coupon)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, couponKey(shopID, code), raw, c.ttl).Err(); err != nil {
		c.log.Warn("coupon cache write failed", zap.Error(err))
	}
}

func (c *redisCouponCache) Invalidate(ctx context.Context, shopID snowflake.ID, code string) {
	if err := c.client.Del(ctx, couponKey(shopID, code)).Err(); err != nil {
		c.log.Warn("coupon cache invalidate failed", zap.Error(err))
	}
}

func couponKey(shopID snowflake.ID, code string) string {
	return fmt.Sprintf(keyCouponResolver, shopID.String(), strings.ToUpper(strings.TrimSpace(code)))
}
