package server

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	apikeydomain "github.com/smallbiznis/partnerly/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/partnerly/internal/audit/domain"
	auditcontext "github.com/smallbiznis/partnerly/internal/auditcontext"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
)

const (
	contextAuthTypeKey     = "auth_type"
	contextShopIDKey       = "shop_id"
	contextAPIKeyIDKey     = "api_key_id"
	contextAPIKeyScopesKey = "api_key_scopes"

	lastUsedStampInterval = time.Minute
)

// APIKeyRequired authenticates tracker requests with an API key and
// requires the given scope. Shop identity is derived solely from the
// api_keys row; a request that tries to name a shop itself is rejected.
func (s *Server) APIKeyRequired(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if requestHasShopID(c) {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		hash := apikeydomain.HashAPIKey(parts[1])
		now := time.Now().UTC()

		var record struct {
			ID         snowflake.ID   `gorm:"column:id"`
			ShopID     snowflake.ID   `gorm:"column:shop_id"`
			KeyHash    string         `gorm:"column:key_hash"`
			Scopes     pq.StringArray `gorm:"column:scopes"`
			LastUsedAt *time.Time     `gorm:"column:last_used_at"`
		}

		if err := s.db.WithContext(c.Request.Context()).Raw(
			`SELECT id, shop_id, key_hash, scopes, last_used_at
			 FROM api_keys
			 WHERE key_hash = ?
			   AND is_active = true
			   AND (expires_at IS NULL OR expires_at > ?)
			 LIMIT 1`,
			hash,
			now,
		).Scan(&record).Error; err != nil {
			AbortWithError(c, err)
			return
		}

		if record.ID == 0 || subtle.ConstantTimeCompare([]byte(record.KeyHash), []byte(hash)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		if scope != "" && !hasScope(record.Scopes, scope) {
			AbortWithError(c, ErrForbidden)
			return
		}

		s.stampKeyUsed(c.Request.Context(), record.ID, record.LastUsedAt, now)

		ctx := c.Request.Context()
		scopes := make([]string, 0, len(record.Scopes))
		scopes = append(scopes, record.Scopes...)
		ctx = context.WithValue(ctx, contextAuthTypeKey, string(ActorAPIKey))
		ctx = context.WithValue(ctx, contextShopIDKey, int64(record.ShopID))
		ctx = context.WithValue(ctx, contextAPIKeyIDKey, int64(record.ID))
		ctx = context.WithValue(ctx, contextAPIKeyScopesKey, scopes)
		ctx = shopcontext.WithShopID(ctx, int64(record.ShopID))
		ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeAPIKey), record.ID.String())

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// stampKeyUsed refreshes last_used_at at most once per interval so the
// ingest hot path does not write a row per request.
func (s *Server) stampKeyUsed(ctx context.Context, keyID snowflake.ID, lastUsed *time.Time, now time.Time) {
	if lastUsed != nil && now.Sub(*lastUsed) < lastUsedStampInterval {
		return
	}
	if err := s.db.WithContext(ctx).Exec(
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		now,
		int64(keyID),
	).Error; err != nil && s.log != nil {
		s.log.Warn("api key last_used stamp failed")
	}
}

func hasScope(scopes []string, scope string) bool {
	for _, candidate := range scopes {
		if strings.EqualFold(strings.TrimSpace(candidate), scope) {
			return true
		}
	}
	return false
}

func requestHasShopID(c *gin.Context) bool {
	if strings.TrimSpace(c.GetHeader(HeaderShop)) != "" {
		return true
	}
	if value, ok := c.GetQuery("shop_id"); ok && strings.TrimSpace(value) != "" {
		return true
	}
	if value, ok := c.GetQuery("shopId"); ok && strings.TrimSpace(value) != "" {
		return true
	}
	return false
}
