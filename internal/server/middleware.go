package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/partnerly/internal/audit/domain"
	auditcontext "github.com/smallbiznis/partnerly/internal/auditcontext"
	shopdomain "github.com/smallbiznis/partnerly/internal/shop/domain"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
)

const (
	// HeaderShop selects the active shop on the dashboard surface. The
	// tracker surface never reads it; there the shop comes from the key.
	HeaderShop = "X-Shop-ID"
	// HeaderUser carries the authenticated user identity set by the
	// fronting proxy after it has verified the session.
	HeaderUser = "X-User-ID"

	contextUserIDKey = "user_id"
)

// ActorRequired requires a proxy-authenticated user identity on every
// dashboard request and records it for audit trails.
func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUser))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID)

		ctx := auditcontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeUser), userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ShopRequired scopes the request to the shop named in X-Shop-ID.
// Whether the actor may touch that shop is decided per route by
// authorizeShopAction; an unknown shop simply yields no role.
func (s *Server) ShopRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderShop))
		if raw == "" {
			AbortWithError(c, shopdomain.ErrInvalidShop)
			return
		}

		shopID, err := snowflake.ParseString(raw)
		if err != nil || shopID == 0 {
			AbortWithError(c, shopdomain.ErrInvalidShop)
			return
		}

		ctx := shopcontext.WithShopID(c.Request.Context(), int64(shopID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
