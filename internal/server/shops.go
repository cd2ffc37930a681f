package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	shopdomain "github.com/smallbiznis/partnerly/internal/shop/domain"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
)

// CreateShop opens a new program and enrolls the creating user as its
// owner, so the shop is never ownerless.
func (s *Server) CreateShop(c *gin.Context) {
	actor, ok := s.actorFromContext(c)
	if !ok || actor.Type != ActorUser {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req shopdomain.CreateShopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	shop, err := s.shopSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	shopID, err := snowflake.ParseString(shop.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := shopcontext.WithShopID(c.Request.Context(), int64(shopID))
	if _, err := s.shopSvc.UpsertMember(ctx, shopdomain.UpsertMemberRequest{
		UserID: actor.ID,
		Role:   shopdomain.RoleOwner,
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := shop.ID
		_ = s.auditSvc.AuditLog(ctx, &shopID, "", nil, "shop.created", "shop", &targetID, map[string]any{
			"name": strings.TrimSpace(req.Name),
		})
	}

	c.JSON(http.StatusCreated, shop)
}

func (s *Server) ListShops(c *gin.Context) {
	shops, err := s.shopSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shops": shops})
}

func (s *Server) GetShop(c *gin.Context) {
	shopID, ok := shopcontext.ShopIDFromContext(c.Request.Context())
	if !ok || shopID == 0 {
		AbortWithError(c, shopdomain.ErrInvalidShop)
		return
	}

	shop, err := s.shopSvc.GetByID(c.Request.Context(), shopID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, shop)
}

func (s *Server) UpdateShop(c *gin.Context) {
	shopID, ok := shopcontext.ShopIDFromContext(c.Request.Context())
	if !ok || shopID == 0 {
		AbortWithError(c, shopdomain.ErrInvalidShop)
		return
	}

	var req shopdomain.UpdateShopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	shop, err := s.shopSvc.Update(c.Request.Context(), shopID.String(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil && shop != nil {
		targetID := shop.ID
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "shop.updated", "shop", &targetID, nil)
	}

	c.JSON(http.StatusOK, shop)
}

func (s *Server) ListShopMembers(c *gin.Context) {
	members, err := s.shopSvc.ListMembers(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (s *Server) UpsertShopMember(c *gin.Context) {
	var req shopdomain.UpsertMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	member, err := s.shopSvc.UpsertMember(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil && member != nil {
		targetID := member.UserID
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "shop_member.upserted", "shop_member", &targetID, map[string]any{
			"role": member.Role,
		})
	}

	c.JSON(http.StatusOK, member)
}

func (s *Server) RemoveShopMember(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if err := s.shopSvc.RemoveMember(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := userID
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "shop_member.removed", "shop_member", &targetID, nil)
	}

	c.Status(http.StatusNoContent)
}
