package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	affiliatedomain "github.com/smallbiznis/partnerly/internal/affiliate/domain"
)

type listAffiliatesQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int32  `form:"page_size,default=25"`
	Status    string `form:"status"`
	Email     string `form:"email"`
}

type createAffiliateRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	OfferID         string `json:"offer_id"`
	PayoutMethod    string `json:"payout_method"`
	PayoutReference string `json:"payout_reference"`
	PayoutTermsDays int    `json:"payout_terms_days"`
}

type updateAffiliateRequest struct {
	Name            *string `json:"name"`
	OfferID         *string `json:"offer_id"`
	PayoutMethod    *string `json:"payout_method"`
	PayoutReference *string `json:"payout_reference"`
	PayoutTermsDays *int    `json:"payout_terms_days"`
}

type assignCouponRequest struct {
	Code string `json:"code"`
}

func (s *Server) ListAffiliates(c *gin.Context) {
	var query listAffiliatesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.affiliateSvc.List(c.Request.Context(), affiliatedomain.ListAffiliateRequest{
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
		Status:    query.Status,
		Email:     query.Email,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) CreateAffiliate(c *gin.Context) {
	var req createAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	affiliate, err := s.affiliateSvc.Create(c.Request.Context(), affiliatedomain.CreateAffiliateRequest{
		Name:            req.Name,
		Email:           req.Email,
		OfferID:         req.OfferID,
		PayoutMethod:    req.PayoutMethod,
		PayoutReference: req.PayoutReference,
		PayoutTermsDays: req.PayoutTermsDays,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := affiliate.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "affiliate.created", "affiliate", &targetID, map[string]any{
			"name": strings.TrimSpace(req.Name),
		})
	}

	c.JSON(http.StatusCreated, affiliate)
}

func (s *Server) GetAffiliate(c *gin.Context) {
	affiliate, err := s.affiliateSvc.GetByID(c.Request.Context(), affiliatedomain.GetAffiliateRequest{
		ID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, affiliate)
}

func (s *Server) UpdateAffiliate(c *gin.Context) {
	var req updateAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	affiliate, err := s.affiliateSvc.Update(c.Request.Context(), strings.TrimSpace(c.Param("id")), affiliatedomain.UpdateAffiliateRequest{
		Name:            req.Name,
		OfferID:         req.OfferID,
		PayoutMethod:    req.PayoutMethod,
		PayoutReference: req.PayoutReference,
		PayoutTermsDays: req.PayoutTermsDays,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, affiliate)
}

func (s *Server) ApproveAffiliate(c *gin.Context) {
	s.transitionAffiliate(c, "affiliate.approved", s.affiliateSvc.Approve)
}

func (s *Server) SuspendAffiliate(c *gin.Context) {
	s.transitionAffiliate(c, "affiliate.suspended", s.affiliateSvc.Suspend)
}

func (s *Server) RejectAffiliate(c *gin.Context) {
	s.transitionAffiliate(c, "affiliate.rejected", s.affiliateSvc.Reject)
}

func (s *Server) transitionAffiliate(
	c *gin.Context,
	auditAction string,
	transition func(ctx context.Context, id string) (affiliatedomain.Affiliate, error),
) {
	id := strings.TrimSpace(c.Param("id"))
	affiliate, err := transition(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := affiliate.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, auditAction, "affiliate", &targetID, nil)
	}

	c.JSON(http.StatusOK, affiliate)
}

func (s *Server) ListAffiliateCoupons(c *gin.Context) {
	coupons, err := s.affiliateSvc.ListCoupons(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}

func (s *Server) AssignAffiliateCoupon(c *gin.Context) {
	var req assignCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	coupon, err := s.affiliateSvc.AssignCoupon(c.Request.Context(), affiliatedomain.AssignCouponRequest{
		AffiliateID: strings.TrimSpace(c.Param("id")),
		Code:        req.Code,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := coupon.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "coupon.assigned", "coupon", &targetID, map[string]any{
			"code": coupon.Code,
		})
	}

	c.JSON(http.StatusCreated, coupon)
}

func (s *Server) DeactivateCoupon(c *gin.Context) {
	coupon, err := s.affiliateSvc.DeactivateCoupon(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := coupon.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "coupon.deactivated", "coupon", &targetID, nil)
	}

	c.JSON(http.StatusOK, coupon)
}
