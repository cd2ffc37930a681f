package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	offerdomain "github.com/smallbiznis/partnerly/internal/offer/domain"
)

func (s *Server) ListOffers(c *gin.Context) {
	var req offerdomain.ListOfferRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.offerSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) CreateOffer(c *gin.Context) {
	var req offerdomain.CreateOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	offer, err := s.offerSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := offer.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "offer.created", "offer", &targetID, map[string]any{
			"name": strings.TrimSpace(req.Name),
		})
	}

	c.JSON(http.StatusCreated, offer)
}

func (s *Server) GetOffer(c *gin.Context) {
	offer, err := s.offerSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, offer)
}

func (s *Server) UpdateOffer(c *gin.Context) {
	var req offerdomain.UpdateOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	offer, err := s.offerSvc.Update(c.Request.Context(), strings.TrimSpace(c.Param("id")), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, offer)
}

// ArchiveOffer retires the offer from new enrollments; existing
// affiliates keep earning under its terms.
func (s *Server) ArchiveOffer(c *gin.Context) {
	offer, err := s.offerSvc.Archive(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := offer.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "offer.archived", "offer", &targetID, nil)
	}

	c.JSON(http.StatusOK, offer)
}
