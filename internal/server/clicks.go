package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	clickdomain "github.com/smallbiznis/partnerly/internal/click/domain"
)

// TrackClick ingests one click event from a storefront tracker. Replays
// of a click token return the original row with 200 instead of 201.
func (s *Server) TrackClick(c *gin.Context) {
	var req clickdomain.TrackClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.clickSvc.TrackClick(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if resp != nil && resp.Click != nil {
		c.Set("tracking_code", resp.Click.ClickID)
	}

	status := http.StatusCreated
	if resp != nil && resp.Deduplicated {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

func (s *Server) ListClicks(c *gin.Context) {
	var req clickdomain.ListClickRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.clickSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
