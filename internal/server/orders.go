package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	attributiondomain "github.com/smallbiznis/partnerly/internal/attribution/domain"
	conversiondomain "github.com/smallbiznis/partnerly/internal/conversion/domain"
)

type refundEventRequest struct {
	OrderID string `json:"order_id"`
}

// IngestOrder runs the attribution pipeline for one order webhook.
// Redeliveries of the same order converge on the already-stored result.
func (s *Server) IngestOrder(c *gin.Context) {
	var event attributiondomain.OrderEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.conversionSvc.ProcessOrder(c.Request.Context(), event)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result != nil && (result.Replayed || result.Skipped || result.Attribution == nil) {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// IngestRefund reverses every reversible commission of the refunded
// order. Orders this system never attributed are a zero-count success.
func (s *Server) IngestRefund(c *gin.Context) {
	var req refundEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if strings.TrimSpace(req.OrderID) == "" {
		AbortWithError(c, newValidationError("order_id", "required", "order_id is required"))
		return
	}

	result, err := s.conversionSvc.ProcessRefund(c.Request.Context(), req.OrderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// IngestCancellation deactivates the matching subscription lineage so
// later rebills stop earning.
func (s *Server) IngestCancellation(c *gin.Context) {
	var req conversiondomain.CancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.conversionSvc.ProcessCancellation(c.Request.Context(), req); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
