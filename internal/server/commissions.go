package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
)

func (s *Server) ListCommissions(c *gin.Context) {
	var req commissiondomain.ListCommissionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.commissionSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetCommission(c *gin.Context) {
	commission, err := s.commissionSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, commission)
}

func (s *Server) BulkValidateCommissions(c *gin.Context) {
	s.bulkTransitionCommissions(c, "commission.validated", s.commissionSvc.BulkValidate)
}

func (s *Server) BulkApproveCommissions(c *gin.Context) {
	s.bulkTransitionCommissions(c, "commission.approved", s.commissionSvc.BulkApprove)
}

func (s *Server) BulkReverseCommissions(c *gin.Context) {
	s.bulkTransitionCommissions(c, "commission.reversed", s.commissionSvc.BulkReverse)
}

func (s *Server) bulkTransitionCommissions(
	c *gin.Context,
	auditAction string,
	transition func(context.Context, commissiondomain.BulkTransitionRequest) (*commissiondomain.BulkTransitionResult, error),
) {
	var req commissiondomain.BulkTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := transition(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil && result != nil {
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, auditAction, "commission", nil, map[string]any{
			"requested":    result.Requested,
			"transitioned": result.Transitioned,
			"skipped":      len(result.Skipped),
		})
	}

	c.JSON(http.StatusOK, result)
}
