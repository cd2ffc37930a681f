package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	payoutdomain "github.com/smallbiznis/partnerly/internal/payout/domain"
)

func (s *Server) ListPayoutRuns(c *gin.Context) {
	var req payoutdomain.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.payoutSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetPayoutRun(c *gin.Context) {
	detail, err := s.payoutSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

func (s *Server) CreatePayoutRun(c *gin.Context) {
	var req payoutdomain.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	run, err := s.payoutSvc.CreateRun(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil && run != nil {
		targetID := run.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "payout_run.created", "payout_run", &targetID, map[string]any{
			"members": len(req.CommissionIDs),
		})
	}

	c.JSON(http.StatusCreated, run)
}

func (s *Server) ApprovePayoutRun(c *gin.Context) {
	var req payoutdomain.ApproveRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.RunID = strings.TrimSpace(c.Param("id"))

	result, err := s.payoutSvc.ApproveRun(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil && result != nil && result.Run != nil {
		targetID := result.Run.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "payout_run.approved", "payout_run", &targetID, nil)
	}

	c.JSON(http.StatusOK, result)
}

// PayNow creates a run over the given commissions and pays it in the
// same transaction.
func (s *Server) PayNow(c *gin.Context) {
	var req payoutdomain.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.payoutSvc.PayNow(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil && result != nil && result.Run != nil {
		targetID := result.Run.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "payout_run.paid", "payout_run", &targetID, map[string]any{
			"members": len(req.CommissionIDs),
		})
	}

	c.JSON(http.StatusOK, result)
}

// GetPayoutStatement serves the rendered PDF statement for one
// affiliate's share of a paid run.
func (s *Server) GetPayoutStatement(c *gin.Context) {
	statement, err := s.payoutSvc.Statement(c.Request.Context(), payoutdomain.StatementRequest{
		RunID:       strings.TrimSpace(c.Param("id")),
		AffiliateID: strings.TrimSpace(c.Param("affiliate_id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", statement.FileName))
	c.Data(http.StatusOK, "application/pdf", statement.Content)
}

func (s *Server) GetPayoutProviderConfig(c *gin.Context) {
	summary, err := s.payoutSvc.GetProviderConfig(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *Server) UpsertPayoutProviderConfig(c *gin.Context) {
	var req payoutdomain.UpsertProviderConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	summary, err := s.payoutSvc.UpsertProviderConfig(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil && summary != nil {
		targetID := summary.Provider
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "payout_provider.updated", "payout_provider", &targetID, nil)
	}

	c.JSON(http.StatusOK, summary)
}
