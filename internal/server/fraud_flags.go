package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	frauddomain "github.com/smallbiznis/partnerly/internal/fraud/domain"
)

func (s *Server) ListFraudFlags(c *gin.Context) {
	var req frauddomain.ListFlagsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.fraudSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) CreateFraudFlag(c *gin.Context) {
	var req frauddomain.FlagCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	flag, err := s.fraudSvc.FlagCommission(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil && flag != nil {
		targetID := flag.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "fraud_flag.created", "fraud_flag", &targetID, map[string]any{
			"commission_id": req.CommissionID,
			"flag_type":     string(req.FlagType),
		})
	}

	c.JSON(http.StatusCreated, flag)
}

// ResolveFraudFlag clears one flag; once an affiliate's last unresolved
// flag is gone its commissions stop being blocked.
func (s *Server) ResolveFraudFlag(c *gin.Context) {
	flagID := strings.TrimSpace(c.Param("id"))
	flag, err := s.fraudSvc.ResolveFlag(c.Request.Context(), flagID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil && flag != nil {
		targetID := flag.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "fraud_flag.resolved", "fraud_flag", &targetID, nil)
	}

	c.JSON(http.StatusOK, flag)
}
