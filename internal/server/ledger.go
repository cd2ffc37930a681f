package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/partnerly/internal/ledger/domain"
)

func (s *Server) ListLedgerEntries(c *gin.Context) {
	var req ledgerdomain.ListLedgerRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetAffiliateBalance sums the affiliate's ledger into accrued, reversed,
// paid and owed totals.
func (s *Server) GetAffiliateBalance(c *gin.Context) {
	resp, err := s.ledgerSvc.Balance(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
