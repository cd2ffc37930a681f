package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type testCleanupRequest struct {
	Prefix string `json:"prefix"`
}

// TestCleanup wipes shops whose name matches the prefix, children first.
// Mounted outside production only; e2e suites use it between scenarios.
func (s *Server) TestCleanup(c *gin.Context) {
	if s.cfg.Environment == "production" {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req testCleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	prefix := strings.TrimSpace(req.Prefix)
	if prefix == "" {
		AbortWithError(c, newValidationError("prefix", "required", "prefix is required"))
		return
	}

	ctx := c.Request.Context()
	like := prefix + "%"

	var shopIDs []int64
	if err := s.db.WithContext(ctx).
		Table("shops").
		Select("id").
		Where("name LIKE ?", like).
		Scan(&shopIDs).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	if len(shopIDs) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "shops_removed": 0})
		return
	}

	if err := s.db.WithContext(ctx).Exec(
		`DELETE FROM payout_run_commissions
		 WHERE payout_run_id IN (SELECT id FROM payout_runs WHERE shop_id IN ?)`, shopIDs,
	).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	childTables := []string{
		"audit_logs",
		"outbox_events",
		"ledger_entries",
		"payout_runs",
		"payout_provider_configs",
		"fraud_flags",
		"commissions",
		"subscription_attributions",
		"order_attributions",
		"clicks",
		"coupons",
		"affiliates",
		"offers",
		"api_keys",
		"shop_members",
	}
	for _, table := range childTables {
		if err := s.db.WithContext(ctx).Exec(
			`DELETE FROM `+table+` WHERE shop_id IN ?`, shopIDs,
		).Error; err != nil {
			AbortWithError(c, err)
			return
		}
	}

	if err := s.db.WithContext(ctx).Exec(
		`DELETE FROM shops WHERE id IN ?`, shopIDs,
	).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "shops_removed": len(shopIDs)})
}
