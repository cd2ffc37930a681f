package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	overviewdomain "github.com/smallbiznis/partnerly/internal/overview/domain"
)

const defaultTopAffiliatesLimit = 10

func (s *Server) GetOverviewFunnel(c *gin.Context) {
	req, err := overviewRequestFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.overviewSvc.GetFunnel(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetOverviewEarnings(c *gin.Context) {
	req, err := overviewRequestFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.overviewSvc.GetEarnings(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetOverviewTopAffiliates(c *gin.Context) {
	req, err := overviewRequestFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	limit := defaultTopAffiliatesLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	resp, err := s.overviewSvc.GetTopAffiliates(c.Request.Context(), req, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// TrackerOverview serves the reporting surface for API keys holding
// reports:read: funnel and earnings for the window in one payload.
func (s *Server) TrackerOverview(c *gin.Context) {
	req, err := overviewRequestFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	funnel, err := s.overviewSvc.GetFunnel(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	earnings, err := s.overviewSvc.GetEarnings(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"funnel":   funnel,
		"earnings": earnings,
	})
}

// overviewRequestFromQuery reads the reporting window from start/end.
// Missing bounds default to the trailing 30 days ending now.
func overviewRequestFromQuery(c *gin.Context) (overviewdomain.OverviewRequest, error) {
	start, err := parseOptionalTime(c.Query("start"), false)
	if err != nil {
		return overviewdomain.OverviewRequest{}, newValidationError("start", "invalid_time", "start must be RFC3339 or YYYY-MM-DD")
	}
	end, err := parseOptionalTime(c.Query("end"), true)
	if err != nil {
		return overviewdomain.OverviewRequest{}, newValidationError("end", "invalid_time", "end must be RFC3339 or YYYY-MM-DD")
	}

	req := overviewdomain.OverviewRequest{}
	if end != nil {
		req.End = *end
	} else {
		req.End = time.Now().UTC()
	}
	if start != nil {
		req.Start = *start
	} else {
		req.Start = req.End.AddDate(0, 0, -30)
	}

	if !req.End.After(req.Start) {
		return overviewdomain.OverviewRequest{}, newValidationError("end", "invalid_time_range", "end must be after start")
	}

	return req, nil
}
