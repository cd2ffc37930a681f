package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/partnerly/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/partnerly/internal/observability/metrics"
	shopdomain "github.com/smallbiznis/partnerly/internal/shop/domain"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"go.uber.org/zap"
)

const (
	rateLimitReasonShopRate         = "shop-rate"
	rateLimitReasonEndpointRate     = "endpoint-rate"
	rateLimitReasonOrderConcurrency = "order-concurrency"
)

type orderIngestRateLimitKey struct {
	OrderID string `json:"order_id"`
}

// IngestRateLimit throttles the tracker ingest endpoints per shop and
// per endpoint, and serializes concurrent submissions of one order.
func (s *Server) IngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.ingestLimiter == nil || !s.ingestLimiter.Enabled() {
			c.Next()
			return
		}

		shopID, ok := shopcontext.ShopIDFromContext(c.Request.Context())
		if !ok || shopID == 0 {
			AbortWithError(c, shopdomain.ErrInvalidShop)
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		ctx := c.Request.Context()

		allowed, err := s.ingestLimiter.AllowShop(ctx, shopID.String())
		if err != nil {
			if !s.failOpen(ctx, "shop rate limit check failed", err) {
				AbortWithError(c, ErrServiceUnavailable)
				return
			}
			allowed = true
		}
		if !allowed {
			denyIngestRateLimit(c, endpoint, shopID.String(), rateLimitReasonShopRate, s.obsMetrics)
			return
		}

		allowed, err = s.ingestLimiter.AllowEndpoint(ctx, shopID.String(), endpoint)
		if err != nil {
			if !s.failOpen(ctx, "endpoint rate limit check failed", err) {
				AbortWithError(c, ErrServiceUnavailable)
				return
			}
			allowed = true
		}
		if !allowed {
			denyIngestRateLimit(c, endpoint, shopID.String(), rateLimitReasonEndpointRate, s.obsMetrics)
			return
		}

		orderID, err := readOrderIngestKey(c)
		if err != nil {
			logger.FromContext(ctx).Warn("ingest rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}

		if orderID != "" {
			lockToken, locked, err := s.ingestLimiter.TryLockOrder(ctx, shopID.String(), orderID)
			if err != nil {
				if !s.failOpen(ctx, "order concurrency lock failed", err) {
					AbortWithError(c, ErrServiceUnavailable)
					return
				}
			} else {
				if !locked {
					denyIngestRateLimit(c, endpoint, shopID.String(), rateLimitReasonOrderConcurrency, s.obsMetrics)
					return
				}
				defer func() {
					if err := s.ingestLimiter.ReleaseOrder(ctx, shopID.String(), orderID, lockToken); err != nil {
						logger.FromContext(ctx).Warn("order concurrency unlock failed", zap.Error(err))
					}
				}()
			}
		}

		recordRateLimitAllowed(ctx, endpoint, shopID.String(), s.obsMetrics)
		c.Next()
	}
}

func (s *Server) failOpen(ctx context.Context, msg string, err error) bool {
	logger.FromContext(ctx).Warn(msg, zap.Error(err))
	return s.ingestLimiter != nil && s.ingestLimiter.FailOpen()
}

func denyIngestRateLimit(c *gin.Context, endpoint, shopID, reason string, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("ingest rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, shopID, reason, metrics)

	c.Header("Retry-After", "1")
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitAllowed(ctx context.Context, endpoint, shopID string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, shopID, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, shopID, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, shopID, endpoint, reason)
}

func readOrderIngestKey(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload orderIngestRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}

	return strings.TrimSpace(payload.OrderID), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
