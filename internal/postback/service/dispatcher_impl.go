package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/partnerly/internal/config"
	"github.com/smallbiznis/partnerly/internal/observability/metrics"
	postbackdomain "github.com/smallbiznis/partnerly/internal/postback/domain"
	shopdomain "github.com/smallbiznis/partnerly/internal/shop/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type DispatcherParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	ShopRepo shopdomain.Repository

	ObsMetrics *metrics.Metrics `optional:"true"`
}

type Dispatcher struct {
	db         *gorm.DB
	log        *zap.Logger
	shopRepo   shopdomain.Repository
	client     *http.Client
	obsMetrics *metrics.Metrics
}

func NewDispatcher(p DispatcherParams) postbackdomain.Dispatcher {
	timeout := time.Duration(p.Cfg.Postback.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		db:         p.DB,
		log:        p.Log.Named("postback.dispatcher"),
		shopRepo:   p.ShopRepo,
		client:     &http.Client{Timeout: timeout},
		obsMetrics: p.ObsMetrics,
	}
}

// Deliver implements domain.Dispatcher. It never returns an error; the
// owning state transition already committed, so a failed send is a
// result to report and retry, not a reason to fail the caller.
func (d *Dispatcher) Deliver(ctx context.Context, delivery postbackdomain.Delivery) postbackdomain.Result {
	result := postbackdomain.Result{CommissionID: delivery.CommissionID, Event: delivery.Event}

	shop, err := d.shopRepo.FindByID(ctx, d.db, delivery.ShopID)
	if err != nil {
		result.Error = err.Error()
		d.obsMetrics.RecordPostbackDelivery(ctx, "error")
		return result
	}
	if shop == nil || strings.TrimSpace(shop.PostbackURL) == "" {
		// No listener configured; nothing owed for this shop.
		result.OK = true
		d.obsMetrics.RecordPostbackDelivery(ctx, "skipped")
		return result
	}

	target, err := RenderURL(shop.PostbackURL, delivery)
	if err != nil {
		result.Error = err.Error()
		d.log.Warn("postback url rejected",
			zap.String("shop_id", delivery.ShopID.String()),
			zap.Error(err),
		)
		d.obsMetrics.RecordPostbackDelivery(ctx, "invalid_url")
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		result.Error = err.Error()
		d.obsMetrics.RecordPostbackDelivery(ctx, "invalid_url")
		return result
	}

	resp, err := d.client.Do(req)
	if err != nil {
		result.Error = err.Error()
		d.log.Warn("postback delivery failed",
			zap.String("commission_id", delivery.CommissionID),
			zap.String("event", delivery.Event),
			zap.Error(err),
		)
		d.obsMetrics.RecordPostbackDelivery(ctx, "failed")
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		result.Error = fmt.Sprintf("postback_status_%d", resp.StatusCode)
		d.log.Warn("postback rejected by listener",
			zap.String("commission_id", delivery.CommissionID),
			zap.String("event", delivery.Event),
			zap.Int("status", resp.StatusCode),
		)
		d.obsMetrics.RecordPostbackDelivery(ctx, "failed")
		return result
	}

	result.OK = true
	d.obsMetrics.RecordPostbackDelivery(ctx, "delivered")
	return result
}

// RenderURL substitutes the delivery's values into the shop's postback
// URL template. Macro values are query-escaped; the rendered URL must be
// absolute http(s).
func RenderURL(template string, delivery postbackdomain.Delivery) (string, error) {
	replacer := strings.NewReplacer(
		"{commission_id}", url.QueryEscape(delivery.CommissionID),
		"{affiliate_id}", url.QueryEscape(delivery.AffiliateID),
		"{event}", url.QueryEscape(delivery.Event),
		"{amount}", url.QueryEscape(formatAmount(delivery.AmountCents)),
		"{amount_cents}", url.QueryEscape(strconv.FormatInt(delivery.AmountCents, 10)),
		"{currency}", url.QueryEscape(delivery.Currency),
		"{order_id}", url.QueryEscape(delivery.OrderID),
	)
	rendered := replacer.Replace(strings.TrimSpace(template))

	parsed, err := url.Parse(rendered)
	if err != nil {
		return "", postbackdomain.ErrInvalidURL
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", postbackdomain.ErrInvalidURL
	}
	return parsed.String(), nil
}

// formatAmount renders minor units as a decimal string, 3000 -> "30.00".
func formatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
