package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type OverviewRequest struct {
	Start time.Time
	End   time.Time
}

type SeriesPoint struct {
	Period string `json:"period"`
	Value  int64  `json:"value"`
}

// FunnelResponse walks the acquisition funnel for the window: raw
// clicks, orders that attributed, commissions created from them.
type FunnelResponse struct {
	Clicks         int64         `json:"clicks"`
	Attributions   int64         `json:"attributions"`
	Commissions    int64         `json:"commissions"`
	ConversionRate *float64      `json:"conversion_rate,omitempty"`
	ClickSeries    []SeriesPoint `json:"click_series"`
	HasData        bool          `json:"has_data"`
}

type StatusBreakdown struct {
	Status      string `json:"status"`
	Count       int64  `json:"count"`
	AmountCents int64  `json:"amount_cents"`
}

// EarningsResponse aggregates commission money for the window plus the
// payout total actually settled in it.
type EarningsResponse struct {
	Currency     string            `json:"currency"`
	ByStatus     []StatusBreakdown `json:"by_status"`
	OwedCents    int64             `json:"owed_cents"`
	PaidOutCents int64             `json:"paid_out_cents"`
	HasData      bool              `json:"has_data"`
}

type AffiliateStanding struct {
	AffiliateID     snowflake.ID `json:"affiliate_id"`
	Name            string       `json:"name"`
	CommissionCount int64        `json:"commission_count"`
	EarnedCents     int64        `json:"earned_cents"`
}

type TopAffiliatesResponse struct {
	Currency   string              `json:"currency"`
	Affiliates []AffiliateStanding `json:"affiliates"`
	HasData    bool                `json:"has_data"`
}

// Service exposes the program dashboard read models.
type Service interface {
	GetFunnel(ctx context.Context, req OverviewRequest) (FunnelResponse, error)
	GetEarnings(ctx context.Context, req OverviewRequest) (EarningsResponse, error)
	GetTopAffiliates(ctx context.Context, req OverviewRequest, limit int) (TopAffiliatesResponse, error)
}

var (
	ErrInvalidShop = errors.New("invalid_shop")
)
