package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
)

//go:generate mockgen -source=service.go -destination=mock/service_mock.go -package=mock

// TrackClickRequest carries one click event. IPHash and UAHash are
// expected to arrive pre-hashed from the edge; raw values can be run
// through HashSignal first.
type TrackClickRequest struct {
	AffiliateID string `json:"affiliate_id"`
	ClickID     string `json:"click_id"`
	LinkID      string `json:"link_id"`
	LandingURL  string `json:"landing_url"`
	IPHash      string `json:"ip_hash"`
	UAHash      string `json:"ua_hash"`
	Referrer    string `json:"referrer"`
}

// TrackClickResponse reports the stored click. Deduplicated is set when
// the click token had been recorded before and the original row is
// returned instead of a new one.
type TrackClickResponse struct {
	Click        *Click `json:"click"`
	Deduplicated bool   `json:"deduplicated"`
}

type ListClickRequest struct {
	pagination.Pagination
	AffiliateID string `form:"affiliate_id"`
	Since       string `form:"since"`
	Until       string `form:"until"`
}

type ListClickResponse struct {
	pagination.PageInfo
	Clicks []Click `json:"clicks"`
}

type Service interface {
	TrackClick(context.Context, TrackClickRequest) (*TrackClickResponse, error)
	List(context.Context, ListClickRequest) (*ListClickResponse, error)
	GetByClickID(ctx context.Context, shopID snowflake.ID, clickID string) (*Click, error)
	FingerprintCandidates(ctx context.Context, shopID snowflake.ID, ipHash, uaHash string, since time.Time) ([]*Click, error)
	// PruneOlderThan deletes clicks created before cutoff in batches of
	// batchSize until none remain, returning the total removed.
	PruneOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

var (
	ErrInvalidShop       = errors.New("invalid_shop")
	ErrInvalidAffiliate  = errors.New("invalid_affiliate")
	ErrInvalidClickID    = errors.New("invalid_click_id")
	ErrInvalidLandingURL = errors.New("invalid_landing_url")
	ErrInvalidTimeRange  = errors.New("invalid_time_range")
	ErrNotFound          = errors.New("click_not_found")
)
