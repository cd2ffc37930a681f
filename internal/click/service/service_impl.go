package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	clickdomain "github.com/smallbiznis/partnerly/internal/click/domain"
	"github.com/smallbiznis/partnerly/internal/click/liveevents"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/cloudmetrics"
	"github.com/smallbiznis/partnerly/internal/events"
	obsmetrics "github.com/smallbiznis/partnerly/internal/observability/metrics"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// maxClickTokenLen bounds externally supplied tokens so tracking
	// links cannot grow unbounded index entries.
	maxClickTokenLen = 128

	fingerprintCandidateLimit = 50
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  clickdomain.Repository

	Outbox     *events.Outbox             `optional:"true"`
	LiveEvents *liveevents.Hub            `optional:"true"`
	Metrics    *cloudmetrics.CloudMetrics `optional:"true"`
	ObsMetrics *obsmetrics.Metrics        `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       clickdomain.Repository
	outbox     *events.Outbox
	liveEvents *liveevents.Hub
	metrics    *cloudmetrics.CloudMetrics
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) clickdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("click.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		outbox:     p.Outbox,
		liveEvents: p.LiveEvents,
		metrics:    p.Metrics,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) TrackClick(ctx context.Context, req clickdomain.TrackClickRequest) (*clickdomain.TrackClickResponse, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	affiliateID, err := snowflake.ParseString(strings.TrimSpace(req.AffiliateID))
	if err != nil || affiliateID == 0 {
		return nil, clickdomain.ErrInvalidAffiliate
	}

	landingURL, err := normalizeLandingURL(req.LandingURL)
	if err != nil {
		return nil, err
	}

	clickID, supplied, err := normalizeClickToken(req.ClickID)
	if err != nil {
		return nil, err
	}

	// Supplied tokens are checked before any other work so retries of an
	// already-recorded click return the original row untouched.
	if supplied {
		existing, err := s.repo.FindByClickID(ctx, s.db, shopID, clickID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.emitLiveClick(existing, liveevents.StatusDeduplicated, liveevents.SourceAPI)
			s.recordIngest(ctx, shopID, liveevents.StatusDeduplicated)
			return &clickdomain.TrackClickResponse{Click: existing, Deduplicated: true}, nil
		}
	}

	exists, err := s.affiliateExists(ctx, shopID, affiliateID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, clickdomain.ErrInvalidAffiliate
	}

	record := &clickdomain.Click{
		ID:          s.genID.Generate(),
		ShopID:      shopID,
		AffiliateID: affiliateID,
		ClickID:     clickID,
		LinkID:      strings.TrimSpace(req.LinkID),
		LandingURL:  landingURL,
		IPHash:      strings.TrimSpace(req.IPHash),
		UAHash:      strings.TrimSpace(req.UAHash),
		Referrer:    strings.TrimSpace(req.Referrer),
		CreatedAt:   s.clock.Now(),
	}

	inserted, err := s.repo.Insert(ctx, s.db, record)
	if err != nil {
		return nil, err
	}

	if !inserted {
		existing, err := s.repo.FindByClickID(ctx, s.db, shopID, clickID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.emitLiveClick(existing, liveevents.StatusDeduplicated, liveevents.SourceAPI)
			s.recordIngest(ctx, shopID, liveevents.StatusDeduplicated)
			return &clickdomain.TrackClickResponse{Click: existing, Deduplicated: true}, nil
		}
		// Conflict with a row we cannot read back; surface as dedup of
		// the request token rather than inventing a second record.
		return nil, clickdomain.ErrInvalidClickID
	}

	// async metrics (best effort)
	if s.metrics != nil {
		go s.metrics.IncClickIngested(shopID.String())
	}

	s.recordIngest(ctx, shopID, liveevents.StatusAccepted)
	s.emitClickRecorded(record)
	s.emitLiveClick(record, liveevents.StatusAccepted, liveevents.SourceAPI)

	return &clickdomain.TrackClickResponse{Click: record, Deduplicated: false}, nil
}

func (s *Service) List(ctx context.Context, req clickdomain.ListClickRequest) (*clickdomain.ListClickResponse, error) {
	shopID, err := s.shopIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	filter := clickdomain.ListFilter{}
	if value := strings.TrimSpace(req.AffiliateID); value != "" {
		affiliateID, err := snowflake.ParseString(value)
		if err != nil || affiliateID == 0 {
			return nil, clickdomain.ErrInvalidAffiliate
		}
		filter.AffiliateID = affiliateID
	}
	if value := strings.TrimSpace(req.Since); value != "" {
		since, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, clickdomain.ErrInvalidTimeRange
		}
		filter.Since = since
	}
	if value := strings.TrimSpace(req.Until); value != "" {
		until, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, clickdomain.ErrInvalidTimeRange
		}
		filter.Until = until
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && filter.Until.Before(filter.Since) {
		return nil, clickdomain.ErrInvalidTimeRange
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, shopID, filter, req.Pagination)
	if err != nil {
		return nil, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, limit, func(click *clickdomain.Click) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        click.ID.String(),
			CreatedAt: click.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	clicks := make([]clickdomain.Click, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		clicks = append(clicks, *item)
	}

	resp := &clickdomain.ListClickResponse{Clicks: clicks}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) GetByClickID(ctx context.Context, shopID snowflake.ID, clickID string) (*clickdomain.Click, error) {
	clickID = strings.TrimSpace(clickID)
	if shopID == 0 {
		return nil, clickdomain.ErrInvalidShop
	}
	if clickID == "" {
		return nil, clickdomain.ErrInvalidClickID
	}
	click, err := s.repo.FindByClickID(ctx, s.db, shopID, clickID)
	if err != nil {
		return nil, err
	}
	if click == nil {
		return nil, clickdomain.ErrNotFound
	}
	return click, nil
}

func (s *Service) FingerprintCandidates(ctx context.Context, shopID snowflake.ID, ipHash, uaHash string, since time.Time) ([]*clickdomain.Click, error) {
	if shopID == 0 {
		return nil, clickdomain.ErrInvalidShop
	}
	ipHash = strings.TrimSpace(ipHash)
	uaHash = strings.TrimSpace(uaHash)
	if ipHash == "" || uaHash == "" {
		return nil, nil
	}
	return s.repo.FindFingerprintCandidates(ctx, s.db, shopID, ipHash, uaHash, since, fingerprintCandidateLimit)
}

func (s *Service) PruneOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if cutoff.IsZero() {
		return 0, clickdomain.ErrInvalidTimeRange
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		removed, err := s.repo.DeleteOlderThan(ctx, s.db, cutoff, batchSize)
		if err != nil {
			return total, err
		}
		total += removed
		if removed < int64(batchSize) {
			break
		}
	}

	if total > 0 {
		s.log.Info("pruned clicks",
			zap.Int64("removed", total),
			zap.Time("cutoff", cutoff),
		)
	}
	return total, nil
}

func (s *Service) affiliateExists(ctx context.Context, shopID, affiliateID snowflake.ID) (bool, error) {
	var id snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM affiliates WHERE shop_id = ? AND id = ?`,
		shopID,
		affiliateID,
	).Scan(&id).Error
	if err != nil {
		return false, err
	}
	return id != 0, nil
}

func (s *Service) recordIngest(ctx context.Context, shopID snowflake.ID, status string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordClickIngest(ctx, shopID.String(), status)
}

func (s *Service) emitClickRecorded(record *clickdomain.Click) {
	if s.outbox == nil || record == nil {
		return
	}
	payload := events.ClickRecordedPayload{
		ClickID:     record.ClickID,
		AffiliateID: record.AffiliateID.String(),
		LinkID:      record.LinkID,
	}
	event := events.Event{
		ShopID:    record.ShopID,
		Type:      events.EventClickRecorded,
		Payload:   payload.ToMap(),
		DedupeKey: record.ID.String(),
	}
	go func() {
		_ = s.outbox.Publish(context.Background(), event)
	}()
}

func (s *Service) emitLiveClick(record *clickdomain.Click, status string, source string) {
	if s.liveEvents == nil || record == nil {
		return
	}
	event := liveevents.LiveEvent{
		ClickID:     record.ClickID,
		AffiliateID: record.AffiliateID.String(),
		LinkID:      record.LinkID,
		LandingURL:  record.LandingURL,
		Referrer:    record.Referrer,
		RecordedAt:  record.CreatedAt.UTC().Format(time.RFC3339Nano),
		Status:      strings.TrimSpace(status),
		Source:      strings.TrimSpace(source),
	}
	s.liveEvents.Publish(record.ShopID.String(), event)
}

func (s *Service) shopIDFromContext(ctx context.Context) (snowflake.ID, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok || shopID == 0 {
		return 0, clickdomain.ErrInvalidShop
	}
	return shopID, nil
}

func normalizeLandingURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", clickdomain.ErrInvalidLandingURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", clickdomain.ErrInvalidLandingURL
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", clickdomain.ErrInvalidLandingURL
	}
	if parsed.Host == "" {
		return "", clickdomain.ErrInvalidLandingURL
	}
	return parsed.String(), nil
}

// normalizeClickToken trims the supplied token or mints a ULID when the
// request carried none. Supplied is false for minted tokens.
func normalizeClickToken(raw string) (string, bool, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ulid.Make().String(), false, nil
	}
	if len(token) > maxClickTokenLen || strings.ContainsAny(token, " \t\n") {
		return "", false, clickdomain.ErrInvalidClickID
	}
	return token, true, nil
}
