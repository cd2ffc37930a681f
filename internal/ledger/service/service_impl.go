package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/internal/clock"
	"github.com/smallbiznis/partnerly/internal/events"
	ledgerdomain "github.com/smallbiznis/partnerly/internal/ledger/domain"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  ledgerdomain.Repository

	Outbox *events.Outbox `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   ledgerdomain.Repository
	outbox *events.Outbox
}

func New(p Params) ledgerdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("ledger.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		outbox: p.Outbox,
	}
}

// Append implements domain.Service.
func (s *Service) Append(ctx context.Context, db *gorm.DB, req ledgerdomain.AppendEntryRequest) (*ledgerdomain.LedgerEntry, bool, error) {
	if req.ShopID == 0 {
		return nil, false, ledgerdomain.ErrInvalidShop
	}
	if req.AffiliateID == 0 {
		return nil, false, ledgerdomain.ErrInvalidAffiliate
	}
	switch req.EntryType {
	case ledgerdomain.EntryCommissionApproved,
		ledgerdomain.EntryCommissionReversed,
		ledgerdomain.EntryPayoutPaid:
	default:
		return nil, false, ledgerdomain.ErrInvalidEntryType
	}
	if req.SourceType == "" || req.SourceID == 0 {
		return nil, false, ledgerdomain.ErrInvalidSource
	}
	if req.AmountCents < 0 {
		return nil, false, ledgerdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, false, ledgerdomain.ErrInvalidCurrency
	}

	if db == nil {
		db = s.db
	}

	entry := &ledgerdomain.LedgerEntry{
		ID:          s.genID.Generate(),
		ShopID:      req.ShopID,
		AffiliateID: req.AffiliateID,
		EntryType:   req.EntryType,
		SourceType:  req.SourceType,
		SourceID:    req.SourceID,
		AmountCents: ledgerdomain.SignedAmount(req.EntryType, req.AmountCents),
		Currency:    currency,
		CreatedAt:   s.clock.Now(),
	}

	inserted, err := s.repo.Insert(ctx, db, entry)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		existing, err := s.repo.FindBySource(ctx, db, req.ShopID, req.EntryType, req.SourceType, req.SourceID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
		return nil, false, ledgerdomain.ErrInvalidSource
	}

	if s.outbox != nil {
		if err := s.outbox.PublishTx(ctx, db, events.Event{
			ShopID: req.ShopID,
			Type:   events.EventLedgerEntryCreated,
			Payload: map[string]any{
				"ledger_entry_id": entry.ID.String(),
				"affiliate_id":    entry.AffiliateID.String(),
				"entry_type":      string(entry.EntryType),
				"source_type":     string(entry.SourceType),
				"source_id":       entry.SourceID.String(),
				"amount_cents":    entry.AmountCents,
				"currency":        entry.Currency,
			},
			DedupeKey: "ledger_entry:" + entry.ID.String(),
		}); err != nil {
			return nil, false, err
		}
	}

	return entry, true, nil
}

// Balance implements domain.Service.
func (s *Service) Balance(ctx context.Context, affiliateID string) (ledgerdomain.BalanceResponse, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok || shopID == 0 {
		return ledgerdomain.BalanceResponse{}, ledgerdomain.ErrInvalidShop
	}

	parsed, err := snowflake.ParseString(strings.TrimSpace(affiliateID))
	if err != nil || parsed == 0 {
		return ledgerdomain.BalanceResponse{}, ledgerdomain.ErrInvalidAffiliate
	}

	totals, err := s.repo.TotalsByAffiliate(ctx, s.db, shopID, parsed)
	if err != nil {
		return ledgerdomain.BalanceResponse{}, err
	}

	return ledgerdomain.BalanceResponse{
		AffiliateID: parsed.String(),
		Totals:      *totals,
	}, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, req ledgerdomain.ListLedgerRequest) (ledgerdomain.ListLedgerResponse, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok || shopID == 0 {
		return ledgerdomain.ListLedgerResponse{}, ledgerdomain.ErrInvalidShop
	}

	affiliateID, err := snowflake.ParseString(strings.TrimSpace(req.AffiliateID))
	if err != nil || affiliateID == 0 {
		return ledgerdomain.ListLedgerResponse{}, ledgerdomain.ErrInvalidAffiliate
	}

	filter := ledgerdomain.ListFilter{}
	if entryType := strings.TrimSpace(req.EntryType); entryType != "" {
		switch ledgerdomain.EntryType(entryType) {
		case ledgerdomain.EntryCommissionApproved,
			ledgerdomain.EntryCommissionReversed,
			ledgerdomain.EntryPayoutPaid:
			filter.EntryType = ledgerdomain.EntryType(entryType)
		default:
			return ledgerdomain.ListLedgerResponse{}, ledgerdomain.ErrInvalidEntryType
		}
	}

	entries, err := s.repo.ListByAffiliate(ctx, s.db, shopID, affiliateID, filter, req.Pagination)
	if err != nil {
		return ledgerdomain.ListLedgerResponse{}, err
	}

	limit := req.Pagination.Limit()
	pageInfo, entries := pagination.BuildCursorPageInfo(entries, limit, func(entry *ledgerdomain.LedgerEntry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        entry.ID.String(),
			CreatedAt: entry.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	resp := ledgerdomain.ListLedgerResponse{
		Entries: make([]ledgerdomain.LedgerEntry, 0, len(entries)),
	}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, *entry)
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}

	return resp, nil
}
