package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/partnerly/internal/ledger/domain"
	"github.com/smallbiznis/partnerly/pkg/db/option"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const ledgerColumns = `id, shop_id, affiliate_id, entry_type, source_type, source_id,
	amount_cents, currency, created_at`

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *ledgerdomain.LedgerEntry) (bool, error) {
	var result *gorm.DB
	if strings.EqualFold(db.Dialector.Name(), "sqlite") {
		result = db.WithContext(ctx).Exec(
			`INSERT INTO ledger_entries (
				id, shop_id, affiliate_id, entry_type, source_type, source_id,
				amount_cents, currency, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (shop_id, entry_type, source_type, source_id) DO NOTHING`,
			entry.ID,
			entry.ShopID,
			entry.AffiliateID,
			entry.EntryType,
			entry.SourceType,
			entry.SourceID,
			entry.AmountCents,
			entry.Currency,
			entry.CreatedAt,
		)
	} else {
		result = db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "shop_id"},
				{Name: "entry_type"},
				{Name: "source_type"},
				{Name: "source_id"},
			},
			DoNothing: true,
		}).Create(entry)
	}
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindBySource(ctx context.Context, db *gorm.DB, shopID snowflake.ID, entryType ledgerdomain.EntryType, sourceType ledgerdomain.SourceType, sourceID snowflake.ID) (*ledgerdomain.LedgerEntry, error) {
	var entry ledgerdomain.LedgerEntry
	err := db.WithContext(ctx).Raw(
		`SELECT `+ledgerColumns+`
		 FROM ledger_entries
		 WHERE shop_id = ? AND entry_type = ? AND source_type = ? AND source_id = ?`,
		shopID,
		entryType,
		sourceType,
		sourceID,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) ListByAffiliate(ctx context.Context, db *gorm.DB, shopID, affiliateID snowflake.ID, filter ledgerdomain.ListFilter, page pagination.Pagination) ([]*ledgerdomain.LedgerEntry, error) {
	stmt := db.WithContext(ctx).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("shop_id = ?", shopID).
		Where("affiliate_id = ?", affiliateID)

	if filter.EntryType != "" {
		stmt = stmt.Where("entry_type = ?", filter.EntryType)
	}

	stmt = option.ApplyPagination(page).Apply(stmt)

	var entries []*ledgerdomain.LedgerEntry
	if err := stmt.Order("created_at desc, id desc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) TotalsByAffiliate(ctx context.Context, db *gorm.DB, shopID, affiliateID snowflake.ID) (*ledgerdomain.Totals, error) {
	var totals ledgerdomain.Totals
	err := db.WithContext(ctx).Raw(
		`SELECT
			COALESCE(SUM(amount_cents), 0) AS balance_cents,
			COALESCE(SUM(CASE WHEN entry_type = ? THEN amount_cents ELSE 0 END), 0) AS approved_cents,
			COALESCE(SUM(CASE WHEN entry_type = ? THEN -amount_cents ELSE 0 END), 0) AS reversed_cents,
			COALESCE(SUM(CASE WHEN entry_type = ? THEN -amount_cents ELSE 0 END), 0) AS paid_cents
		 FROM ledger_entries
		 WHERE shop_id = ? AND affiliate_id = ?`,
		ledgerdomain.EntryCommissionApproved,
		ledgerdomain.EntryCommissionReversed,
		ledgerdomain.EntryPayoutPaid,
		shopID,
		affiliateID,
	).Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return &totals, nil
}
