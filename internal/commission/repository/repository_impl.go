package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/internal/commission/domain"
	"github.com/smallbiznis/partnerly/pkg/db/option"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const commissionColumns = `id, shop_id, affiliate_id, order_attribution_id, order_id,
	rebill_sequence, amount_cents, currency, status, eligible_date, rule_snapshot,
	payout_run_id, created_at, updated_at`

// Insert tolerates conflicts on either unique index: the (attribution,
// sequence) pair or the (shop, order) pair. Both mean "already
// commissioned", so the conflict target is left open.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, commission *domain.Commission) (bool, error) {
	if strings.EqualFold(db.Dialector.Name(), "sqlite") {
		return r.insertSQLite(ctx, db, commission)
	}
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(commission)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) insertSQLite(ctx context.Context, db *gorm.DB, commission *domain.Commission) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO commissions (
			id, shop_id, affiliate_id, order_attribution_id, order_id,
			rebill_sequence, amount_cents, currency, status, eligible_date,
			rule_snapshot, payout_run_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		commission.ID,
		commission.ShopID,
		commission.AffiliateID,
		commission.OrderAttributionID,
		commission.OrderID,
		commission.RebillSequence,
		commission.AmountCents,
		commission.Currency,
		commission.Status,
		commission.EligibleDate,
		commission.RuleSnapshot,
		commission.PayoutRunID,
		commission.CreatedAt,
		commission.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*domain.Commission, error) {
	var commission domain.Commission
	err := db.WithContext(ctx).Raw(
		`SELECT `+commissionColumns+`
		 FROM commissions WHERE shop_id = ? AND id = ?`,
		shopID,
		id,
	).Scan(&commission).Error
	if err != nil {
		return nil, err
	}
	if commission.ID == 0 {
		return nil, nil
	}
	return &commission, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*domain.Commission, error) {
	var commission domain.Commission
	err := db.WithContext(ctx).Raw(
		`SELECT `+commissionColumns+`
		 FROM commissions WHERE shop_id = ? AND id = ?
		 FOR UPDATE`,
		shopID,
		id,
	).Scan(&commission).Error
	if err != nil {
		return nil, err
	}
	if commission.ID == 0 {
		return nil, nil
	}
	return &commission, nil
}

func (r *repo) FindBySequence(ctx context.Context, db *gorm.DB, shopID, attributionID snowflake.ID, sequence int) (*domain.Commission, error) {
	var commission domain.Commission
	err := db.WithContext(ctx).Raw(
		`SELECT `+commissionColumns+`
		 FROM commissions
		 WHERE shop_id = ? AND order_attribution_id = ? AND rebill_sequence = ?`,
		shopID,
		attributionID,
		sequence,
	).Scan(&commission).Error
	if err != nil {
		return nil, err
	}
	if commission.ID == 0 {
		return nil, nil
	}
	return &commission, nil
}

func (r *repo) FindByOrderID(ctx context.Context, db *gorm.DB, shopID snowflake.ID, orderID string) ([]*domain.Commission, error) {
	var commissions []*domain.Commission
	err := db.WithContext(ctx).Raw(
		`SELECT `+commissionColumns+`
		 FROM commissions
		 WHERE shop_id = ? AND order_id = ?
		 ORDER BY created_at ASC, id ASC`,
		shopID,
		orderID,
	).Scan(&commissions).Error
	if err != nil {
		return nil, err
	}
	return commissions, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, shopID snowflake.ID, ids []snowflake.ID) ([]*domain.Commission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var commissions []*domain.Commission
	err := db.WithContext(ctx).Raw(
		`SELECT `+commissionColumns+`
		 FROM commissions
		 WHERE shop_id = ? AND id IN ?
		 ORDER BY created_at ASC, id ASC`,
		shopID,
		ids,
	).Scan(&commissions).Error
	if err != nil {
		return nil, err
	}
	return commissions, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, commission *domain.Commission) error {
	return db.WithContext(ctx).Exec(
		`UPDATE commissions
		 SET status = ?, payout_run_id = ?, updated_at = ?
		 WHERE id = ?`,
		commission.Status,
		commission.PayoutRunID,
		commission.UpdatedAt,
		commission.ID,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, shopID snowflake.ID, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Commission, error) {
	var commissions []*domain.Commission
	stmt := db.WithContext(ctx).
		Model(&domain.Commission{}).
		Where("shop_id = ?", shopID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.AffiliateID != 0 {
		stmt = stmt.Where("affiliate_id = ?", filter.AffiliateID)
	}
	if filter.OrderID != "" {
		stmt = stmt.Where("order_id = ?", filter.OrderID)
	}
	if filter.PayoutRunID != 0 {
		stmt = stmt.Where("payout_run_id = ?", filter.PayoutRunID)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&commissions).Error
	if err != nil {
		return nil, err
	}
	return commissions, nil
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB, shopID snowflake.ID) (map[domain.CommissionStatus]int64, error) {
	var rows []struct {
		Status domain.CommissionStatus
		Count  int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count
		 FROM commissions WHERE shop_id = ?
		 GROUP BY status`,
		shopID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.CommissionStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
