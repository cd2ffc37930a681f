package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/internal/attribution/domain"
	"github.com/smallbiznis/partnerly/pkg/db/option"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const attributionColumns = `id, shop_id, order_id, order_number, affiliate_id, click_id,
	method, subtotal_cents, currency, created_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, attribution *domain.OrderAttribution) (bool, error) {
	if strings.EqualFold(db.Dialector.Name(), "sqlite") {
		return r.insertSQLite(ctx, db, attribution)
	}
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "shop_id"}, {Name: "order_id"}},
			DoNothing: true,
		}).
		Create(attribution)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) insertSQLite(ctx context.Context, db *gorm.DB, attribution *domain.OrderAttribution) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO order_attributions (
			id, shop_id, order_id, order_number, affiliate_id, click_id,
			method, subtotal_cents, currency, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (shop_id, order_id) DO NOTHING`,
		attribution.ID,
		attribution.ShopID,
		attribution.OrderID,
		attribution.OrderNumber,
		attribution.AffiliateID,
		attribution.ClickRef,
		attribution.Method,
		attribution.SubtotalCents,
		attribution.Currency,
		attribution.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*domain.OrderAttribution, error) {
	var attribution domain.OrderAttribution
	err := db.WithContext(ctx).Raw(
		`SELECT `+attributionColumns+`
		 FROM order_attributions WHERE shop_id = ? AND id = ?`,
		shopID,
		id,
	).Scan(&attribution).Error
	if err != nil {
		return nil, err
	}
	if attribution.ID == 0 {
		return nil, nil
	}
	return &attribution, nil
}

func (r *repo) FindByOrderID(ctx context.Context, db *gorm.DB, shopID snowflake.ID, orderID string) (*domain.OrderAttribution, error) {
	var attribution domain.OrderAttribution
	err := db.WithContext(ctx).Raw(
		`SELECT `+attributionColumns+`
		 FROM order_attributions WHERE shop_id = ? AND order_id = ?`,
		shopID,
		orderID,
	).Scan(&attribution).Error
	if err != nil {
		return nil, err
	}
	if attribution.ID == 0 {
		return nil, nil
	}
	return &attribution, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, shopID snowflake.ID, filter domain.ListFilter, page pagination.Pagination) ([]*domain.OrderAttribution, error) {
	var attributions []*domain.OrderAttribution
	stmt := db.WithContext(ctx).
		Model(&domain.OrderAttribution{}).
		Where("shop_id = ?", shopID)
	if filter.AffiliateID != 0 {
		stmt = stmt.Where("affiliate_id = ?", filter.AffiliateID)
	}
	if filter.Method != "" {
		stmt = stmt.Where("method = ?", filter.Method)
	}
	if !filter.Since.IsZero() {
		stmt = stmt.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		stmt = stmt.Where("created_at <= ?", filter.Until)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&attributions).Error
	if err != nil {
		return nil, err
	}
	return attributions, nil
}
