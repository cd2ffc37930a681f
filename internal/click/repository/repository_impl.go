package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/internal/click/domain"
	"github.com/smallbiznis/partnerly/pkg/db/option"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const clickColumns = `id, shop_id, affiliate_id, click_id, link_id, landing_url,
	ip_hash, ua_hash, referrer, created_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, click *domain.Click) (bool, error) {
	if strings.EqualFold(db.Dialector.Name(), "sqlite") {
		return r.insertSQLite(ctx, db, click)
	}
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "shop_id"}, {Name: "click_id"}},
			DoNothing: true,
		}).
		Create(click)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) insertSQLite(ctx context.Context, db *gorm.DB, click *domain.Click) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO clicks (
			id, shop_id, affiliate_id, click_id, link_id, landing_url,
			ip_hash, ua_hash, referrer, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (shop_id, click_id) DO NOTHING`,
		click.ID,
		click.ShopID,
		click.AffiliateID,
		click.ClickID,
		click.LinkID,
		click.LandingURL,
		click.IPHash,
		click.UAHash,
		click.Referrer,
		click.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*domain.Click, error) {
	var click domain.Click
	err := db.WithContext(ctx).Raw(
		`SELECT `+clickColumns+`
		 FROM clicks WHERE shop_id = ? AND id = ?`,
		shopID,
		id,
	).Scan(&click).Error
	if err != nil {
		return nil, err
	}
	if click.ID == 0 {
		return nil, nil
	}
	return &click, nil
}

func (r *repo) FindByClickID(ctx context.Context, db *gorm.DB, shopID snowflake.ID, clickID string) (*domain.Click, error) {
	var click domain.Click
	err := db.WithContext(ctx).Raw(
		`SELECT `+clickColumns+`
		 FROM clicks WHERE shop_id = ? AND click_id = ?`,
		shopID,
		clickID,
	).Scan(&click).Error
	if err != nil {
		return nil, err
	}
	if click.ID == 0 {
		return nil, nil
	}
	return &click, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, shopID snowflake.ID, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Click, error) {
	var clicks []*domain.Click
	stmt := db.WithContext(ctx).
		Model(&domain.Click{}).
		Where("shop_id = ?", shopID)
	if filter.AffiliateID != 0 {
		stmt = stmt.Where("affiliate_id = ?", filter.AffiliateID)
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
		Find(&clicks).Error
	if err != nil {
		return nil, err
	}
	return clicks, nil
}

func (r *repo) FindFingerprintCandidates(ctx context.Context, db *gorm.DB, shopID snowflake.ID, ipHash, uaHash string, since time.Time, limit int) ([]*domain.Click, error) {
	if limit <= 0 {
		limit = 50
	}
	var clicks []*domain.Click
	err := db.WithContext(ctx).Raw(
		`SELECT `+clickColumns+`
		 FROM clicks
		 WHERE shop_id = ? AND ip_hash = ? AND ua_hash = ? AND created_at >= ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		shopID,
		ipHash,
		uaHash,
		since,
		limit,
	).Scan(&clicks).Error
	if err != nil {
		return nil, err
	}
	return clicks, nil
}

func (r *repo) DeleteOlderThan(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	// Subquery form so the batch limit works on both postgres and sqlite.
	result := db.WithContext(ctx).Exec(
		`DELETE FROM clicks WHERE id IN (
			SELECT id FROM clicks WHERE created_at < ? ORDER BY created_at ASC LIMIT ?
		)`,
		cutoff,
		limit,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
