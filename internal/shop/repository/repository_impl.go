package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/internal/shop/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, shop *domain.Shop) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO shops (
			id, name, slug, domain, currency, postback_url, status, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		shop.ID,
		shop.Name,
		shop.Slug,
		shop.Domain,
		shop.Currency,
		shop.PostbackURL,
		shop.Status,
		shop.Metadata,
		shop.CreatedAt,
		shop.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Shop, error) {
	var shop domain.Shop
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, domain, currency, postback_url, status, metadata, created_at, updated_at
		 FROM shops WHERE id = ?`,
		id,
	).Scan(&shop).Error
	if err != nil {
		return nil, err
	}
	if shop.ID == 0 {
		return nil, nil
	}
	return &shop, nil
}

func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Shop, error) {
	var shop domain.Shop
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, domain, currency, postback_url, status, metadata, created_at, updated_at
		 FROM shops WHERE slug = ?`,
		slug,
	).Scan(&shop).Error
	if err != nil {
		return nil, err
	}
	if shop.ID == 0 {
		return nil, nil
	}
	return &shop, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]*domain.Shop, error) {
	var shops []*domain.Shop
	err := db.WithContext(ctx).
		Model(&domain.Shop{}).
		Order("created_at asc, id asc").
		Find(&shops).Error
	if err != nil {
		return nil, err
	}
	return shops, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, shop *domain.Shop) error {
	return db.WithContext(ctx).Exec(
		`UPDATE shops
		 SET name = ?, domain = ?, postback_url = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		shop.Name,
		shop.Domain,
		shop.PostbackURL,
		shop.Status,
		shop.UpdatedAt,
		shop.ID,
	).Error
}

func (r *repo) UpsertMember(ctx context.Context, db *gorm.DB, member *domain.ShopMember) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO shop_members (id, shop_id, user_id, role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (shop_id, user_id)
		 DO UPDATE SET role = excluded.role, updated_at = excluded.updated_at`,
		member.ID,
		member.ShopID,
		member.UserID,
		member.Role,
		member.CreatedAt,
		member.UpdatedAt,
	).Error
}

func (r *repo) DeleteMember(ctx context.Context, db *gorm.DB, shopID snowflake.ID, userID string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM shop_members WHERE shop_id = ? AND user_id = ?`,
		shopID,
		userID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListMembers(ctx context.Context, db *gorm.DB, shopID snowflake.ID) ([]*domain.ShopMember, error) {
	var members []*domain.ShopMember
	err := db.WithContext(ctx).Raw(
		`SELECT id, shop_id, user_id, role, created_at, updated_at
		 FROM shop_members
		 WHERE shop_id = ?
		 ORDER BY created_at asc, id asc`,
		shopID,
	).Scan(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *repo) FindMember(ctx context.Context, db *gorm.DB, shopID snowflake.ID, userID string) (*domain.ShopMember, error) {
	var member domain.ShopMember
	err := db.WithContext(ctx).Raw(
		`SELECT id, shop_id, user_id, role, created_at, updated_at
		 FROM shop_members
		 WHERE shop_id = ? AND user_id = ?`,
		shopID,
		userID,
	).Scan(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == 0 {
		return nil, nil
	}
	return &member, nil
}

func (r *repo) CountMembersByRole(ctx context.Context, db *gorm.DB, shopID snowflake.ID, role string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM shop_members WHERE shop_id = ? AND role = ?`,
		shopID,
		role,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
