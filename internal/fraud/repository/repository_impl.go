package repository

import (
	"context"
	"sort"

	"github.com/bwmarrin/snowflake"
	frauddomain "github.com/smallbiznis/partnerly/internal/fraud/domain"
	"github.com/smallbiznis/partnerly/pkg/db/option"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
)

const fraudFlagColumns = `id, shop_id, affiliate_id, commission_id, flag_type, score, reason,
	resolved, resolved_by, resolved_at, created_at`

type repo struct{}

func Provide() frauddomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, flag *frauddomain.FraudFlag) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO fraud_flags (
			id, shop_id, affiliate_id, commission_id, flag_type, score, reason,
			resolved, resolved_by, resolved_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		flag.ID,
		flag.ShopID,
		flag.AffiliateID,
		flag.CommissionID,
		flag.FlagType,
		flag.Score,
		flag.Reason,
		flag.Resolved,
		flag.ResolvedBy,
		flag.ResolvedAt,
		flag.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*frauddomain.FraudFlag, error) {
	var flag frauddomain.FraudFlag
	err := db.WithContext(ctx).Raw(
		`SELECT `+fraudFlagColumns+`
		 FROM fraud_flags
		 WHERE shop_id = ? AND id = ?`,
		shopID,
		id,
	).Scan(&flag).Error
	if err != nil {
		return nil, err
	}
	if flag.ID == 0 {
		return nil, nil
	}
	return &flag, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, shopID snowflake.ID, filter frauddomain.ListFilter, page pagination.Pagination) ([]*frauddomain.FraudFlag, error) {
	stmt := db.WithContext(ctx).
		Model(&frauddomain.FraudFlag{}).
		Where("shop_id = ?", shopID)

	if filter.AffiliateID != 0 {
		stmt = stmt.Where("affiliate_id = ?", filter.AffiliateID)
	}
	if filter.CommissionID != 0 {
		stmt = stmt.Where("commission_id = ?", filter.CommissionID)
	}
	if filter.Resolved != nil {
		stmt = stmt.Where("resolved = ?", *filter.Resolved)
	}

	stmt = option.ApplyPagination(page).Apply(stmt)

	var flags []*frauddomain.FraudFlag
	if err := stmt.Order("created_at desc, id desc").Find(&flags).Error; err != nil {
		return nil, err
	}
	return flags, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, flag *frauddomain.FraudFlag) error {
	return db.WithContext(ctx).Exec(
		`UPDATE fraud_flags
		 SET resolved = ?, resolved_by = ?, resolved_at = ?
		 WHERE shop_id = ? AND id = ?`,
		flag.Resolved,
		flag.ResolvedBy,
		flag.ResolvedAt,
		flag.ShopID,
		flag.ID,
	).Error
}

func (r *repo) BlockedCommissionIDs(ctx context.Context, db *gorm.DB, shopID snowflake.ID, commissionIDs []snowflake.ID) ([]snowflake.ID, error) {
	if len(commissionIDs) == 0 {
		return nil, nil
	}

	var blocked []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT commission_id
		 FROM fraud_flags
		 WHERE shop_id = ? AND resolved = ? AND commission_id IN ?`,
		shopID,
		false,
		commissionIDs,
	).Scan(&blocked).Error
	if err != nil {
		return nil, err
	}

	sort.Slice(blocked, func(i, j int) bool { return blocked[i] < blocked[j] })
	return blocked, nil
}
