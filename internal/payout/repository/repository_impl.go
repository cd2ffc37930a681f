package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/internal/payout/domain"
	"github.com/smallbiznis/partnerly/pkg/db/option"
	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const runColumns = `id, shop_id, period_start, period_end, status, total_cents, currency,
	member_count, external_batch_id, provider, provider_status, paid_at, created_at, updated_at`

func (r *repo) InsertRun(ctx context.Context, db *gorm.DB, run *domain.PayoutRun) error {
	return db.WithContext(ctx).Create(run).Error
}

func (r *repo) FindRunByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*domain.PayoutRun, error) {
	var run domain.PayoutRun
	err := db.WithContext(ctx).Raw(
		`SELECT `+runColumns+`
		 FROM payout_runs WHERE shop_id = ? AND id = ?`,
		shopID,
		id,
	).Scan(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == 0 {
		return nil, nil
	}
	return &run, nil
}

func (r *repo) FindRunByIDForUpdate(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*domain.PayoutRun, error) {
	var run domain.PayoutRun
	err := db.WithContext(ctx).Raw(
		`SELECT `+runColumns+`
		 FROM payout_runs WHERE shop_id = ? AND id = ?
		 FOR UPDATE`,
		shopID,
		id,
	).Scan(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == 0 {
		return nil, nil
	}
	return &run, nil
}

func (r *repo) UpdateRun(ctx context.Context, db *gorm.DB, run *domain.PayoutRun) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payout_runs
		 SET status = ?, external_batch_id = ?, provider = ?, provider_status = ?,
		     paid_at = ?, updated_at = ?
		 WHERE id = ?`,
		run.Status,
		run.ExternalBatchID,
		run.Provider,
		run.ProviderStatus,
		run.PaidAt,
		run.UpdatedAt,
		run.ID,
	).Error
}

func (r *repo) ListRuns(ctx context.Context, db *gorm.DB, shopID snowflake.ID, filter domain.ListFilter, page pagination.Pagination) ([]*domain.PayoutRun, error) {
	var runs []*domain.PayoutRun
	stmt := db.WithContext(ctx).
		Model(&domain.PayoutRun{}).
		Where("shop_id = ?", shopID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *repo) InsertMembers(ctx context.Context, db *gorm.DB, members []domain.PayoutRunCommission) error {
	if len(members) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&members).Error
}

func (r *repo) MemberIDs(ctx context.Context, db *gorm.DB, runID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT commission_id FROM payout_run_commissions
		 WHERE payout_run_id = ? ORDER BY commission_id`,
		runID,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) JoinedCommissionIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]snowflake.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var joined []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT commission_id FROM payout_run_commissions
		 WHERE commission_id IN ?`,
		ids,
	).Scan(&joined).Error
	if err != nil {
		return nil, err
	}
	return joined, nil
}

func (r *repo) FindSubmittedRuns(ctx context.Context, db *gorm.DB, limit int) ([]*domain.PayoutRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []*domain.PayoutRun
	err := db.WithContext(ctx).Raw(
		`SELECT `+runColumns+`
		 FROM payout_runs
		 WHERE status = ? AND provider_status = ? AND external_batch_id <> ''
		 ORDER BY created_at ASC
		 LIMIT ?`,
		domain.RunStatusApproved,
		domain.ProviderStatusSubmitted,
		limit,
	).Scan(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *repo) FindProviderConfig(ctx context.Context, db *gorm.DB, shopID snowflake.ID) (*domain.ProviderConfig, error) {
	var cfg domain.ProviderConfig
	err := db.WithContext(ctx).Raw(
		`SELECT id, shop_id, provider, config, is_active, created_at, updated_at
		 FROM payout_provider_configs
		 WHERE shop_id = ? AND is_active = ?`,
		shopID,
		true,
	).Scan(&cfg).Error
	if err != nil {
		return nil, err
	}
	if cfg.ID == 0 {
		return nil, nil
	}
	return &cfg, nil
}

func (r *repo) UpsertProviderConfig(ctx context.Context, db *gorm.DB, cfg *domain.ProviderConfig) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "shop_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"provider", "config", "is_active", "updated_at",
			}),
		}).
		Create(cfg).Error
}
