// Package testing accelerates commission hold periods so scheduler and
// end-to-end tests don't have to wait days for a sweep to find work.
package testing

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	"gorm.io/gorm"
)

type TimeAccelerator struct {
	db *gorm.DB
}

func NewTimeAccelerator(db *gorm.DB) *TimeAccelerator {
	return &TimeAccelerator{db: db}
}

// MatureCommission moves a pending commission's eligible date behind now
// so the next sweep claims it.
func (ta *TimeAccelerator) MatureCommission(ctx context.Context, commissionID snowflake.ID) error {
	now := time.Now().UTC()
	return ta.db.WithContext(ctx).Exec(
		`UPDATE commissions
		 SET eligible_date = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		now.Add(-1*time.Minute),
		now,
		commissionID,
		commissiondomain.StatusPending,
	).Error
}

// MatureAllPending matures every pending commission still inside its
// hold period.
func (ta *TimeAccelerator) MatureAllPending(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	result := ta.db.WithContext(ctx).Exec(
		`UPDATE commissions
		 SET eligible_date = ?, updated_at = ?
		 WHERE status = ? AND eligible_date > ?`,
		now.Add(-1*time.Minute),
		now,
		commissiondomain.StatusPending,
		now,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// MatureShopCommissions matures every pending commission of one shop.
func (ta *TimeAccelerator) MatureShopCommissions(ctx context.Context, shopID snowflake.ID) error {
	now := time.Now().UTC()
	return ta.db.WithContext(ctx).Exec(
		`UPDATE commissions
		 SET eligible_date = ?, updated_at = ?
		 WHERE shop_id = ? AND status = ?`,
		now.Add(-1*time.Minute),
		now,
		shopID,
		commissiondomain.StatusPending,
	).Error
}

// SetEligibleDate pins an exact eligible date, any status.
func (ta *TimeAccelerator) SetEligibleDate(ctx context.Context, commissionID snowflake.ID, eligibleDate time.Time) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE commissions
		 SET eligible_date = ?, updated_at = ?
		 WHERE id = ?`,
		eligibleDate,
		time.Now().UTC(),
		commissionID,
	).Error
}

// CommissionInfo shows a commission's sweep readiness for debugging.
type CommissionInfo struct {
	ID           snowflake.ID
	ShopID       snowflake.ID
	Status       commissiondomain.CommissionStatus
	EligibleDate time.Time
	TimeUntilDue time.Duration
	DueForSweep  bool
	AmountCents  int64
	Currency     string
	PayoutRunID  snowflake.ID
	OrderID      string
}

func (ta *TimeAccelerator) GetCommissionInfo(ctx context.Context, commissionID snowflake.ID) (*CommissionInfo, error) {
	var row struct {
		ID           snowflake.ID
		ShopID       snowflake.ID
		Status       commissiondomain.CommissionStatus
		EligibleDate time.Time
		AmountCents  int64
		Currency     string
		PayoutRunID  snowflake.ID
		OrderID      string
	}

	err := ta.db.WithContext(ctx).Raw(
		`SELECT id, shop_id, status, eligible_date, amount_cents, currency, payout_run_id, order_id
		 FROM commissions
		 WHERE id = ?`,
		commissionID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &CommissionInfo{
		ID:           row.ID,
		ShopID:       row.ShopID,
		Status:       row.Status,
		EligibleDate: row.EligibleDate,
		TimeUntilDue: row.EligibleDate.Sub(now),
		DueForSweep:  !now.Before(row.EligibleDate) && row.Status == commissiondomain.StatusPending,
		AmountCents:  row.AmountCents,
		Currency:     row.Currency,
		PayoutRunID:  row.PayoutRunID,
		OrderID:      row.OrderID,
	}, nil
}

// GetAllPending lists pending commissions ordered by eligible date.
func (ta *TimeAccelerator) GetAllPending(ctx context.Context) ([]CommissionInfo, error) {
	var rows []struct {
		ID           snowflake.ID
		ShopID       snowflake.ID
		Status       commissiondomain.CommissionStatus
		EligibleDate time.Time
		AmountCents  int64
		Currency     string
	}

	err := ta.db.WithContext(ctx).Raw(
		`SELECT id, shop_id, status, eligible_date, amount_cents, currency
		 FROM commissions
		 WHERE status = ?
		 ORDER BY eligible_date ASC`,
		commissiondomain.StatusPending,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	infos := make([]CommissionInfo, 0, len(rows))
	for _, row := range rows {
		infos = append(infos, CommissionInfo{
			ID:           row.ID,
			ShopID:       row.ShopID,
			Status:       row.Status,
			EligibleDate: row.EligibleDate,
			TimeUntilDue: row.EligibleDate.Sub(now),
			DueForSweep:  !now.Before(row.EligibleDate),
			AmountCents:  row.AmountCents,
			Currency:     row.Currency,
		})
	}

	return infos, nil
}

// RequeueOutboxEvent zeroes an outbox row's attempts so dispatch picks it
// up again after a test swapped the failing endpoint out.
func (ta *TimeAccelerator) RequeueOutboxEvent(ctx context.Context, eventID snowflake.ID) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET attempts = 0, last_error = NULL
		 WHERE id = ? AND published = ?`,
		eventID,
		false,
	).Error
}
