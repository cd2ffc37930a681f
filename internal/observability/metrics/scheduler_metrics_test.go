package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/partnerly/internal/authorization"
	commissiondomain "github.com/smallbiznis/partnerly/internal/commission/domain"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "forbidden",
			err:  authorization.ErrForbidden,
			want: SchedulerJobReasonForbidden,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "forbidden", err: authorization.ErrForbidden, want: false},
		{name: "not_found", err: gorm.ErrRecordNotFound, want: false},
		{name: "business_rule", err: errors.New("boom"), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsSchedulerErrorRetryable(tc.err); got != tc.want {
				t.Fatalf("expected retryable=%v, got %v", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "partnerly",
		Environment: "test",
	})

	metrics.AddBatchProcessed("eligibility_sweep", "commissions", 3)

	got := testutil.ToFloat64(metrics.batchProcessedV2.WithLabelValues("eligibility_sweep", "commissions"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestIncCommissionTransition(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "partnerly",
		Environment: "test",
	})

	// pending -> eligible goes through the precomputed counter map.
	metrics.IncCommissionTransition(
		string(commissiondomain.StatusPending),
		string(commissiondomain.StatusEligible),
	)
	metrics.IncCommissionTransition(
		string(commissiondomain.StatusPending),
		string(commissiondomain.StatusEligible),
	)

	// pending -> paid is not a precomputed pair and falls back to the vec.
	metrics.IncCommissionTransition(
		string(commissiondomain.StatusPending),
		string(commissiondomain.StatusPaid),
	)

	fast := testutil.ToFloat64(metrics.commissionTransitions.WithLabelValues(
		string(commissiondomain.StatusPending),
		string(commissiondomain.StatusEligible),
	))
	if fast != 2 {
		t.Fatalf("expected 2 pending->eligible transitions, got %v", fast)
	}

	fallback := testutil.ToFloat64(metrics.commissionTransitions.WithLabelValues(
		string(commissiondomain.StatusPending),
		string(commissiondomain.StatusPaid),
	))
	if fallback != 1 {
		t.Fatalf("expected 1 pending->paid transition, got %v", fallback)
	}
}
