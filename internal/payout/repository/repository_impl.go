package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mentorlink/settlement/internal/payout/domain"
	"github.com/mentorlink/settlement/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const payoutColumns = `id, mentor_id, amount, currency, status, failure_reason,
	provider_reference, provider_acked_at, requested_at, processed_at,
	completed_at, cancelled_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payout *domain.Payout) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payouts (
			id, mentor_id, amount, currency, status, failure_reason,
			provider_reference, provider_acked_at, requested_at, processed_at,
			completed_at, cancelled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payout.ID,
		payout.MentorID,
		payout.Amount,
		payout.Currency,
		payout.Status,
		payout.FailureReason,
		payout.ProviderReference,
		payout.ProviderAckedAt,
		payout.RequestedAt,
		payout.ProcessedAt,
		payout.CompletedAt,
		payout.CancelledAt,
		payout.CreatedAt,
		payout.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payout, error) {
	var item domain.Payout
	err := db.WithContext(ctx).Raw(
		`SELECT `+payoutColumns+` FROM payouts WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payouts
		 SET status = ?, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusProcessing,
		now,
		now,
		id,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProviderAcked(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payouts
		 SET provider_acked_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND provider_acked_at IS NULL`,
		now,
		now,
		id,
		domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, providerReference string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payouts
		 SET status = ?, provider_reference = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusCompleted,
		providerReference,
		now,
		now,
		id,
		domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payouts
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusFailed,
		reason,
		now,
		id,
		domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payouts
		 SET status = ?, cancelled_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?) AND provider_acked_at IS NULL`,
		domain.StatusCancelled,
		now,
		now,
		id,
		domain.StatusPending,
		domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListPayoutFilter, page pagination.Pagination) ([]domain.Payout, int64, error) {
	where, args := buildFilter(filter)
	page = page.Normalize()

	var total int64
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payouts WHERE `+where, args...,
	).Scan(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []domain.Payout
	listArgs := append(append([]any{}, args...), page.PageSize, page.Offset())
	if err := db.WithContext(ctx).Raw(
		`SELECT `+payoutColumns+`
		 FROM payouts
		 WHERE `+where+`
		 ORDER BY requested_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		listArgs...,
	).Scan(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func buildFilter(filter domain.ListPayoutFilter) (string, []any) {
	clauses := []string{"1 = 1"}
	args := []any{}
	if filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.MentorID != nil {
		clauses = append(clauses, "mentor_id = ?")
		args = append(args, *filter.MentorID)
	}
	if filter.From != nil {
		clauses = append(clauses, "requested_at >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		clauses = append(clauses, "requested_at <= ?")
		args = append(args, *filter.To)
	}
	return strings.Join(clauses, " AND "), args
}
