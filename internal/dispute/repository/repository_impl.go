package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mentorlink/settlement/internal/dispute/domain"
	"github.com/mentorlink/settlement/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const disputeColumns = `id, session_id, payment_id, mentee_id, reason, description,
	status, resolution, refund_amount, admin_notes, created_at, updated_at, resolved_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, dispute *domain.Dispute) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO disputes (
			id, session_id, payment_id, mentee_id, reason, description,
			status, resolution, refund_amount, admin_notes,
			created_at, updated_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dispute.ID,
		dispute.SessionID,
		dispute.PaymentID,
		dispute.MenteeID,
		dispute.Reason,
		dispute.Description,
		dispute.Status,
		dispute.Resolution,
		dispute.RefundAmount,
		dispute.AdminNotes,
		dispute.CreatedAt,
		dispute.UpdatedAt,
		dispute.ResolvedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Dispute, error) {
	return r.find(ctx, db, `id = ?`, id)
}

func (r *repo) FindBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*domain.Dispute, error) {
	return r.find(ctx, db, `session_id = ?`, sessionID)
}

func (r *repo) FindOpenBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*domain.Dispute, error) {
	var item domain.Dispute
	err := db.WithContext(ctx).Raw(
		`SELECT `+disputeColumns+`
		 FROM disputes
		 WHERE session_id = ? AND status IN (?, ?)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		sessionID,
		domain.StatusPending,
		domain.StatusUnderReview,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) find(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Dispute, error) {
	var item domain.Dispute
	err := db.WithContext(ctx).Raw(
		`SELECT `+disputeColumns+`
		 FROM disputes
		 WHERE `+where+`
		 ORDER BY created_at DESC
		 LIMIT 1`,
		arg,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkResolved(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.DisputeStatus, resolution domain.DisputeResolution, refundAmount *int64, adminNotes string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE disputes
		 SET status = ?, resolution = ?, refund_amount = ?, admin_notes = ?,
		     resolved_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		status,
		resolution,
		refundAmount,
		adminNotes,
		now,
		now,
		id,
		domain.StatusPending,
		domain.StatusUnderReview,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListDisputeFilter, page pagination.Pagination) ([]domain.Dispute, int64, error) {
	where, args := buildFilter(filter)
	page = page.Normalize()

	var total int64
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM disputes WHERE `+where, args...,
	).Scan(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []domain.Dispute
	listArgs := append(append([]any{}, args...), page.PageSize, page.Offset())
	if err := db.WithContext(ctx).Raw(
		`SELECT `+disputeColumns+`
		 FROM disputes
		 WHERE `+where+`
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		listArgs...,
	).Scan(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func buildFilter(filter domain.ListDisputeFilter) (string, []any) {
	clauses := []string{"1 = 1"}
	args := []any{}
	if filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Reason != nil {
		clauses = append(clauses, "reason = ?")
		args = append(args, *filter.Reason)
	}
	if filter.MenteeID != nil {
		clauses = append(clauses, "mentee_id = ?")
		args = append(args, *filter.MenteeID)
	}
	if filter.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, *filter.To)
	}
	return strings.Join(clauses, " AND "), args
}
