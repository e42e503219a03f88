package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mentorlink/settlement/internal/payment/domain"
	"github.com/mentorlink/settlement/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const intentColumns = `id, session_id, amount, currency, provider, provider_method,
	status, provider_reference, client_secret, provider_metadata, created_at, updated_at`

const paymentColumns = `id, session_id, intent_id, mentor_id, mentee_id, amount,
	platform_commission, mentor_payout_amount, currency, provider, status,
	transaction_id, paid_at, refund_amount, refunded_at, hold_state,
	hold_released_at, created_at, updated_at`

func (r *repo) InsertIntent(ctx context.Context, db *gorm.DB, intent *domain.PaymentIntent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_intents (
			id, session_id, amount, currency, provider, provider_method,
			status, provider_reference, client_secret, provider_metadata,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO NOTHING`,
		intent.ID,
		intent.SessionID,
		intent.Amount,
		intent.Currency,
		intent.Provider,
		intent.ProviderMethod,
		intent.Status,
		intent.ProviderReference,
		intent.ClientSecret,
		intent.ProviderMetadata,
		intent.CreatedAt,
		intent.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindIntentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentIntent, error) {
	var item domain.PaymentIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = ? LIMIT 1`,
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

func (r *repo) FindIntentBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*domain.PaymentIntent, error) {
	var item domain.PaymentIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+` FROM payment_intents WHERE session_id = ? LIMIT 1`,
		sessionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateIntentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.IntentStatus, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_intents
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, session_id, intent_id, mentor_id, mentee_id, amount,
			platform_commission, mentor_payout_amount, currency, provider,
			status, transaction_id, paid_at, refund_amount, refunded_at,
			hold_state, hold_released_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id) DO NOTHING`,
		payment.ID,
		payment.SessionID,
		payment.IntentID,
		payment.MentorID,
		payment.MenteeID,
		payment.Amount,
		payment.PlatformCommission,
		payment.MentorPayoutAmount,
		payment.Currency,
		payment.Provider,
		payment.Status,
		payment.TransactionID,
		payment.PaidAt,
		payment.RefundAmount,
		payment.RefundedAt,
		payment.HoldState,
		payment.HoldReleasedAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindPaymentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return r.findPayment(ctx, db, `id = ?`, id)
}

func (r *repo) FindPaymentByTransaction(ctx context.Context, db *gorm.DB, transactionID string) (*domain.Payment, error) {
	return r.findPayment(ctx, db, `transaction_id = ?`, transactionID)
}

func (r *repo) FindPaymentBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*domain.Payment, error) {
	return r.findPayment(ctx, db, `session_id = ?`, sessionID)
}

func (r *repo) findPayment(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE `+where+` LIMIT 1`,
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

func (r *repo) LockPaymentBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE session_id = ?
		 LIMIT 1
		 FOR UPDATE`,
		sessionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) RecordRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, refundTotal int64, fullyRefunded bool, now time.Time) error {
	if fullyRefunded {
		return db.WithContext(ctx).Exec(
			`UPDATE payments
			 SET refund_amount = ?, refunded_at = ?, status = ?, updated_at = ?
			 WHERE id = ?`,
			refundTotal,
			now,
			domain.PaymentStatusRefunded,
			now,
			id,
		).Error
	}
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET refund_amount = ?, refunded_at = ?, updated_at = ?
		 WHERE id = ?`,
		refundTotal,
		now,
		now,
		id,
	).Error
}

func (r *repo) ListReleasableSessions(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT p.session_id
		 FROM payments p
		 JOIN sessions s ON s.id = p.session_id
		 WHERE p.status = ?
		   AND p.hold_state = ?
		   AND s.completed_at IS NOT NULL
		   AND s.completed_at <= ?
		 ORDER BY s.completed_at
		 LIMIT ?
		 FOR UPDATE OF p SKIP LOCKED`,
		domain.PaymentStatusCaptured,
		domain.HoldStatePending,
		cutoff,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ReleaseHold(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET hold_state = ?, hold_released_at = ?, updated_at = ?
		 WHERE id = ? AND hold_state = ?`,
		domain.HoldStateReleased,
		now,
		now,
		id,
		domain.HoldStatePending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListPaymentFilter, page pagination.Pagination) ([]domain.Payment, int64, error) {
	where, args := buildFilter(filter)
	page = page.Normalize()

	var total int64
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payments WHERE `+where, args...,
	).Scan(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []domain.Payment
	listArgs := append(append([]any{}, args...), page.PageSize, page.Offset())
	if err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE `+where+`
		 ORDER BY paid_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		listArgs...,
	).Scan(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repo) Summarize(ctx context.Context, db *gorm.DB, filter domain.ListPaymentFilter) (*domain.PaymentSummary, error) {
	where, args := buildFilter(filter)
	var summary domain.PaymentSummary
	err := db.WithContext(ctx).Raw(
		`SELECT
			COUNT(1) AS total_count,
			COALESCE(SUM(amount), 0) AS total_amount,
			COALESCE(SUM(COALESCE(refund_amount, 0)), 0) AS total_refunded,
			COALESCE(SUM(CASE WHEN status = 'captured' THEN 1 ELSE 0 END), 0) AS captured_count,
			COALESCE(SUM(CASE WHEN status = 'refunded' THEN 1 ELSE 0 END), 0) AS refunded_count
		 FROM payments
		 WHERE `+where,
		args...,
	).Scan(&summary).Error
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func buildFilter(filter domain.ListPaymentFilter) (string, []any) {
	clauses := []string{"1 = 1"}
	args := []any{}
	if filter.MentorID != nil {
		clauses = append(clauses, "mentor_id = ?")
		args = append(args, *filter.MentorID)
	}
	if filter.MenteeID != nil {
		clauses = append(clauses, "mentee_id = ?")
		args = append(args, *filter.MenteeID)
	}
	if filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.From != nil {
		clauses = append(clauses, "paid_at >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		clauses = append(clauses, "paid_at <= ?")
		args = append(args, *filter.To)
	}
	return strings.Join(clauses, " AND "), args
}
