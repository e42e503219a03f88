package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mentorlink/settlement/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListPaymentFilter struct {
	MentorID *snowflake.ID
	MenteeID *snowflake.ID
	Status   *PaymentStatus
	From     *time.Time
	To       *time.Time
}

// PaymentSummary aggregates the listed user's payment history.
type PaymentSummary struct {
	TotalCount     int64 `json:"total_count"`
	TotalAmount    int64 `json:"total_amount"`
	TotalRefunded  int64 `json:"total_refunded"`
	CapturedCount  int64 `json:"captured_count"`
	RefundedCount  int64 `json:"refunded_count"`
}

type Repository interface {
	InsertIntent(ctx context.Context, db *gorm.DB, intent *PaymentIntent) (bool, error)
	FindIntentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentIntent, error)
	FindIntentBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*PaymentIntent, error)
	UpdateIntentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to IntentStatus, now time.Time) (bool, error)

	// InsertPayment is idempotent on transaction_id; false means a payment
	// with the same transaction reference already exists.
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	FindPaymentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindPaymentByTransaction(ctx context.Context, db *gorm.DB, transactionID string) (*Payment, error)
	FindPaymentBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*Payment, error)
	// LockPaymentBySession loads the session's payment FOR UPDATE. Dispute
	// creation and escrow release serialize on this row.
	LockPaymentBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*Payment, error)
	RecordRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, refundTotal int64, fullyRefunded bool, now time.Time) error
	// ListReleasableSessions returns sessions whose captured payment is still
	// on hold and whose completion predates the cutoff. The escrow sweep's
	// work queue; payment rows locked by a dispute or another sweep instance
	// are skipped rather than waited on.
	ListReleasableSessions(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]snowflake.ID, error)
	// ReleaseHold flips hold_state pending -> released exactly once.
	ReleaseHold(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListPaymentFilter, page pagination.Pagination) ([]Payment, int64, error)
	Summarize(ctx context.Context, db *gorm.DB, filter ListPaymentFilter) (*PaymentSummary, error)
}
