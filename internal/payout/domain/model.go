package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type PayoutStatus string

const (
	StatusPending    PayoutStatus = "pending"
	StatusProcessing PayoutStatus = "processing"
	StatusCompleted  PayoutStatus = "completed"
	StatusFailed     PayoutStatus = "failed"
	StatusCancelled  PayoutStatus = "cancelled"
)

// Terminal reports whether the payout can no longer change.
func (s PayoutStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Payout is a mentor withdrawal. The amount is reserved out of available
// balance at request time and either consumed on completion or returned on
// cancellation/failure, exactly once. provider_acked_at marks the point of no
// return for cancellation: once the transfer has been handed to the provider
// the payout can only complete or fail.
type Payout struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	MentorID          snowflake.ID `json:"mentor_id" gorm:"not null;index"`
	Amount            int64        `json:"amount" gorm:"not null"`
	Currency          string       `json:"currency" gorm:"type:text;not null"`
	Status            PayoutStatus `json:"status" gorm:"type:text;not null"`
	FailureReason     string       `json:"failure_reason,omitempty" gorm:"type:text"`
	ProviderReference string       `json:"provider_reference,omitempty" gorm:"type:text"`
	ProviderAckedAt   *time.Time   `json:"provider_acked_at,omitempty"`
	RequestedAt       time.Time    `json:"requested_at" gorm:"not null"`
	ProcessedAt       *time.Time   `json:"processed_at,omitempty"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	CancelledAt       *time.Time   `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Payout) TableName() string { return "payouts" }

var (
	ErrNotFound       = errors.New("payout_not_found")
	ErrForbidden      = errors.New("payout_forbidden")
	ErrInvalidAmount  = errors.New("invalid_payout_amount")
	ErrNotPending     = errors.New("payout_not_pending")
	ErrNotCancellable = errors.New("payout_not_cancellable")
	ErrBusy           = errors.New("payout_busy")
)
