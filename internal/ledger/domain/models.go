package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// MovementSource identifies which settlement event moved money.
type MovementSource string

const (
	SourcePaymentCapture MovementSource = "payment_capture" // mentor share credited to pending
	SourceEscrowRelease  MovementSource = "escrow_release"  // pending -> available after hold
	SourceDisputeRefund  MovementSource = "dispute_refund"  // mentor share returned to mentee
	SourceAdminRefund    MovementSource = "admin_refund"    // direct admin refund
	SourcePayoutReserve  MovementSource = "payout_reserve"  // available -> reserved at request
	SourcePayoutRelease  MovementSource = "payout_release"  // reserved consumed, funds left the system
	SourcePayoutReturn   MovementSource = "payout_return"   // reserved -> available on cancel/failure
)

// Account is the per-mentor balance record. All three balances are kept
// non-negative by guarded updates; availableBalance always covers the sum of
// non-terminal payout amounts because reservations debit it up front.
type Account struct {
	MentorID         snowflake.ID `json:"mentor_id" gorm:"primaryKey"`
	PendingBalance   int64        `json:"pending_balance" gorm:"not null;default:0"`
	AvailableBalance int64        `json:"available_balance" gorm:"not null;default:0"`
	ReservedBalance  int64        `json:"reserved_balance" gorm:"not null;default:0"`
	Currency         string       `json:"currency" gorm:"type:text;not null"`
	UpdatedAt        time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Account) TableName() string { return "ledger_accounts" }

// Movement is an immutable journal line. One movement is written in the same
// transaction as every balance change; (source_type, source_id) is unique so
// re-applying the same settlement event is a no-op.
type Movement struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	MentorID       snowflake.ID   `gorm:"not null;index"`
	SourceType     MovementSource `gorm:"type:text;not null;uniqueIndex:ux_ledger_movements_source,priority:1"`
	SourceID       snowflake.ID   `gorm:"not null;uniqueIndex:ux_ledger_movements_source,priority:2"`
	PendingDelta   int64          `gorm:"not null"`
	AvailableDelta int64          `gorm:"not null"`
	ReservedDelta  int64          `gorm:"not null"`
	Currency       string         `gorm:"type:text;not null"`
	OccurredAt     time.Time      `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Movement) TableName() string { return "ledger_movements" }

var (
	ErrInvalidMentor       = errors.New("invalid_mentor")
	ErrInvalidSource       = errors.New("invalid_movement_source")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidMovement     = errors.New("invalid_movement")
	ErrInsufficientBalance = errors.New("insufficient_balance")
)
