package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type IntentStatus string

const (
	IntentStatusPending  IntentStatus = "pending"
	IntentStatusCaptured IntentStatus = "captured"
	IntentStatusFailed   IntentStatus = "failed"
	IntentStatusCanceled IntentStatus = "canceled"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusCaptured PaymentStatus = "captured"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusCanceled PaymentStatus = "canceled"
)

// HoldState guards the exactly-once escrow release. It only moves
// pending -> released, by compare-and-set.
type HoldState string

const (
	HoldStatePending  HoldState = "pending"
	HoldStateReleased HoldState = "released"
)

// PaymentIntent tracks the checkout handshake with the provider. One intent
// per session, enforced by a unique index.
type PaymentIntent struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	SessionID         snowflake.ID   `json:"session_id" gorm:"not null;uniqueIndex:ux_payment_intents_session"`
	Amount            int64          `json:"amount" gorm:"not null"`
	Currency          string         `json:"currency" gorm:"type:text;not null"`
	Provider          string         `json:"provider" gorm:"type:text;not null"`
	ProviderMethod    string         `json:"provider_method,omitempty" gorm:"type:text"`
	Status            IntentStatus   `json:"status" gorm:"type:text;not null"`
	ProviderReference string         `json:"provider_reference" gorm:"type:text"`
	ClientSecret      string         `json:"client_secret" gorm:"type:text"`
	ProviderMetadata  datatypes.JSON `json:"provider_metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt         time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }

// Payment is the realized charge. transaction_id carries the provider's
// transaction reference and is unique: re-delivered confirmations collapse
// onto the same row.
type Payment struct {
	ID                 snowflake.ID  `json:"id" gorm:"primaryKey"`
	SessionID          snowflake.ID  `json:"session_id" gorm:"not null;uniqueIndex:ux_payments_session"`
	IntentID           snowflake.ID  `json:"intent_id" gorm:"not null"`
	MentorID           snowflake.ID  `json:"mentor_id" gorm:"not null;index"`
	MenteeID           snowflake.ID  `json:"mentee_id" gorm:"not null;index"`
	Amount             int64         `json:"amount" gorm:"not null"`
	PlatformCommission int64         `json:"platform_commission" gorm:"not null"`
	MentorPayoutAmount int64         `json:"mentor_payout_amount" gorm:"not null"`
	Currency           string        `json:"currency" gorm:"type:text;not null"`
	Provider           string        `json:"provider" gorm:"type:text;not null"`
	Status             PaymentStatus `json:"status" gorm:"type:text;not null"`
	TransactionID      string        `json:"transaction_id" gorm:"type:text;not null;uniqueIndex:ux_payments_transaction"`
	PaidAt             time.Time     `json:"paid_at" gorm:"not null"`
	RefundAmount       *int64        `json:"refund_amount,omitempty"`
	RefundedAt         *time.Time    `json:"refunded_at,omitempty"`
	HoldState          HoldState     `json:"hold_state" gorm:"type:text;not null"`
	HoldReleasedAt     *time.Time    `json:"hold_released_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time     `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Payment) TableName() string { return "payments" }

// RefundedTotal is the amount already returned to the mentee.
func (p Payment) RefundedTotal() int64 {
	if p.RefundAmount == nil {
		return 0
	}
	return *p.RefundAmount
}

// MentorShareOf carves the mentor's slice out of a refund, proportional to
// the original commission split. A full refund carves exactly
// MentorPayoutAmount, so the mentor's credit for the session nets to zero.
func (p Payment) MentorShareOf(refund int64) int64 {
	if p.Amount <= 0 {
		return 0
	}
	return p.MentorPayoutAmount * refund / p.Amount
}

// ReleasableAmount is what the escrow sweep moves to available balance:
// the mentor share minus the mentor slice of any refunds already granted.
func (p Payment) ReleasableAmount() int64 {
	return p.MentorPayoutAmount - p.MentorShareOf(p.RefundedTotal())
}

// SplitAmount computes the platform commission for a charge at the given
// rate in basis points, truncating toward zero.
func SplitAmount(amount, rateBps int64) (commission, mentorShare int64) {
	commission = amount * rateBps / 10000
	return commission, amount - commission
}

var (
	ErrIntentNotFound          = errors.New("payment_intent_not_found")
	ErrIntentExists            = errors.New("payment_intent_exists")
	ErrPaymentNotFound         = errors.New("payment_not_found")
	ErrForbidden               = errors.New("payment_forbidden")
	ErrSessionNotPayable       = errors.New("session_not_payable")
	ErrSessionAlreadyConfirmed = errors.New("session_already_confirmed")
	ErrPaymentNotCaptured      = errors.New("payment_not_captured")
	ErrPaymentNotRefundable    = errors.New("payment_not_refundable")
	ErrInvalidRefundPercentage = errors.New("invalid_refund_percentage")
	ErrRefundExceedsAmount     = errors.New("refund_exceeds_amount")
	ErrInvalidAmount           = errors.New("invalid_amount")
	ErrInvalidProvider         = errors.New("invalid_provider")
)
