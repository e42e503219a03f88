package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type DisputeReason string

const (
	ReasonMentorNoShow    DisputeReason = "mentor_no_show"
	ReasonTechnicalIssues DisputeReason = "technical_issues"
	ReasonSessionQuality  DisputeReason = "session_quality"
	ReasonOther           DisputeReason = "other"
)

func (r DisputeReason) Valid() bool {
	switch r {
	case ReasonMentorNoShow, ReasonTechnicalIssues, ReasonSessionQuality, ReasonOther:
		return true
	}
	return false
}

type DisputeStatus string

const (
	StatusPending     DisputeStatus = "pending"
	StatusUnderReview DisputeStatus = "under_review"
	StatusResolved    DisputeStatus = "resolved"
	StatusRejected    DisputeStatus = "rejected"
)

// Terminal reports whether the dispute can no longer change.
func (s DisputeStatus) Terminal() bool {
	return s == StatusResolved || s == StatusRejected
}

type DisputeResolution string

const (
	ResolutionFullRefund    DisputeResolution = "full_refund"
	ResolutionPartialRefund DisputeResolution = "partial_refund"
	ResolutionNoRefund      DisputeResolution = "no_refund"
)

func (r DisputeResolution) Valid() bool {
	switch r {
	case ResolutionFullRefund, ResolutionPartialRefund, ResolutionNoRefund:
		return true
	}
	return false
}

// Dispute is a mentee's challenge against a captured session payment. At most
// one non-terminal dispute exists per session; while it is open the escrow
// sweep will not release the session's hold.
type Dispute struct {
	ID           snowflake.ID       `json:"id" gorm:"primaryKey"`
	SessionID    snowflake.ID       `json:"session_id" gorm:"not null;index"`
	PaymentID    snowflake.ID       `json:"payment_id" gorm:"not null;index"`
	MenteeID     snowflake.ID       `json:"mentee_id" gorm:"not null;index"`
	Reason       DisputeReason      `json:"reason" gorm:"type:text;not null"`
	Description  string             `json:"description" gorm:"type:text"`
	Status       DisputeStatus      `json:"status" gorm:"type:text;not null"`
	Resolution   *DisputeResolution `json:"resolution,omitempty" gorm:"type:text"`
	RefundAmount *int64             `json:"refund_amount,omitempty"`
	AdminNotes   string             `json:"admin_notes,omitempty" gorm:"type:text"`
	CreatedAt    time.Time          `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time          `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	ResolvedAt   *time.Time         `json:"resolved_at,omitempty"`
}

func (Dispute) TableName() string { return "disputes" }

var (
	ErrNotFound             = errors.New("dispute_not_found")
	ErrDisputeExists        = errors.New("dispute_exists")
	ErrDisputeWindowClosed  = errors.New("dispute_window_closed")
	ErrSessionNotCompleted  = errors.New("session_not_completed")
	ErrDescriptionRequired  = errors.New("dispute_description_required")
	ErrInvalidReason        = errors.New("invalid_dispute_reason")
	ErrForbidden            = errors.New("dispute_forbidden")
	ErrAlreadyResolved      = errors.New("dispute_already_resolved")
	ErrInvalidResolution    = errors.New("invalid_dispute_resolution")
	ErrInvalidRefundAmount  = errors.New("invalid_refund_amount")
	ErrPaymentNotDisputable = errors.New("payment_not_disputable")
)
