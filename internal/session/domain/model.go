package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type SessionStatus string

const (
	SessionStatusScheduled       SessionStatus = "scheduled"
	SessionStatusAwaitingPayment SessionStatus = "awaiting_payment"
	SessionStatusConfirmed       SessionStatus = "confirmed"
	SessionStatusCompleted       SessionStatus = "completed"
	SessionStatusCancelled       SessionStatus = "cancelled"
)

// Session is owned by the scheduling collaborator. The engine reads it to
// price payments and advances awaiting_payment -> confirmed on capture.
type Session struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey"`
	MentorID        snowflake.ID  `json:"mentor_id" gorm:"not null;index"`
	MenteeID        snowflake.ID  `json:"mentee_id" gorm:"not null;index"`
	Status          SessionStatus `json:"status" gorm:"type:text;not null"`
	HourlyRate      int64         `json:"hourly_rate" gorm:"not null"`
	DurationMinutes int64         `json:"duration_minutes" gorm:"not null"`
	Currency        string        `json:"currency" gorm:"type:text;not null"`
	CompletedAt     *time.Time    `json:"completed_at"`
	CreatedAt       time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time     `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Session) TableName() string { return "sessions" }

// Price is the charge amount in minor units, derived from rate and duration.
func (s Session) Price() int64 {
	return s.HourlyRate * s.DurationMinutes / 60
}

var (
	ErrNotFound      = errors.New("session_not_found")
	ErrInvalidStatus = errors.New("invalid_session_status")
)
