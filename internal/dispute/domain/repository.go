package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mentorlink/settlement/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListDisputeFilter struct {
	Status   *DisputeStatus
	Reason   *DisputeReason
	MenteeID *snowflake.ID
	From     *time.Time
	To       *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, dispute *Dispute) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Dispute, error)
	// FindBySession returns the most recent dispute for the session.
	FindBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*Dispute, error)
	// FindOpenBySession returns the session's non-terminal dispute, if any.
	FindOpenBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*Dispute, error)
	// MarkResolved finalizes a dispute while it is still non-terminal and
	// reports whether a row changed. Resolution is irreversible.
	MarkResolved(ctx context.Context, db *gorm.DB, id snowflake.ID, status DisputeStatus, resolution DisputeResolution, refundAmount *int64, adminNotes string, now time.Time) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListDisputeFilter, page pagination.Pagination) ([]Dispute, int64, error)
}
