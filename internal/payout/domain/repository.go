package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mentorlink/settlement/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListPayoutFilter struct {
	Status   *PayoutStatus
	MentorID *snowflake.ID
	From     *time.Time
	To       *time.Time
}

// Every state change is a conditional UPDATE reporting whether a row moved,
// so concurrent process/cancel attempts settle on exactly one winner.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payout *Payout) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payout, error)
	MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	// MarkProviderAcked flips the point-of-no-return flag while the payout is
	// still processing and unacked.
	MarkProviderAcked(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, providerReference string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error)
	// MarkCancelled succeeds only while Pending or Processing with no
	// provider acknowledgement yet.
	MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListPayoutFilter, page pagination.Pagination) ([]Payout, int64, error)
}
