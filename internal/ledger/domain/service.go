package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// Apply records a movement and adjusts the mentor's balances inside the
	// caller's transaction. It returns false when the movement was already
	// applied (same source_type + source_id). ErrInsufficientBalance is
	// returned when any balance would go negative; the caller's transaction
	// must roll back.
	Apply(ctx context.Context, tx *gorm.DB, m Movement) (bool, error)

	// Account returns the mentor's balance record, or a zero-balance account
	// when no money has moved yet.
	Account(ctx context.Context, mentorID snowflake.ID) (*Account, error)
}
