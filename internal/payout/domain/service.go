package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/mentorlink/settlement/pkg/db/pagination"
)

type RequestPayoutInput struct {
	MentorID    snowflake.ID
	RequesterID snowflake.ID
	Amount      int64
}

type SearchResponse struct {
	Payouts  []Payout            `json:"payouts"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type Service interface {
	// Request reserves the amount out of the mentor's available balance and
	// creates the payout in Pending. Insufficient balance rejects without any
	// ledger mutation.
	Request(ctx context.Context, input RequestPayoutInput) (*Payout, error)
	Get(ctx context.Context, id snowflake.ID) (*Payout, error)
	// Process drives a pending payout through the provider transfer. Success
	// consumes the reservation; failure returns it to available balance and
	// records the reason.
	Process(ctx context.Context, id snowflake.ID) (*Payout, error)
	// Cancel returns the reserved amount while the transfer has not been
	// acknowledged by the provider.
	Cancel(ctx context.Context, id snowflake.ID) (*Payout, error)
	Search(ctx context.Context, filter ListPayoutFilter, page pagination.Pagination) (*SearchResponse, error)
}
