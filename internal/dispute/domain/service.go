package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/mentorlink/settlement/pkg/db/pagination"
)

type CreateRequest struct {
	SessionID   snowflake.ID
	RequesterID snowflake.ID
	Reason      DisputeReason
	Description string
}

type ResolveRequest struct {
	DisputeID    snowflake.ID
	Resolution   DisputeResolution
	RefundAmount *int64
	AdminNotes   string
	AdminID      snowflake.ID
}

type SearchResponse struct {
	Disputes []Dispute           `json:"disputes"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type Service interface {
	// Create files a dispute inside the hold window. It takes the payment
	// row lock so dispute creation and escrow release serialize per session.
	Create(ctx context.Context, req CreateRequest) (*Dispute, error)
	Get(ctx context.Context, id snowflake.ID) (*Dispute, error)
	GetBySession(ctx context.Context, sessionID snowflake.ID) (*Dispute, error)
	// Resolve finalizes a dispute exactly once. Refunding resolutions return
	// money to the mentee through the provider and carve the mentor's share
	// out of the held or released balance.
	Resolve(ctx context.Context, req ResolveRequest) (*Dispute, error)
	Search(ctx context.Context, filter ListDisputeFilter, page pagination.Pagination) (*SearchResponse, error)
}
