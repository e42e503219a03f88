package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/mentorlink/settlement/pkg/db/pagination"
)

type CreateIntentRequest struct {
	SessionID   snowflake.ID
	RequesterID snowflake.ID
	Provider    string
	Method      string
}

type ConfirmRequest struct {
	IntentID    snowflake.ID
	SessionID   snowflake.ID
	RequesterID snowflake.ID
}

type RefundRequest struct {
	PaymentID  snowflake.ID
	Percentage int64 // 1..100
	AdminID    snowflake.ID
}

type HistoryResponse struct {
	Payments []Payment           `json:"payments"`
	Summary  PaymentSummary      `json:"summary"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type Service interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*PaymentIntent, error)
	// Confirm finalizes a provider-reported capture. Keyed on the provider
	// transaction id: duplicate deliveries return the existing captured
	// payment without touching the ledger again.
	Confirm(ctx context.Context, req ConfirmRequest) (*Payment, error)
	// Refund is the direct admin refund by percentage of the original amount.
	Refund(ctx context.Context, req RefundRequest) (*Payment, error)
	History(ctx context.Context, filter ListPaymentFilter, page pagination.Pagination) (*HistoryResponse, error)
}
