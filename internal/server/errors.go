package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	disputedomain "github.com/mentorlink/settlement/internal/dispute/domain"
	ledgerdomain "github.com/mentorlink/settlement/internal/ledger/domain"
	paymentdomain "github.com/mentorlink/settlement/internal/payment/domain"
	"github.com/mentorlink/settlement/internal/payment/providers"
	payoutdomain "github.com/mentorlink/settlement/internal/payout/domain"
	sessiondomain "github.com/mentorlink/settlement/internal/session/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidRefundPercentage),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, disputedomain.ErrInvalidReason),
		errors.Is(err, disputedomain.ErrDescriptionRequired),
		errors.Is(err, disputedomain.ErrInvalidResolution),
		errors.Is(err, disputedomain.ErrInvalidRefundAmount),
		errors.Is(err, payoutdomain.ErrInvalidAmount):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    err.Error(),
			Message: "validation error",
		}

	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}

	case errors.Is(err, ErrForbidden),
		errors.Is(err, paymentdomain.ErrForbidden),
		errors.Is(err, disputedomain.ErrForbidden),
		errors.Is(err, payoutdomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}

	case errors.Is(err, sessiondomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrIntentNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, disputedomain.ErrNotFound),
		errors.Is(err, payoutdomain.ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    err.Error(),
			Message: "not found",
		}

	case errors.Is(err, paymentdomain.ErrIntentExists),
		errors.Is(err, paymentdomain.ErrSessionAlreadyConfirmed),
		errors.Is(err, disputedomain.ErrDisputeExists),
		errors.Is(err, payoutdomain.ErrBusy):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    err.Error(),
			Message: "conflict",
		}

	case errors.Is(err, paymentdomain.ErrSessionNotPayable),
		errors.Is(err, paymentdomain.ErrPaymentNotCaptured),
		errors.Is(err, paymentdomain.ErrPaymentNotRefundable),
		errors.Is(err, paymentdomain.ErrRefundExceedsAmount),
		errors.Is(err, disputedomain.ErrDisputeWindowClosed),
		errors.Is(err, disputedomain.ErrSessionNotCompleted),
		errors.Is(err, disputedomain.ErrAlreadyResolved),
		errors.Is(err, disputedomain.ErrPaymentNotDisputable),
		errors.Is(err, payoutdomain.ErrNotPending),
		errors.Is(err, payoutdomain.ErrNotCancellable),
		errors.Is(err, ledgerdomain.ErrInsufficientBalance),
		errors.Is(err, providers.ErrDeclined):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "business_rule_violation",
			Code:    businessCode(err),
			Message: "business rule violation",
		}

	case providers.IsTransient(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "provider_unavailable",
			Message: "payment provider unavailable, retry later",
		}

	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// businessCode keeps the stable sentinel name even when the error is wrapped.
func businessCode(err error) string {
	for _, sentinel := range []error{
		paymentdomain.ErrSessionNotPayable,
		paymentdomain.ErrPaymentNotCaptured,
		paymentdomain.ErrPaymentNotRefundable,
		paymentdomain.ErrRefundExceedsAmount,
		disputedomain.ErrDisputeWindowClosed,
		disputedomain.ErrSessionNotCompleted,
		disputedomain.ErrAlreadyResolved,
		disputedomain.ErrPaymentNotDisputable,
		payoutdomain.ErrNotPending,
		payoutdomain.ErrNotCancellable,
		ledgerdomain.ErrInsufficientBalance,
		providers.ErrDeclined,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
