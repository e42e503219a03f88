package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/mentorlink/settlement/internal/payment/domain"
)

type createIntentRequest struct {
	Provider string `json:"provider"`
	Method   string `json:"method"`
}

func (s *Server) createPaymentIntent(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	sessionID, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	intent, err := s.paymentSvc.CreateIntent(c.Request.Context(), paymentdomain.CreateIntentRequest{
		SessionID:   sessionID,
		RequesterID: actor.ID,
		Provider:    req.Provider,
		Method:      req.Method,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, intent)
}

type confirmPaymentRequest struct {
	IntentID  string `json:"intent_id" binding:"required"`
	SessionID string `json:"session_id"`
}

func (s *Server) confirmPayment(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	intentID, err := parseOptionalSnowflakeID(req.IntentID)
	if err != nil || intentID == nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	sessionID, err := parseOptionalSnowflakeID(req.SessionID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	confirm := paymentdomain.ConfirmRequest{
		IntentID:    *intentID,
		RequesterID: actor.ID,
	}
	if sessionID != nil {
		confirm.SessionID = *sessionID
	}
	payment, err := s.paymentSvc.Confirm(c.Request.Context(), confirm)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) getPaymentHistory(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	filter, err := paymentFilterFromQuery(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	// Non-admin callers only ever see their own history.
	switch actor.Role {
	case RoleMentee:
		filter.MenteeID = &actor.ID
		filter.MentorID = nil
	case RoleMentor:
		filter.MentorID = &actor.ID
		filter.MenteeID = nil
	}

	history, err := s.paymentSvc.History(c.Request.Context(), filter, parsePagination(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func paymentFilterFromQuery(c *gin.Context) (paymentdomain.ListPaymentFilter, error) {
	var filter paymentdomain.ListPaymentFilter
	mentorID, err := parseOptionalSnowflakeID(c.Query("mentor_id"))
	if err != nil {
		return filter, err
	}
	menteeID, err := parseOptionalSnowflakeID(c.Query("mentee_id"))
	if err != nil {
		return filter, err
	}
	from, err := parseOptionalTime(c.Query("from"), false)
	if err != nil {
		return filter, err
	}
	to, err := parseOptionalTime(c.Query("to"), true)
	if err != nil {
		return filter, err
	}
	filter.MentorID = mentorID
	filter.MenteeID = menteeID
	filter.From = from
	filter.To = to
	if raw := c.Query("status"); raw != "" {
		status := paymentdomain.PaymentStatus(raw)
		filter.Status = &status
	}
	return filter, nil
}

type refundPaymentRequest struct {
	Percentage int64 `json:"percentage" binding:"required"`
}

func (s *Server) refundPayment(c *gin.Context) {
	actor, err := adminFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	paymentID, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req refundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payment, err := s.paymentSvc.Refund(c.Request.Context(), paymentdomain.RefundRequest{
		PaymentID:  paymentID,
		Percentage: req.Percentage,
		AdminID:    actor.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}
