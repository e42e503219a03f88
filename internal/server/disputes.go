package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	disputedomain "github.com/mentorlink/settlement/internal/dispute/domain"
)

type createDisputeRequest struct {
	Reason      string `json:"reason" binding:"required"`
	Description string `json:"description"`
}

func (s *Server) createDispute(c *gin.Context) {
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

	var req createDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	dispute, err := s.disputeSvc.Create(c.Request.Context(), disputedomain.CreateRequest{
		SessionID:   sessionID,
		RequesterID: actor.ID,
		Reason:      disputedomain.DisputeReason(req.Reason),
		Description: req.Description,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dispute)
}

func (s *Server) getDispute(c *gin.Context) {
	if _, err := actorFrom(c); err != nil {
		AbortWithError(c, err)
		return
	}
	disputeID, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	dispute, err := s.disputeSvc.Get(c.Request.Context(), disputeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// getSessionDispute returns the session's dispute, or null when none exists.
func (s *Server) getSessionDispute(c *gin.Context) {
	if _, err := actorFrom(c); err != nil {
		AbortWithError(c, err)
		return
	}
	sessionID, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	dispute, err := s.disputeSvc.GetBySession(c.Request.Context(), sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

type resolveDisputeRequest struct {
	Resolution   string `json:"resolution" binding:"required"`
	RefundAmount *int64 `json:"refund_amount"`
	AdminNotes   string `json:"admin_notes"`
}

func (s *Server) resolveDispute(c *gin.Context) {
	actor, err := adminFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	disputeID, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	dispute, err := s.disputeSvc.Resolve(c.Request.Context(), disputedomain.ResolveRequest{
		DisputeID:    disputeID,
		Resolution:   disputedomain.DisputeResolution(req.Resolution),
		RefundAmount: req.RefundAmount,
		AdminNotes:   req.AdminNotes,
		AdminID:      actor.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

func (s *Server) searchDisputes(c *gin.Context) {
	if _, err := adminFrom(c); err != nil {
		AbortWithError(c, err)
		return
	}

	var filter disputedomain.ListDisputeFilter
	menteeID, err := parseOptionalSnowflakeID(c.Query("mentee_id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	from, err := parseOptionalTime(c.Query("from"), false)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	to, err := parseOptionalTime(c.Query("to"), true)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	filter.MenteeID = menteeID
	filter.From = from
	filter.To = to
	if raw := c.Query("status"); raw != "" {
		status := disputedomain.DisputeStatus(raw)
		filter.Status = &status
	}
	if raw := c.Query("reason"); raw != "" {
		reason := disputedomain.DisputeReason(raw)
		filter.Reason = &reason
	}

	result, err := s.disputeSvc.Search(c.Request.Context(), filter, parsePagination(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
