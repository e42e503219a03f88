package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	payoutdomain "github.com/mentorlink/settlement/internal/payout/domain"
)

type requestPayoutRequest struct {
	MentorID string `json:"mentor_id" binding:"required"`
	Amount   int64  `json:"amount" binding:"required"`
}

func (s *Server) requestPayout(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req requestPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	mentorID, err := parseOptionalSnowflakeID(req.MentorID)
	if err != nil || mentorID == nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payout, err := s.payoutSvc.Request(c.Request.Context(), payoutdomain.RequestPayoutInput{
		MentorID:    *mentorID,
		RequesterID: actor.ID,
		Amount:      req.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payout)
}

func (s *Server) getPayout(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	payoutID, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payout, err := s.payoutSvc.Get(c.Request.Context(), payoutID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !actor.IsAdmin() && payout.MentorID != actor.ID {
		AbortWithError(c, ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, payout)
}

func (s *Server) processPayout(c *gin.Context) {
	if _, err := adminFrom(c); err != nil {
		AbortWithError(c, err)
		return
	}
	payoutID, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	payout, err := s.payoutSvc.Process(c.Request.Context(), payoutID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payout)
}

func (s *Server) cancelPayout(c *gin.Context) {
	if _, err := adminFrom(c); err != nil {
		AbortWithError(c, err)
		return
	}
	payoutID, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	payout, err := s.payoutSvc.Cancel(c.Request.Context(), payoutID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payout)
}

func (s *Server) searchPayouts(c *gin.Context) {
	if _, err := adminFrom(c); err != nil {
		AbortWithError(c, err)
		return
	}

	var filter payoutdomain.ListPayoutFilter
	mentorID, err := parseOptionalSnowflakeID(c.Query("mentor_id"))
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
	filter.MentorID = mentorID
	filter.From = from
	filter.To = to
	if raw := c.Query("status"); raw != "" {
		status := payoutdomain.PayoutStatus(raw)
		filter.Status = &status
	}

	result, err := s.payoutSvc.Search(c.Request.Context(), filter, parsePagination(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
