package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) getMentorBalance(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	mentorID, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !actor.IsAdmin() && actor.ID != mentorID {
		AbortWithError(c, ErrForbidden)
		return
	}

	account, err := s.ledgerSvc.Account(c.Request.Context(), mentorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}
