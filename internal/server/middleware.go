package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

// Authentication lives in an upstream gateway. The engine trusts the
// identity headers it forwards and only enforces ownership and role rules.
const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"

	RoleAdmin  = "admin"
	RoleMentor = "mentor"
	RoleMentee = "mentee"
)

type Actor struct {
	ID   snowflake.ID
	Role string
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func actorFrom(c *gin.Context) (Actor, error) {
	raw := strings.TrimSpace(c.GetHeader(headerActorID))
	if raw == "" {
		return Actor{}, ErrUnauthorized
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return Actor{}, ErrUnauthorized
	}
	role := strings.ToLower(strings.TrimSpace(c.GetHeader(headerActorRole)))
	switch role {
	case RoleAdmin, RoleMentor, RoleMentee:
	default:
		return Actor{}, ErrUnauthorized
	}
	return Actor{ID: id, Role: role}, nil
}

func adminFrom(c *gin.Context) (Actor, error) {
	actor, err := actorFrom(c)
	if err != nil {
		return Actor{}, err
	}
	if !actor.IsAdmin() {
		return Actor{}, ErrForbidden
	}
	return actor, nil
}
