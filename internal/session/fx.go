package session

import (
	"github.com/mentorlink/settlement/internal/session/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("session",
	fx.Provide(repository.Provide),
)
