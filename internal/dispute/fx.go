package dispute

import (
	"github.com/mentorlink/settlement/internal/dispute/repository"
	"github.com/mentorlink/settlement/internal/dispute/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dispute",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
