package payout

import (
	"github.com/mentorlink/settlement/internal/payout/repository"
	"github.com/mentorlink/settlement/internal/payout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payout",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
