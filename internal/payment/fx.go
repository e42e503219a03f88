package payment

import (
	"github.com/mentorlink/settlement/internal/config"
	"github.com/mentorlink/settlement/internal/payment/providers"
	"github.com/mentorlink/settlement/internal/payment/providers/paymob"
	"github.com/mentorlink/settlement/internal/payment/providers/stripe"
	"github.com/mentorlink/settlement/internal/payment/repository"
	"github.com/mentorlink/settlement/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func provideRegistry(cfg config.Config, log *zap.Logger) *providers.Registry {
	var list []providers.Provider
	if cfg.StripeSecretKey != "" {
		provider, err := stripe.New(cfg.StripeSecretKey)
		if err != nil {
			log.Warn("stripe provider disabled", zap.Error(err))
		} else {
			list = append(list, provider)
		}
	}
	if cfg.PaymobSecretKey != "" {
		provider, err := paymob.New(cfg.PaymobSecretKey)
		if err != nil {
			log.Warn("paymob provider disabled", zap.Error(err))
		} else {
			list = append(list, provider)
		}
	}
	if len(list) == 0 {
		log.Warn("no payment providers configured")
	}
	return providers.NewRegistry(list...)
}

var Module = fx.Module("payment",
	fx.Provide(
		provideRegistry,
		repository.Provide,
		service.NewService,
	),
)
