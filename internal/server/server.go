package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mentorlink/settlement/internal/config"
	disputedomain "github.com/mentorlink/settlement/internal/dispute/domain"
	ledgerdomain "github.com/mentorlink/settlement/internal/ledger/domain"
	paymentdomain "github.com/mentorlink/settlement/internal/payment/domain"
	payoutdomain "github.com/mentorlink/settlement/internal/payout/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	paymentSvc paymentdomain.Service
	disputeSvc disputedomain.Service
	payoutSvc  payoutdomain.Service
	ledgerSvc  ledgerdomain.Service
}

type Params struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	PaymentSvc paymentdomain.Service
	DisputeSvc disputedomain.Service
	PayoutSvc  payoutdomain.Service
	LedgerSvc  ledgerdomain.Service
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("server"),
		paymentSvc: p.PaymentSvc,
		disputeSvc: p.DisputeSvc,
		payoutSvc:  p.PayoutSvc,
		ledgerSvc:  p.LedgerSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/sessions/:id/payment-intent", s.createPaymentIntent)
	v1.POST("/payments/confirm", s.confirmPayment)
	v1.GET("/payments", s.getPaymentHistory)
	v1.POST("/payments/:id/refund", s.refundPayment)

	v1.POST("/sessions/:id/disputes", s.createDispute)
	v1.GET("/sessions/:id/dispute", s.getSessionDispute)
	v1.GET("/disputes/:id", s.getDispute)
	v1.POST("/disputes/:id/resolve", s.resolveDispute)
	v1.GET("/disputes", s.searchDisputes)

	v1.POST("/payouts", s.requestPayout)
	v1.GET("/payouts/:id", s.getPayout)
	v1.POST("/payouts/:id/process", s.processPayout)
	v1.POST("/payouts/:id/cancel", s.cancelPayout)
	v1.GET("/payouts", s.searchPayouts)

	v1.GET("/mentors/:id/balance", s.getMentorBalance)
}

func NewEngine(registry *prometheus.Registry, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)
