package metrics

import (
	"errors"
	"strings"
	"time"

	"github.com/mentorlink/settlement/internal/config"
	"github.com/mentorlink/settlement/internal/payment/providers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
)

const (
	OutcomeOK        = "ok"
	OutcomeTransient = "transient"
	OutcomeDeclined  = "declined"

	RefundKindDispute = "dispute"
	RefundKindAdmin   = "admin"

	PayoutOutcomeCompleted = "completed"
	PayoutOutcomeFailed    = "failed"
	PayoutOutcomeCancelled = "cancelled"
)

// Metrics exposes the settlement engine's health signals.
type Metrics struct {
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	captures        prometheus.Counter
	refunds         *prometheus.CounterVec
	sweepRuns       prometheus.Counter
	sweepReleased   prometheus.Counter
	sweepErrors     prometheus.Counter
	payouts         *prometheus.CounterVec
}

// NewRegistry builds the process registry with the standard runtime collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func New(cfg config.Config, registerer prometheus.Registerer) *Metrics {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "settlement"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     cfg.Environment,
	}

	providerCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "settlement_provider_calls_total",
		Help:        "Payment provider calls by operation and outcome.",
		ConstLabels: constLabels,
	}, []string{"provider", "op", "outcome"})
	providerLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "settlement_provider_call_duration_seconds",
		Help:        "Payment provider call latency.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"provider", "op"})
	captures := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "settlement_payments_captured_total",
		Help:        "Payments captured and credited to mentor escrow.",
		ConstLabels: constLabels,
	})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "settlement_refunds_total",
		Help:        "Refunds issued by kind.",
		ConstLabels: constLabels,
	}, []string{"kind"})
	sweepRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "settlement_escrow_sweep_runs_total",
		Help:        "Escrow release sweep iterations.",
		ConstLabels: constLabels,
	})
	sweepReleased := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "settlement_escrow_releases_total",
		Help:        "Holds released from pending to available balance.",
		ConstLabels: constLabels,
	})
	sweepErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "settlement_escrow_sweep_errors_total",
		Help:        "Escrow sweep per-payment failures.",
		ConstLabels: constLabels,
	})
	payouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "settlement_payouts_total",
		Help:        "Payout terminal outcomes.",
		ConstLabels: constLabels,
	}, []string{"outcome"})

	registerer.MustRegister(
		providerCalls,
		providerLatency,
		captures,
		refunds,
		sweepRuns,
		sweepReleased,
		sweepErrors,
		payouts,
	)

	return &Metrics{
		providerCalls:   providerCalls,
		providerLatency: providerLatency,
		captures:        captures,
		refunds:         refunds,
		sweepRuns:       sweepRuns,
		sweepReleased:   sweepReleased,
		sweepErrors:     sweepErrors,
		payouts:         payouts,
	}
}

// ObserveProviderCall records one provider round trip with its outcome.
func (m *Metrics) ObserveProviderCall(provider, op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, op, classifyProviderOutcome(err)).Inc()
	m.providerLatency.WithLabelValues(provider, op).Observe(duration.Seconds())
}

func (m *Metrics) IncPaymentCaptured() {
	if m == nil {
		return
	}
	m.captures.Inc()
}

func (m *Metrics) IncRefund(kind string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncSweepRun() {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
}

func (m *Metrics) IncSweepReleased() {
	if m == nil {
		return
	}
	m.sweepReleased.Inc()
}

func (m *Metrics) IncSweepError() {
	if m == nil {
		return
	}
	m.sweepErrors.Inc()
}

func (m *Metrics) IncPayoutOutcome(outcome string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(outcome).Inc()
}

func classifyProviderOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case providers.IsTransient(err):
		return OutcomeTransient
	case errors.Is(err, providers.ErrDeclined):
		return OutcomeDeclined
	default:
		return OutcomeTransient
	}
}

var Module = fx.Module("metrics",
	fx.Provide(
		NewRegistry,
		func(registry *prometheus.Registry) prometheus.Registerer { return registry },
		New,
	),
)
