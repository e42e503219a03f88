package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mentorlink/settlement/internal/clock"
	disputedomain "github.com/mentorlink/settlement/internal/dispute/domain"
	"github.com/mentorlink/settlement/internal/events"
	ledgerdomain "github.com/mentorlink/settlement/internal/ledger/domain"
	"github.com/mentorlink/settlement/internal/observability/metrics"
	paymentdomain "github.com/mentorlink/settlement/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Payments paymentdomain.Repository
	Disputes disputedomain.Repository
	Ledger   ledgerdomain.Service
	Events   events.Publisher
	Metrics  *metrics.Metrics `optional:"true"`
	Config   Config           `optional:"true"`
}

// Scheduler runs the escrow release sweep. Eligibility is always re-derived
// from persisted completion timestamps, never from in-memory timers, so the
// sweep survives restarts and overlapping runs.
type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	payments paymentdomain.Repository
	disputes disputedomain.Repository
	ledger   ledgerdomain.Service
	events   events.Publisher
	metrics  *metrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Payments == nil || p.Disputes == nil || p.Ledger == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler").With(zap.String("component", "escrow_sweep")),
		cfg:      p.Config.withDefaults(),
		clock:    p.Clock,
		payments: p.Payments,
		disputes: p.Disputes,
		ledger:   p.Ledger,
		events:   p.Events,
		metrics:  p.Metrics,
	}, nil
}

// RunForever ticks the sweep until the context is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error("escrow sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce processes one batch of due holds and reports how many it released.
// Safe to call repeatedly; the hold_state compare-and-set makes the release
// exactly-once per payment.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	s.metrics.IncSweepRun()
	cutoff := s.clock.Now().Add(-s.cfg.HoldWindow)
	sessionIDs, err := s.payments.ListReleasableSessions(ctx, s.db, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, sessionID := range sessionIDs {
		ok, err := s.releaseHold(ctx, sessionID)
		if err != nil {
			s.metrics.IncSweepError()
			s.log.Warn("hold release failed",
				zap.String("session_id", sessionID.String()),
				zap.Error(err),
			)
			continue
		}
		if ok {
			released++
		}
	}
	if released > 0 {
		s.log.Info("escrow sweep released holds", zap.Int("released", released))
	}
	return released, nil
}

// releaseHold moves one payment's remaining mentor share from pending to
// available balance. The payment row lock is the same one dispute creation
// takes, so an in-flight dispute and the sweep cannot interleave.
func (s *Scheduler) releaseHold(ctx context.Context, sessionID snowflake.ID) (bool, error) {
	var releasedPayment *paymentdomain.Payment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		payment, err := s.payments.LockPaymentBySession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if payment == nil || payment.Status != paymentdomain.PaymentStatusCaptured || payment.HoldState != paymentdomain.HoldStatePending {
			return nil
		}

		open, err := s.disputes.FindOpenBySession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if open != nil {
			// Hold stays pending until the dispute resolves.
			return nil
		}

		now := s.clock.Now()
		ok, err := s.payments.ReleaseHold(ctx, tx, payment.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if releasable := payment.ReleasableAmount(); releasable > 0 {
			if _, err := s.ledger.Apply(ctx, tx, ledgerdomain.Movement{
				MentorID:       payment.MentorID,
				SourceType:     ledgerdomain.SourceEscrowRelease,
				SourceID:       payment.ID,
				PendingDelta:   -releasable,
				AvailableDelta: releasable,
				Currency:       payment.Currency,
				OccurredAt:     now,
			}); err != nil {
				return err
			}
		}
		releasedPayment = payment
		return nil
	})
	if err != nil {
		return false, err
	}
	if releasedPayment == nil {
		return false, nil
	}

	s.metrics.IncSweepReleased()
	if s.events != nil {
		s.events.Notify(ctx, "escrow.released", releasedPayment.ID, map[string]string{
			"session_id": sessionID.String(),
			"mentor_id":  releasedPayment.MentorID.String(),
		})
	}
	return true, nil
}
