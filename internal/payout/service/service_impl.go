package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/mentorlink/settlement/internal/clock"
	"github.com/mentorlink/settlement/internal/config"
	"github.com/mentorlink/settlement/internal/events"
	ledgerdomain "github.com/mentorlink/settlement/internal/ledger/domain"
	"github.com/mentorlink/settlement/internal/locks"
	"github.com/mentorlink/settlement/internal/observability/metrics"
	"github.com/mentorlink/settlement/internal/payment/providers"
	"github.com/mentorlink/settlement/internal/payout/domain"
	"github.com/mentorlink/settlement/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config    config.Config
	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Providers *providers.Registry
	Payouts   domain.Repository
	Ledger    ledgerdomain.Service
	Locker    *locks.Locker `optional:"true"`
	Events    events.Publisher
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	cfg       config.Config
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	providers *providers.Registry
	payouts   domain.Repository
	ledger    ledgerdomain.Service
	locker    *locks.Locker
	events    events.Publisher
	metrics   *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		cfg:       p.Config,
		db:        p.DB,
		log:       p.Log.Named("payout.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		providers: p.Providers,
		payouts:   p.Payouts,
		ledger:    p.Ledger,
		locker:    p.Locker,
		events:    p.Events,
		metrics:   p.Metrics,
	}
}

func (s *Service) Request(ctx context.Context, input domain.RequestPayoutInput) (*domain.Payout, error) {
	if input.MentorID != input.RequesterID {
		return nil, domain.ErrForbidden
	}
	if input.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	account, err := s.ledger.Account(ctx, input.MentorID)
	if err != nil {
		return nil, err
	}
	if account.AvailableBalance < input.Amount {
		return nil, ledgerdomain.ErrInsufficientBalance
	}

	now := s.clock.Now()
	payout := &domain.Payout{
		ID:          s.genID.Generate(),
		MentorID:    input.MentorID,
		Amount:      input.Amount,
		Currency:    account.Currency,
		Status:      domain.StatusPending,
		RequestedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// The guarded balance update is the real gate. Two concurrent requests
	// that together overdraw available balance race to it and exactly one
	// passes; the loser's transaction rolls back the payout row too.
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.payouts.Insert(ctx, tx, payout); err != nil {
			return err
		}
		_, err := s.ledger.Apply(ctx, tx, ledgerdomain.Movement{
			MentorID:       payout.MentorID,
			SourceType:     ledgerdomain.SourcePayoutReserve,
			SourceID:       payout.ID,
			AvailableDelta: -payout.Amount,
			ReservedDelta:  payout.Amount,
			Currency:       payout.Currency,
			OccurredAt:     now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Notify(ctx, "payout.requested", payout.ID, map[string]string{
		"mentor_id": payout.MentorID.String(),
	})
	s.log.Info("payout requested",
		zap.String("payout_id", payout.ID.String()),
		zap.String("mentor_id", payout.MentorID.String()),
		zap.Int64("amount", payout.Amount),
	)
	return payout, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Payout, error) {
	payout, err := s.payouts.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, domain.ErrNotFound
	}
	return payout, nil
}

func (s *Service) Process(ctx context.Context, id snowflake.ID) (*domain.Payout, error) {
	if s.locker != nil {
		key := s.cfg.PayoutLockPrefix + id.String()
		token, ok, err := s.locker.TryLock(ctx, key, s.cfg.PayoutLockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrBusy
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				s.log.Warn("payout lock release failed", zap.String("payout_id", id.String()), zap.Error(err))
			}
		}()
	}

	payout, err := s.payouts.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, domain.ErrNotFound
	}
	if payout.Status != domain.StatusPending {
		return nil, domain.ErrNotPending
	}

	provider, err := s.providers.Get(s.cfg.DefaultProvider)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if ok, err := s.payouts.MarkProcessing(ctx, s.db, payout.ID, now); err != nil {
		return nil, err
	} else if !ok {
		return nil, domain.ErrNotPending
	}
	payout.Status = domain.StatusProcessing
	payout.ProcessedAt = &now

	// Acknowledge before the transfer leaves the building. From here on a
	// Cancel can no longer win the race; the payout either completes or fails.
	ackedAt := s.clock.Now()
	if ok, err := s.payouts.MarkProviderAcked(ctx, s.db, payout.ID, ackedAt); err != nil {
		return nil, err
	} else if !ok {
		// Cancelled between the two updates.
		return nil, domain.ErrNotCancellable
	}
	payout.ProviderAckedAt = &ackedAt

	var transfer *providers.TransferResult
	transferErr := providers.Invoke(ctx, s.cfg.ProviderTimeout, s.cfg.ProviderRetries, func(callCtx context.Context) error {
		started := s.clock.Now()
		var err error
		transfer, err = provider.Transfer(callCtx, providers.TransferRequest{
			MentorID:  payout.MentorID.String(),
			Amount:    payout.Amount,
			Currency:  payout.Currency,
			Reference: payout.ID.String(),
		})
		s.metrics.ObserveProviderCall(provider.Name(), "transfer", s.clock.Now().Sub(started), err)
		return err
	})

	finishedAt := s.clock.Now()
	if transferErr != nil {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			if ok, err := s.payouts.MarkFailed(ctx, tx, payout.ID, transferErr.Error(), finishedAt); err != nil {
				return err
			} else if !ok {
				return domain.ErrNotPending
			}
			_, err := s.ledger.Apply(ctx, tx, ledgerdomain.Movement{
				MentorID:       payout.MentorID,
				SourceType:     ledgerdomain.SourcePayoutReturn,
				SourceID:       payout.ID,
				AvailableDelta: payout.Amount,
				ReservedDelta:  -payout.Amount,
				Currency:       payout.Currency,
				OccurredAt:     finishedAt,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		payout.Status = domain.StatusFailed
		payout.FailureReason = transferErr.Error()
		payout.UpdatedAt = finishedAt

		s.metrics.IncPayoutOutcome(metrics.PayoutOutcomeFailed)
		s.events.Notify(ctx, "payout.failed", payout.ID, map[string]string{
			"mentor_id": payout.MentorID.String(),
		})
		s.log.Warn("payout transfer failed",
			zap.String("payout_id", payout.ID.String()),
			zap.Error(transferErr),
		)
		return payout, nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if ok, err := s.payouts.MarkCompleted(ctx, tx, payout.ID, transfer.ProviderTransferID, finishedAt); err != nil {
			return err
		} else if !ok {
			return domain.ErrNotPending
		}
		_, err := s.ledger.Apply(ctx, tx, ledgerdomain.Movement{
			MentorID:      payout.MentorID,
			SourceType:    ledgerdomain.SourcePayoutRelease,
			SourceID:      payout.ID,
			ReservedDelta: -payout.Amount,
			Currency:      payout.Currency,
			OccurredAt:    finishedAt,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	payout.Status = domain.StatusCompleted
	payout.ProviderReference = transfer.ProviderTransferID
	payout.CompletedAt = &finishedAt
	payout.UpdatedAt = finishedAt

	s.metrics.IncPayoutOutcome(metrics.PayoutOutcomeCompleted)
	s.events.Notify(ctx, "payout.completed", payout.ID, map[string]string{
		"mentor_id": payout.MentorID.String(),
	})
	s.log.Info("payout completed",
		zap.String("payout_id", payout.ID.String()),
		zap.String("mentor_id", payout.MentorID.String()),
		zap.Int64("amount", payout.Amount),
	)
	return payout, nil
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (*domain.Payout, error) {
	payout, err := s.payouts.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, domain.ErrNotFound
	}
	if payout.Status.Terminal() || payout.ProviderAckedAt != nil {
		return nil, domain.ErrNotCancellable
	}

	now := s.clock.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if ok, err := s.payouts.MarkCancelled(ctx, tx, payout.ID, now); err != nil {
			return err
		} else if !ok {
			return domain.ErrNotCancellable
		}
		_, err := s.ledger.Apply(ctx, tx, ledgerdomain.Movement{
			MentorID:       payout.MentorID,
			SourceType:     ledgerdomain.SourcePayoutReturn,
			SourceID:       payout.ID,
			AvailableDelta: payout.Amount,
			ReservedDelta:  -payout.Amount,
			Currency:       payout.Currency,
			OccurredAt:     now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	payout.Status = domain.StatusCancelled
	payout.CancelledAt = &now
	payout.UpdatedAt = now

	s.metrics.IncPayoutOutcome(metrics.PayoutOutcomeCancelled)
	s.events.Notify(ctx, "payout.cancelled", payout.ID, map[string]string{
		"mentor_id": payout.MentorID.String(),
	})
	s.log.Info("payout cancelled",
		zap.String("payout_id", payout.ID.String()),
		zap.String("mentor_id", payout.MentorID.String()),
	)
	return payout, nil
}

func (s *Service) Search(ctx context.Context, filter domain.ListPayoutFilter, page pagination.Pagination) (*domain.SearchResponse, error) {
	page = page.Normalize()
	items, total, err := s.payouts.List(ctx, s.db, filter, page)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Payout{}
	}
	return &domain.SearchResponse{
		Payouts:  items,
		PageInfo: pagination.BuildPageInfo(page, total),
	}, nil
}
