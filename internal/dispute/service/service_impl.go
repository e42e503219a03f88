package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/mentorlink/settlement/internal/clock"
	"github.com/mentorlink/settlement/internal/config"
	"github.com/mentorlink/settlement/internal/dispute/domain"
	"github.com/mentorlink/settlement/internal/events"
	ledgerdomain "github.com/mentorlink/settlement/internal/ledger/domain"
	"github.com/mentorlink/settlement/internal/observability/metrics"
	paymentdomain "github.com/mentorlink/settlement/internal/payment/domain"
	"github.com/mentorlink/settlement/internal/payment/providers"
	sessiondomain "github.com/mentorlink/settlement/internal/session/domain"
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
	Sessions  sessiondomain.Repository
	Payments  paymentdomain.Repository
	Disputes  domain.Repository
	Ledger    ledgerdomain.Service
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
	sessions  sessiondomain.Repository
	payments  paymentdomain.Repository
	disputes  domain.Repository
	ledger    ledgerdomain.Service
	events    events.Publisher
	metrics   *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		cfg:       p.Config,
		db:        p.DB,
		log:       p.Log.Named("dispute.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		providers: p.Providers,
		sessions:  p.Sessions,
		payments:  p.Payments,
		disputes:  p.Disputes,
		ledger:    p.Ledger,
		events:    p.Events,
		metrics:   p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Dispute, error) {
	if !req.Reason.Valid() {
		return nil, domain.ErrInvalidReason
	}
	if req.Reason == domain.ReasonOther && strings.TrimSpace(req.Description) == "" {
		return nil, domain.ErrDescriptionRequired
	}

	session, err := s.sessions.FindByID(ctx, s.db, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, sessiondomain.ErrNotFound
	}
	if session.MenteeID != req.RequesterID {
		return nil, domain.ErrForbidden
	}
	if session.Status != sessiondomain.SessionStatusCompleted || session.CompletedAt == nil {
		return nil, domain.ErrSessionNotCompleted
	}

	// The window is re-read from the wall clock at every check, never cached.
	now := s.clock.Now()
	if now.After(session.CompletedAt.Add(s.cfg.HoldWindow)) {
		return nil, domain.ErrDisputeWindowClosed
	}

	dispute := &domain.Dispute{
		ID:          s.genID.Generate(),
		SessionID:   session.ID,
		MenteeID:    session.MenteeID,
		Reason:      req.Reason,
		Description: strings.TrimSpace(req.Description),
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Creation takes the payment row lock so it cannot interleave with the
	// escrow sweep's release of the same session.
	err = s.db.Transaction(func(tx *gorm.DB) error {
		payment, err := s.payments.LockPaymentBySession(ctx, tx, session.ID)
		if err != nil {
			return err
		}
		if payment == nil || payment.Status != paymentdomain.PaymentStatusCaptured {
			return domain.ErrPaymentNotDisputable
		}
		dispute.PaymentID = payment.ID

		existing, err := s.disputes.FindOpenBySession(ctx, tx, session.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrDisputeExists
		}
		return s.disputes.Insert(ctx, tx, dispute)
	})
	if err != nil {
		return nil, err
	}

	s.events.Notify(ctx, "dispute.created", dispute.ID, map[string]string{
		"session_id": session.ID.String(),
		"reason":     string(req.Reason),
	})
	s.log.Info("dispute created",
		zap.String("dispute_id", dispute.ID.String()),
		zap.String("session_id", session.ID.String()),
		zap.String("reason", string(req.Reason)),
	)
	return dispute, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Dispute, error) {
	dispute, err := s.disputes.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if dispute == nil {
		return nil, domain.ErrNotFound
	}
	return dispute, nil
}

func (s *Service) GetBySession(ctx context.Context, sessionID snowflake.ID) (*domain.Dispute, error) {
	return s.disputes.FindBySession(ctx, s.db, sessionID)
}

func (s *Service) Resolve(ctx context.Context, req domain.ResolveRequest) (*domain.Dispute, error) {
	if !req.Resolution.Valid() {
		return nil, domain.ErrInvalidResolution
	}

	dispute, err := s.disputes.FindByID(ctx, s.db, req.DisputeID)
	if err != nil {
		return nil, err
	}
	if dispute == nil {
		return nil, domain.ErrNotFound
	}
	if dispute.Status.Terminal() {
		return nil, domain.ErrAlreadyResolved
	}

	payment, err := s.payments.FindPaymentBySession(ctx, s.db, dispute.SessionID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}

	refundAmount, err := resolveRefundAmount(req, payment)
	if err != nil {
		return nil, err
	}

	var provider providers.Provider
	if refundAmount > 0 {
		provider, err = s.providers.Get(payment.Provider)
		if err != nil {
			return nil, paymentdomain.ErrInvalidProvider
		}
	}

	now := s.clock.Now()
	status := domain.StatusResolved
	if req.Resolution == domain.ResolutionNoRefund {
		status = domain.StatusRejected
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.payments.LockPaymentBySession(ctx, tx, dispute.SessionID)
		if err != nil {
			return err
		}
		if locked == nil {
			return paymentdomain.ErrPaymentNotFound
		}

		var refundPtr *int64
		var newTotal int64
		if refundAmount > 0 {
			newTotal = locked.RefundedTotal() + refundAmount
			if newTotal > locked.Amount {
				return domain.ErrInvalidRefundAmount
			}
			refundPtr = &refundAmount
		}

		// Claim the dispute before money moves. A losing concurrent resolver
		// bails here, never reaching the provider.
		updated, err := s.disputes.MarkResolved(ctx, tx, dispute.ID, status, req.Resolution, refundPtr, req.AdminNotes, now)
		if err != nil {
			return err
		}
		if !updated {
			return domain.ErrAlreadyResolved
		}

		if refundAmount > 0 {
			// The provider refund runs under the payment row lock, after the
			// amount was re-validated against the locked row. A concurrent
			// refund cannot shrink the refundable remainder once the money
			// has left.
			err = providers.Invoke(ctx, s.cfg.ProviderTimeout, s.cfg.ProviderRetries, func(callCtx context.Context) error {
				started := s.clock.Now()
				_, err := provider.Refund(callCtx, providers.RefundRequest{
					TransactionID: locked.TransactionID,
					Amount:        refundAmount,
					Currency:      locked.Currency,
					Reference:     dispute.ID.String(),
				})
				s.metrics.ObserveProviderCall(locked.Provider, "refund", s.clock.Now().Sub(started), err)
				return err
			})
			if err != nil {
				return err
			}

			mentorDebit := locked.MentorShareOf(newTotal) - locked.MentorShareOf(locked.RefundedTotal())
			if mentorDebit > 0 {
				movement := ledgerdomain.Movement{
					MentorID:   locked.MentorID,
					SourceType: ledgerdomain.SourceDisputeRefund,
					SourceID:   dispute.ID,
					Currency:   locked.Currency,
					OccurredAt: now,
				}
				if locked.HoldState == paymentdomain.HoldStatePending {
					movement.PendingDelta = -mentorDebit
				} else {
					movement.AvailableDelta = -mentorDebit
				}
				if _, err := s.ledger.Apply(ctx, tx, movement); err != nil {
					return err
				}
			}
			if err := s.payments.RecordRefund(ctx, tx, locked.ID, newTotal, newTotal == locked.Amount, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	dispute.Status = status
	resolution := req.Resolution
	dispute.Resolution = &resolution
	if refundAmount > 0 {
		dispute.RefundAmount = &refundAmount
		s.metrics.IncRefund(metrics.RefundKindDispute)
	}
	dispute.AdminNotes = req.AdminNotes
	dispute.ResolvedAt = &now
	dispute.UpdatedAt = now

	s.events.Notify(ctx, "dispute.resolved", dispute.ID, map[string]string{
		"session_id": dispute.SessionID.String(),
		"resolution": string(req.Resolution),
		"admin_id":   req.AdminID.String(),
	})
	s.log.Info("dispute resolved",
		zap.String("dispute_id", dispute.ID.String()),
		zap.String("resolution", string(req.Resolution)),
		zap.Int64("refund_amount", refundAmount),
	)
	return dispute, nil
}

// resolveRefundAmount validates the refund for the chosen resolution. A full
// refund defaults to the payment's remaining refundable amount.
func resolveRefundAmount(req domain.ResolveRequest, payment *paymentdomain.Payment) (int64, error) {
	switch req.Resolution {
	case domain.ResolutionNoRefund:
		return 0, nil
	case domain.ResolutionFullRefund:
		if req.RefundAmount == nil {
			return payment.Amount - payment.RefundedTotal(), nil
		}
	case domain.ResolutionPartialRefund:
		if req.RefundAmount == nil {
			return 0, domain.ErrInvalidRefundAmount
		}
	}
	amount := *req.RefundAmount
	if amount <= 0 || amount > payment.Amount {
		return 0, domain.ErrInvalidRefundAmount
	}
	return amount, nil
}

func (s *Service) Search(ctx context.Context, filter domain.ListDisputeFilter, page pagination.Pagination) (*domain.SearchResponse, error) {
	page = page.Normalize()
	items, total, err := s.disputes.List(ctx, s.db, filter, page)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Dispute{}
	}
	return &domain.SearchResponse{
		Disputes: items,
		PageInfo: pagination.BuildPageInfo(page, total),
	}, nil
}
