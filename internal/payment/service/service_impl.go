package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/mentorlink/settlement/internal/clock"
	"github.com/mentorlink/settlement/internal/config"
	"github.com/mentorlink/settlement/internal/events"
	ledgerdomain "github.com/mentorlink/settlement/internal/ledger/domain"
	"github.com/mentorlink/settlement/internal/observability/metrics"
	"github.com/mentorlink/settlement/internal/payment/domain"
	"github.com/mentorlink/settlement/internal/payment/providers"
	sessiondomain "github.com/mentorlink/settlement/internal/session/domain"
	pkgdb "github.com/mentorlink/settlement/pkg/db"
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
	Payments  domain.Repository
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
	payments  domain.Repository
	ledger    ledgerdomain.Service
	events    events.Publisher
	metrics   *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		cfg:       p.Config,
		db:        p.DB,
		log:       p.Log.Named("payment.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		providers: p.Providers,
		sessions:  p.Sessions,
		payments:  p.Payments,
		ledger:    p.Ledger,
		events:    p.Events,
		metrics:   p.Metrics,
	}
}

func (s *Service) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (*domain.PaymentIntent, error) {
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
	if session.Status != sessiondomain.SessionStatusAwaitingPayment {
		if session.Status == sessiondomain.SessionStatusConfirmed || session.Status == sessiondomain.SessionStatusCompleted {
			return nil, domain.ErrSessionAlreadyConfirmed
		}
		return nil, domain.ErrSessionNotPayable
	}

	if existing, err := s.payments.FindIntentBySession(ctx, s.db, session.ID); err != nil {
		return nil, err
	} else if existing != nil {
		if existing.Status == domain.IntentStatusPending {
			return existing, nil
		}
		return nil, domain.ErrIntentExists
	}

	amount := session.Price()
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	providerName := strings.ToLower(strings.TrimSpace(req.Provider))
	if providerName == "" {
		providerName = s.cfg.DefaultProvider
	}
	provider, err := s.providers.Get(providerName)
	if err != nil {
		return nil, domain.ErrInvalidProvider
	}

	intentID := s.genID.Generate()
	var result *providers.IntentResult
	err = providers.Invoke(ctx, s.cfg.ProviderTimeout, s.cfg.ProviderRetries, func(callCtx context.Context) error {
		started := s.clock.Now()
		result, err = provider.CreateIntent(callCtx, providers.IntentRequest{
			Amount:    amount,
			Currency:  session.Currency,
			Method:    req.Method,
			Reference: intentID.String(),
		})
		s.metrics.ObserveProviderCall(providerName, "create_intent", s.clock.Now().Sub(started), err)
		return err
	})
	if err != nil {
		s.log.Warn("provider intent creation failed",
			zap.String("session_id", session.ID.String()),
			zap.String("provider", providerName),
			zap.Error(err),
		)
		return nil, err
	}

	now := s.clock.Now()
	intent := &domain.PaymentIntent{
		ID:                intentID,
		SessionID:         session.ID,
		Amount:            amount,
		Currency:          strings.ToUpper(session.Currency),
		Provider:          providerName,
		ProviderMethod:    req.Method,
		Status:            domain.IntentStatusPending,
		ProviderReference: result.ProviderReference,
		ClientSecret:      result.ClientSecret,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if len(result.Metadata) > 0 {
		if encoded, err := json.Marshal(result.Metadata); err == nil {
			intent.ProviderMetadata = encoded
		}
	}

	inserted, err := s.payments.InsertIntent(ctx, s.db, intent)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Lost a race with a concurrent create for the same session.
		existing, err := s.payments.FindIntentBySession(ctx, s.db, session.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.Status == domain.IntentStatusPending {
			return existing, nil
		}
		return nil, domain.ErrIntentExists
	}

	s.log.Info("payment intent created",
		zap.String("intent_id", intent.ID.String()),
		zap.String("session_id", session.ID.String()),
		zap.String("provider", providerName),
		zap.Int64("amount", amount),
	)
	return intent, nil
}

func (s *Service) Confirm(ctx context.Context, req domain.ConfirmRequest) (*domain.Payment, error) {
	intent, err := s.payments.FindIntentByID(ctx, s.db, req.IntentID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domain.ErrIntentNotFound
	}
	if req.SessionID != 0 && req.SessionID != intent.SessionID {
		return nil, domain.ErrIntentNotFound
	}

	session, err := s.sessions.FindByID(ctx, s.db, intent.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, sessiondomain.ErrNotFound
	}
	if session.MenteeID != req.RequesterID {
		return nil, domain.ErrForbidden
	}

	provider, err := s.providers.Get(intent.Provider)
	if err != nil {
		return nil, domain.ErrInvalidProvider
	}

	var capture *providers.CaptureResult
	err = providers.Invoke(ctx, s.cfg.ProviderTimeout, s.cfg.ProviderRetries, func(callCtx context.Context) error {
		started := s.clock.Now()
		capture, err = provider.VerifyCapture(callCtx, intent.ProviderReference)
		s.metrics.ObserveProviderCall(intent.Provider, "verify_capture", s.clock.Now().Sub(started), err)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !capture.Captured || capture.TransactionID == "" {
		return nil, domain.ErrPaymentNotCaptured
	}
	if capture.Amount != intent.Amount {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	paidAt := capture.CapturedAt
	if paidAt.IsZero() {
		paidAt = now
	}
	commission, mentorShare := domain.SplitAmount(intent.Amount, s.cfg.CommissionRateBps)
	payment := &domain.Payment{
		ID:                 s.genID.Generate(),
		SessionID:          session.ID,
		IntentID:           intent.ID,
		MentorID:           session.MentorID,
		MenteeID:           session.MenteeID,
		Amount:             intent.Amount,
		PlatformCommission: commission,
		MentorPayoutAmount: mentorShare,
		Currency:           intent.Currency,
		Provider:           intent.Provider,
		Status:             domain.PaymentStatusCaptured,
		TransactionID:      capture.TransactionID,
		PaidAt:             paidAt,
		HoldState:          domain.HoldStatePending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	var settled *domain.Payment
	err = s.db.Transaction(func(tx *gorm.DB) error {
		inserted, err := s.payments.InsertPayment(ctx, tx, payment)
		if err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return domain.ErrSessionAlreadyConfirmed
			}
			return err
		}
		if !inserted {
			// Same provider transaction already settled. Re-delivered
			// confirmations are a no-op.
			existing, err := s.payments.FindPaymentByTransaction(ctx, tx, capture.TransactionID)
			if err != nil {
				return err
			}
			if existing == nil || existing.SessionID != session.ID {
				return domain.ErrSessionAlreadyConfirmed
			}
			settled = existing
			return nil
		}

		if _, err := s.ledger.Apply(ctx, tx, ledgerdomain.Movement{
			MentorID:     payment.MentorID,
			SourceType:   ledgerdomain.SourcePaymentCapture,
			SourceID:     payment.ID,
			PendingDelta: payment.MentorPayoutAmount,
			Currency:     payment.Currency,
			OccurredAt:   paidAt,
		}); err != nil {
			return err
		}

		if _, err := s.payments.UpdateIntentStatus(ctx, tx, intent.ID, domain.IntentStatusPending, domain.IntentStatusCaptured, now); err != nil {
			return err
		}
		if _, err := s.sessions.TransitionStatus(ctx, tx, session.ID, sessiondomain.SessionStatusAwaitingPayment, sessiondomain.SessionStatusConfirmed); err != nil {
			return err
		}
		settled = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	if settled == payment {
		s.metrics.IncPaymentCaptured()
		s.events.Notify(ctx, "payment.captured", payment.ID, map[string]string{
			"session_id":     session.ID.String(),
			"mentor_id":      session.MentorID.String(),
			"transaction_id": capture.TransactionID,
		})
		s.log.Info("payment captured",
			zap.String("payment_id", payment.ID.String()),
			zap.String("session_id", session.ID.String()),
			zap.Int64("amount", payment.Amount),
			zap.Int64("platform_commission", payment.PlatformCommission),
			zap.Int64("mentor_payout_amount", payment.MentorPayoutAmount),
		)
	}
	return settled, nil
}

func (s *Service) Refund(ctx context.Context, req domain.RefundRequest) (*domain.Payment, error) {
	if req.Percentage < 1 || req.Percentage > 100 {
		return nil, domain.ErrInvalidRefundPercentage
	}

	payment, err := s.payments.FindPaymentByID(ctx, s.db, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	if payment.Status != domain.PaymentStatusCaptured {
		return nil, domain.ErrPaymentNotRefundable
	}

	refundAmount := payment.Amount * req.Percentage / 100
	if refundAmount <= 0 {
		return nil, domain.ErrInvalidRefundPercentage
	}
	if payment.RefundedTotal()+refundAmount > payment.Amount {
		return nil, domain.ErrRefundExceedsAmount
	}

	provider, err := s.providers.Get(payment.Provider)
	if err != nil {
		return nil, domain.ErrInvalidProvider
	}

	refundID := s.genID.Generate()
	err = providers.Invoke(ctx, s.cfg.ProviderTimeout, s.cfg.ProviderRetries, func(callCtx context.Context) error {
		started := s.clock.Now()
		_, err := provider.Refund(callCtx, providers.RefundRequest{
			TransactionID: payment.TransactionID,
			Amount:        refundAmount,
			Currency:      payment.Currency,
			Reference:     refundID.String(),
		})
		s.metrics.ObserveProviderCall(payment.Provider, "refund", s.clock.Now().Sub(started), err)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.payments.LockPaymentBySession(ctx, tx, payment.SessionID)
		if err != nil {
			return err
		}
		if locked == nil || locked.ID != payment.ID {
			return domain.ErrPaymentNotFound
		}
		if locked.Status != domain.PaymentStatusCaptured {
			return domain.ErrPaymentNotRefundable
		}
		newTotal := locked.RefundedTotal() + refundAmount
		if newTotal > locked.Amount {
			return domain.ErrRefundExceedsAmount
		}

		// Carve the mentor's slice cumulatively so truncation never leaves a
		// remainder after a full refund.
		mentorDebit := locked.MentorShareOf(newTotal) - locked.MentorShareOf(locked.RefundedTotal())
		if mentorDebit > 0 {
			movement := ledgerdomain.Movement{
				MentorID:   locked.MentorID,
				SourceType: ledgerdomain.SourceAdminRefund,
				SourceID:   refundID,
				Currency:   locked.Currency,
				OccurredAt: now,
			}
			if locked.HoldState == domain.HoldStatePending {
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
		payment = locked
		refunded := newTotal
		payment.RefundAmount = &refunded
		payment.RefundedAt = &now
		if newTotal == locked.Amount {
			payment.Status = domain.PaymentStatusRefunded
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncRefund(metrics.RefundKindAdmin)
	s.events.Notify(ctx, "payment.refunded", payment.ID, map[string]string{
		"session_id": payment.SessionID.String(),
		"admin_id":   req.AdminID.String(),
	})
	s.log.Info("admin refund recorded",
		zap.String("payment_id", payment.ID.String()),
		zap.Int64("refund_amount", refundAmount),
		zap.Int64("percentage", req.Percentage),
		zap.String("admin_id", req.AdminID.String()),
	)
	return payment, nil
}

func (s *Service) History(ctx context.Context, filter domain.ListPaymentFilter, page pagination.Pagination) (*domain.HistoryResponse, error) {
	page = page.Normalize()
	items, total, err := s.payments.List(ctx, s.db, filter, page)
	if err != nil {
		return nil, err
	}
	summary, err := s.payments.Summarize(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Payment{}
	}
	return &domain.HistoryResponse{
		Payments: items,
		Summary:  *summary,
		PageInfo: pagination.BuildPageInfo(page, total),
	}, nil
}
