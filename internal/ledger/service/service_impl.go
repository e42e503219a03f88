package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/mentorlink/settlement/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
	}
}

func (s *Service) Apply(ctx context.Context, tx *gorm.DB, m ledgerdomain.Movement) (bool, error) {
	if m.MentorID == 0 {
		return false, ledgerdomain.ErrInvalidMentor
	}
	if strings.TrimSpace(string(m.SourceType)) == "" || m.SourceID == 0 {
		return false, ledgerdomain.ErrInvalidSource
	}
	currency := strings.ToUpper(strings.TrimSpace(m.Currency))
	if currency == "" {
		return false, ledgerdomain.ErrInvalidCurrency
	}
	if m.PendingDelta == 0 && m.AvailableDelta == 0 && m.ReservedDelta == 0 {
		return false, ledgerdomain.ErrInvalidMovement
	}
	if m.OccurredAt.IsZero() {
		m.OccurredAt = time.Now().UTC()
	}

	now := time.Now().UTC()
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_accounts (mentor_id, pending_balance, available_balance, reserved_balance, currency, updated_at)
		 VALUES (?, 0, 0, 0, ?, ?)
		 ON CONFLICT (mentor_id) DO NOTHING`,
		m.MentorID,
		currency,
		now,
	).Error; err != nil {
		return false, err
	}

	res := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_movements (
			id, mentor_id, source_type, source_id,
			pending_delta, available_delta, reserved_delta,
			currency, occurred_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_type, source_id) DO NOTHING`,
		s.genID.Generate(),
		m.MentorID,
		string(m.SourceType),
		m.SourceID,
		m.PendingDelta,
		m.AvailableDelta,
		m.ReservedDelta,
		currency,
		m.OccurredAt.UTC(),
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Movement already journaled; balances were adjusted when it was.
		return false, nil
	}

	// The guards keep every balance non-negative. A zero-row update means the
	// mentor cannot cover the debit; rolling back the caller's transaction
	// also removes the movement row.
	upd := tx.WithContext(ctx).Exec(
		`UPDATE ledger_accounts
		 SET pending_balance = pending_balance + ?,
		     available_balance = available_balance + ?,
		     reserved_balance = reserved_balance + ?,
		     updated_at = ?
		 WHERE mentor_id = ?
		   AND pending_balance + ? >= 0
		   AND available_balance + ? >= 0
		   AND reserved_balance + ? >= 0`,
		m.PendingDelta,
		m.AvailableDelta,
		m.ReservedDelta,
		now,
		m.MentorID,
		m.PendingDelta,
		m.AvailableDelta,
		m.ReservedDelta,
	)
	if upd.Error != nil {
		return false, upd.Error
	}
	if upd.RowsAffected == 0 {
		return false, ledgerdomain.ErrInsufficientBalance
	}

	s.log.Debug("ledger movement applied",
		zap.String("mentor_id", m.MentorID.String()),
		zap.String("source_type", string(m.SourceType)),
		zap.String("source_id", m.SourceID.String()),
		zap.Int64("pending_delta", m.PendingDelta),
		zap.Int64("available_delta", m.AvailableDelta),
		zap.Int64("reserved_delta", m.ReservedDelta),
	)
	return true, nil
}

func (s *Service) Account(ctx context.Context, mentorID snowflake.ID) (*ledgerdomain.Account, error) {
	if mentorID == 0 {
		return nil, ledgerdomain.ErrInvalidMentor
	}
	var account ledgerdomain.Account
	err := s.db.WithContext(ctx).Raw(
		`SELECT mentor_id, pending_balance, available_balance, reserved_balance, currency, updated_at
		 FROM ledger_accounts
		 WHERE mentor_id = ?`,
		mentorID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.MentorID == 0 {
		return &ledgerdomain.Account{MentorID: mentorID}, nil
	}
	return &account, nil
}
