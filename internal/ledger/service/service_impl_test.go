package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	ledgerdomain "github.com/mentorlink/settlement/internal/ledger/domain"
	ledgerservice "github.com/mentorlink/settlement/internal/ledger/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE ledger_accounts (
			mentor_id BIGINT PRIMARY KEY,
			pending_balance BIGINT NOT NULL DEFAULT 0,
			available_balance BIGINT NOT NULL DEFAULT 0,
			reserved_balance BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE ledger_movements (
			id BIGINT PRIMARY KEY,
			mentor_id BIGINT NOT NULL,
			source_type TEXT NOT NULL,
			source_id BIGINT NOT NULL,
			pending_delta BIGINT NOT NULL,
			available_delta BIGINT NOT NULL,
			reserved_delta BIGINT NOT NULL,
			currency TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_ledger_movements_source ON ledger_movements (source_type, source_id)`,
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func newLedgerService(t *testing.T, db *gorm.DB) ledgerdomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(20)
	require.NoError(t, err)
	return ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
}

func TestApplyCreditsPendingBalance(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db)
	mentorID := snowflake.ID(1001)

	applied, err := svc.Apply(ctx, db, ledgerdomain.Movement{
		MentorID:     mentorID,
		SourceType:   ledgerdomain.SourcePaymentCapture,
		SourceID:     snowflake.ID(5001),
		PendingDelta: 12750,
		Currency:     "usd",
	})
	require.NoError(t, err)
	assert.True(t, applied)

	account, err := svc.Account(ctx, mentorID)
	require.NoError(t, err)
	assert.Equal(t, int64(12750), account.PendingBalance)
	assert.Equal(t, int64(0), account.AvailableBalance)
	assert.Equal(t, int64(0), account.ReservedBalance)
	assert.Equal(t, "USD", account.Currency)
}

func TestApplyIsIdempotentPerSource(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db)
	mentorID := snowflake.ID(1002)

	movement := ledgerdomain.Movement{
		MentorID:     mentorID,
		SourceType:   ledgerdomain.SourcePaymentCapture,
		SourceID:     snowflake.ID(5002),
		PendingDelta: 8000,
		Currency:     "USD",
	}

	applied, err := svc.Apply(ctx, db, movement)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.Apply(ctx, db, movement)
	require.NoError(t, err)
	assert.False(t, applied)

	account, err := svc.Account(ctx, mentorID)
	require.NoError(t, err)
	assert.Equal(t, int64(8000), account.PendingBalance)

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM ledger_movements`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestApplyRejectsOverdraw(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db)
	mentorID := snowflake.ID(1003)

	_, err := svc.Apply(ctx, db, ledgerdomain.Movement{
		MentorID:       mentorID,
		SourceType:     ledgerdomain.SourceEscrowRelease,
		SourceID:       snowflake.ID(5003),
		AvailableDelta: 10000,
		Currency:       "USD",
	})
	require.NoError(t, err)

	// Debiting more than the balance covers must fail and, because the caller
	// rolls the transaction back, must not leave a movement row behind.
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Apply(ctx, tx, ledgerdomain.Movement{
			MentorID:       mentorID,
			SourceType:     ledgerdomain.SourcePayoutReserve,
			SourceID:       snowflake.ID(5004),
			AvailableDelta: -10001,
			ReservedDelta:  10001,
			Currency:       "USD",
		})
		return err
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientBalance)

	account, err := svc.Account(ctx, mentorID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), account.AvailableBalance)
	assert.Equal(t, int64(0), account.ReservedBalance)

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM ledger_movements`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestApplyReserveAndReleaseAccounting(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db)
	mentorID := snowflake.ID(1004)

	_, err := svc.Apply(ctx, db, ledgerdomain.Movement{
		MentorID:       mentorID,
		SourceType:     ledgerdomain.SourceEscrowRelease,
		SourceID:       snowflake.ID(5005),
		AvailableDelta: 40000,
		Currency:       "USD",
	})
	require.NoError(t, err)

	payoutID := snowflake.ID(5006)
	_, err = svc.Apply(ctx, db, ledgerdomain.Movement{
		MentorID:       mentorID,
		SourceType:     ledgerdomain.SourcePayoutReserve,
		SourceID:       payoutID,
		AvailableDelta: -40000,
		ReservedDelta:  40000,
		Currency:       "USD",
	})
	require.NoError(t, err)

	account, err := svc.Account(ctx, mentorID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.AvailableBalance)
	assert.Equal(t, int64(40000), account.ReservedBalance)

	_, err = svc.Apply(ctx, db, ledgerdomain.Movement{
		MentorID:      mentorID,
		SourceType:    ledgerdomain.SourcePayoutRelease,
		SourceID:      payoutID,
		ReservedDelta: -40000,
		Currency:      "USD",
	})
	require.NoError(t, err)

	account, err = svc.Account(ctx, mentorID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.AvailableBalance)
	assert.Equal(t, int64(0), account.ReservedBalance)
}

func TestApplyValidatesMovement(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newLedgerService(t, db)

	_, err := svc.Apply(ctx, db, ledgerdomain.Movement{
		SourceType:   ledgerdomain.SourcePaymentCapture,
		SourceID:     snowflake.ID(1),
		PendingDelta: 100,
		Currency:     "USD",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidMentor)

	_, err = svc.Apply(ctx, db, ledgerdomain.Movement{
		MentorID:     snowflake.ID(1),
		PendingDelta: 100,
		Currency:     "USD",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidSource)

	_, err = svc.Apply(ctx, db, ledgerdomain.Movement{
		MentorID:     snowflake.ID(1),
		SourceType:   ledgerdomain.SourcePaymentCapture,
		SourceID:     snowflake.ID(2),
		PendingDelta: 100,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidCurrency)

	_, err = svc.Apply(ctx, db, ledgerdomain.Movement{
		MentorID:   snowflake.ID(1),
		SourceType: ledgerdomain.SourcePaymentCapture,
		SourceID:   snowflake.ID(3),
		Currency:   "USD",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidMovement)

	account, err := svc.Account(ctx, snowflake.ID(999))
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.PendingBalance)
}
