package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/mentorlink/settlement/internal/clock"
	"github.com/mentorlink/settlement/internal/config"
	"github.com/mentorlink/settlement/internal/events"
	ledgerdomain "github.com/mentorlink/settlement/internal/ledger/domain"
	ledgerservice "github.com/mentorlink/settlement/internal/ledger/service"
	"github.com/mentorlink/settlement/internal/payment/providers"
	payoutdomain "github.com/mentorlink/settlement/internal/payout/domain"
	payoutrepo "github.com/mentorlink/settlement/internal/payout/repository"
	payoutservice "github.com/mentorlink/settlement/internal/payout/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeProvider struct {
	transferErr   error
	transferCalls int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CreateIntent(ctx context.Context, req providers.IntentRequest) (*providers.IntentResult, error) {
	return &providers.IntentResult{ProviderReference: "pi_" + req.Reference}, nil
}

func (p *fakeProvider) VerifyCapture(ctx context.Context, providerReference string) (*providers.CaptureResult, error) {
	return &providers.CaptureResult{}, nil
}

func (p *fakeProvider) Refund(ctx context.Context, req providers.RefundRequest) (*providers.RefundResult, error) {
	return &providers.RefundResult{ProviderRefundID: "re_" + req.Reference}, nil
}

func (p *fakeProvider) Transfer(ctx context.Context, req providers.TransferRequest) (*providers.TransferResult, error) {
	p.transferCalls++
	if p.transferErr != nil {
		return nil, p.transferErr
	}
	return &providers.TransferResult{ProviderTransferID: "tr_" + req.Reference}, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:payout_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE payouts (
			id BIGINT PRIMARY KEY,
			mentor_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			provider_reference TEXT NOT NULL DEFAULT '',
			provider_acked_at TIMESTAMP,
			requested_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP,
			completed_at TIMESTAMP,
			cancelled_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
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

type fixture struct {
	db       *gorm.DB
	svc      payoutdomain.Service
	ledger   ledgerdomain.Service
	provider *fakeProvider
	clock    *clock.FakeClock
	node     *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(23)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	provider := &fakeProvider{}

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
	cfg := config.Config{
		ProviderTimeout:  time.Second,
		ProviderRetries:  1,
		DefaultProvider:  "fake",
		PayoutLockTTL:    30 * time.Second,
		PayoutLockPrefix: "settlement:payout:process:",
	}
	svc := payoutservice.NewService(payoutservice.Params{
		Config:    cfg,
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fc,
		Providers: providers.NewRegistry(provider),
		Payouts:   payoutrepo.Provide(),
		Ledger:    ledgerSvc,
		Events:    events.NewPublisher(events.Params{Log: zap.NewNop()}),
	})
	return &fixture{db: db, svc: svc, ledger: ledgerSvc, provider: provider, clock: fc, node: node}
}

// seedAvailable credits a mentor's available balance directly.
func (f *fixture) seedAvailable(t *testing.T, mentorID snowflake.ID, amount int64) {
	t.Helper()

	_, err := f.ledger.Apply(context.Background(), f.db, ledgerdomain.Movement{
		MentorID:       mentorID,
		SourceType:     ledgerdomain.SourceEscrowRelease,
		SourceID:       f.node.Generate(),
		AvailableDelta: amount,
		Currency:       "USD",
	})
	require.NoError(t, err)
}

func TestRequestReservesAvailableBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mentorID := f.node.Generate()
	f.seedAvailable(t, mentorID, 40000)

	payout, err := f.svc.Request(ctx, payoutdomain.RequestPayoutInput{
		MentorID:    mentorID,
		RequesterID: mentorID,
		Amount:      40000,
	})
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.StatusPending, payout.Status)
	assert.Equal(t, int64(40000), payout.Amount)
	assert.Equal(t, "USD", payout.Currency)

	account, err := f.ledger.Account(ctx, mentorID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.AvailableBalance)
	assert.Equal(t, int64(40000), account.ReservedBalance)
}

func TestRequestOverdrawRejectedWithoutMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mentorID := f.node.Generate()
	f.seedAvailable(t, mentorID, 10000)

	_, err := f.svc.Request(ctx, payoutdomain.RequestPayoutInput{
		MentorID:    mentorID,
		RequesterID: mentorID,
		Amount:      10001,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientBalance)

	account, err := f.ledger.Account(ctx, mentorID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), account.AvailableBalance)
	assert.Equal(t, int64(0), account.ReservedBalance)

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM payouts`).Scan(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestRequestConcurrentOverdrawOneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mentorID := f.node.Generate()
	f.seedAvailable(t, mentorID, 10000)

	// Two requests for the full balance race; the guarded reserve update
	// lets exactly one through.
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Request(ctx, payoutdomain.RequestPayoutInput{
				MentorID:    mentorID,
				RequesterID: mentorID,
				Amount:      10000,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var failures []error
	for err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ledgerdomain.ErrInsufficientBalance)

	account, err := f.ledger.Account(ctx, mentorID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.AvailableBalance)
	assert.Equal(t, int64(10000), account.ReservedBalance)

	// The loser's payout row rolled back with its reservation.
	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM payouts`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRequestValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mentorID := f.node.Generate()

	_, err := f.svc.Request(ctx, payoutdomain.RequestPayoutInput{
		MentorID:    mentorID,
		RequesterID: f.node.Generate(),
		Amount:      1000,
	})
	assert.ErrorIs(t, err, payoutdomain.ErrForbidden)

	_, err = f.svc.Request(ctx, payoutdomain.RequestPayoutInput{
		MentorID:    mentorID,
		RequesterID: mentorID,
		Amount:      0,
	})
	assert.ErrorIs(t, err, payoutdomain.ErrInvalidAmount)
}

func TestProcessCompletesPayout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mentorID := f.node.Generate()
	f.seedAvailable(t, mentorID, 40000)

	payout, err := f.svc.Request(ctx, payoutdomain.RequestPayoutInput{
		MentorID:    mentorID,
		RequesterID: mentorID,
		Amount:      40000,
	})
	require.NoError(t, err)

	processed, err := f.svc.Process(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.StatusCompleted, processed.Status)
	assert.NotEmpty(t, processed.ProviderReference)
	assert.NotNil(t, processed.ProviderAckedAt)
	assert.Equal(t, 1, f.provider.transferCalls)

	// Reservation consumed; the money has left the platform.
	account, err := f.ledger.Account(ctx, mentorID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.AvailableBalance)
	assert.Equal(t, int64(0), account.ReservedBalance)

	_, err = f.svc.Process(ctx, payout.ID)
	assert.ErrorIs(t, err, payoutdomain.ErrNotPending)
}

func TestProcessFailureReturnsFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mentorID := f.node.Generate()
	f.seedAvailable(t, mentorID, 25000)

	payout, err := f.svc.Request(ctx, payoutdomain.RequestPayoutInput{
		MentorID:    mentorID,
		RequesterID: mentorID,
		Amount:      25000,
	})
	require.NoError(t, err)

	f.provider.transferErr = providers.ErrDeclined
	failed, err := f.svc.Process(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.StatusFailed, failed.Status)
	assert.NotEmpty(t, failed.FailureReason)

	account, err := f.ledger.Account(ctx, mentorID)
	require.NoError(t, err)
	assert.Equal(t, int64(25000), account.AvailableBalance)
	assert.Equal(t, int64(0), account.ReservedBalance)
}

func TestCancelReturnsFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mentorID := f.node.Generate()
	f.seedAvailable(t, mentorID, 18000)

	payout, err := f.svc.Request(ctx, payoutdomain.RequestPayoutInput{
		MentorID:    mentorID,
		RequesterID: mentorID,
		Amount:      18000,
	})
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	account, err := f.ledger.Account(ctx, mentorID)
	require.NoError(t, err)
	assert.Equal(t, int64(18000), account.AvailableBalance)
	assert.Equal(t, int64(0), account.ReservedBalance)

	_, err = f.svc.Cancel(ctx, payout.ID)
	assert.ErrorIs(t, err, payoutdomain.ErrNotCancellable)

	_, err = f.svc.Process(ctx, payout.ID)
	assert.ErrorIs(t, err, payoutdomain.ErrNotPending)
}

func TestCancelRefusedAfterProviderAck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mentorID := f.node.Generate()
	f.seedAvailable(t, mentorID, 12000)

	payout, err := f.svc.Request(ctx, payoutdomain.RequestPayoutInput{
		MentorID:    mentorID,
		RequesterID: mentorID,
		Amount:      12000,
	})
	require.NoError(t, err)

	_, err = f.svc.Process(ctx, payout.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, payout.ID)
	assert.ErrorIs(t, err, payoutdomain.ErrNotCancellable)
}

func TestGetUnknownPayout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Get(ctx, f.node.Generate())
	assert.ErrorIs(t, err, payoutdomain.ErrNotFound)
}
