package service_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/mentorlink/settlement/internal/clock"
	"github.com/mentorlink/settlement/internal/config"
	"github.com/mentorlink/settlement/internal/events"
	ledgerdomain "github.com/mentorlink/settlement/internal/ledger/domain"
	ledgerservice "github.com/mentorlink/settlement/internal/ledger/service"
	paymentdomain "github.com/mentorlink/settlement/internal/payment/domain"
	"github.com/mentorlink/settlement/internal/payment/providers"
	paymentrepo "github.com/mentorlink/settlement/internal/payment/repository"
	paymentservice "github.com/mentorlink/settlement/internal/payment/service"
	sessiondomain "github.com/mentorlink/settlement/internal/session/domain"
	sessionrepo "github.com/mentorlink/settlement/internal/session/repository"
	"github.com/mentorlink/settlement/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeProvider struct {
	name        string
	intent      providers.IntentResult
	intentErr   error
	capture     providers.CaptureResult
	captureErr  error
	refundErr   error
	refundCalls int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) CreateIntent(ctx context.Context, req providers.IntentRequest) (*providers.IntentResult, error) {
	if p.intentErr != nil {
		return nil, p.intentErr
	}
	result := p.intent
	if result.ProviderReference == "" {
		result.ProviderReference = "pi_" + req.Reference
	}
	return &result, nil
}

func (p *fakeProvider) VerifyCapture(ctx context.Context, providerReference string) (*providers.CaptureResult, error) {
	if p.captureErr != nil {
		return nil, p.captureErr
	}
	capture := p.capture
	return &capture, nil
}

func (p *fakeProvider) Refund(ctx context.Context, req providers.RefundRequest) (*providers.RefundResult, error) {
	p.refundCalls++
	if p.refundErr != nil {
		return nil, p.refundErr
	}
	return &providers.RefundResult{ProviderRefundID: "re_" + req.Reference}, nil
}

func (p *fakeProvider) Transfer(ctx context.Context, req providers.TransferRequest) (*providers.TransferResult, error) {
	return &providers.TransferResult{ProviderTransferID: "tr_" + req.Reference}, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:payment_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	// sqlite has no FOR UPDATE; strip it so the row-lock queries still run.
	stripForUpdate := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("sqlite_strip_for_update", stripForUpdate))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("sqlite_strip_for_update_row", stripForUpdate))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE sessions (
			id BIGINT PRIMARY KEY,
			mentor_id BIGINT NOT NULL,
			mentee_id BIGINT NOT NULL,
			status TEXT NOT NULL,
			hourly_rate BIGINT NOT NULL,
			duration_minutes BIGINT NOT NULL,
			currency TEXT NOT NULL,
			completed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE payment_intents (
			id BIGINT PRIMARY KEY,
			session_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			provider TEXT NOT NULL,
			provider_method TEXT,
			status TEXT NOT NULL,
			provider_reference TEXT,
			client_secret TEXT,
			provider_metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_payment_intents_session ON payment_intents (session_id)`,
		`CREATE TABLE payments (
			id BIGINT PRIMARY KEY,
			session_id BIGINT NOT NULL,
			intent_id BIGINT NOT NULL,
			mentor_id BIGINT NOT NULL,
			mentee_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			platform_commission BIGINT NOT NULL,
			mentor_payout_amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			provider TEXT NOT NULL,
			status TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			paid_at TIMESTAMP NOT NULL,
			refund_amount BIGINT,
			refunded_at TIMESTAMP,
			hold_state TEXT NOT NULL,
			hold_released_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_payments_session ON payments (session_id)`,
		`CREATE UNIQUE INDEX ux_payments_transaction ON payments (transaction_id)`,
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
	svc      paymentdomain.Service
	ledger   ledgerdomain.Service
	provider *fakeProvider
	clock    *clock.FakeClock
	node     *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(21)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	provider := &fakeProvider{name: "fake"}

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
	cfg := config.Config{
		CommissionRateBps: 1500,
		HoldWindow:        72 * time.Hour,
		ProviderTimeout:   time.Second,
		ProviderRetries:   1,
		DefaultProvider:   "fake",
	}
	svc := paymentservice.NewService(paymentservice.Params{
		Config:    cfg,
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fc,
		Providers: providers.NewRegistry(provider),
		Sessions:  sessionrepo.Provide(),
		Payments:  paymentrepo.Provide(),
		Ledger:    ledgerSvc,
		Events:    events.NewPublisher(events.Params{Log: zap.NewNop()}),
	})
	return &fixture{db: db, svc: svc, ledger: ledgerSvc, provider: provider, clock: fc, node: node}
}

func (f *fixture) seedSession(t *testing.T, mentorID, menteeID snowflake.ID, status sessiondomain.SessionStatus) snowflake.ID {
	t.Helper()

	id := f.node.Generate()
	now := f.clock.Now()
	require.NoError(t, f.db.Exec(
		`INSERT INTO sessions (id, mentor_id, mentee_id, status, hourly_rate, duration_minutes, currency, completed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		id, mentorID, menteeID, status, 15000, 60, "USD", now, now,
	).Error)
	return id
}

func (f *fixture) capturePayment(t *testing.T, sessionID, menteeID snowflake.ID, transactionID string) *paymentdomain.Payment {
	t.Helper()

	ctx := context.Background()
	intent, err := f.svc.CreateIntent(ctx, paymentdomain.CreateIntentRequest{
		SessionID:   sessionID,
		RequesterID: menteeID,
	})
	require.NoError(t, err)

	f.provider.capture = providers.CaptureResult{
		Captured:      true,
		TransactionID: transactionID,
		Amount:        intent.Amount,
		Currency:      intent.Currency,
		CapturedAt:    f.clock.Now(),
	}
	payment, err := f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{
		IntentID:    intent.ID,
		RequesterID: menteeID,
	})
	require.NoError(t, err)
	return payment
}

func TestConfirmSplitsCommission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mentorID := f.node.Generate()
	menteeID := f.node.Generate()
	sessionID := f.seedSession(t, mentorID, menteeID, sessiondomain.SessionStatusAwaitingPayment)

	payment := f.capturePayment(t, sessionID, menteeID, "txn_split")

	// 15000 at 15% commission: 2250 platform, 12750 mentor.
	assert.Equal(t, int64(15000), payment.Amount)
	assert.Equal(t, int64(2250), payment.PlatformCommission)
	assert.Equal(t, int64(12750), payment.MentorPayoutAmount)
	assert.Equal(t, paymentdomain.PaymentStatusCaptured, payment.Status)
	assert.Equal(t, paymentdomain.HoldStatePending, payment.HoldState)

	account, err := f.ledger.Account(ctx, mentorID)
	require.NoError(t, err)
	assert.Equal(t, int64(12750), account.PendingBalance)
	assert.Equal(t, int64(0), account.AvailableBalance)

	var sessionStatus string
	require.NoError(t, f.db.Raw(`SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&sessionStatus).Error)
	assert.Equal(t, string(sessiondomain.SessionStatusConfirmed), sessionStatus)

	var intentStatus string
	require.NoError(t, f.db.Raw(`SELECT status FROM payment_intents WHERE session_id = ?`, sessionID).Scan(&intentStatus).Error)
	assert.Equal(t, string(paymentdomain.IntentStatusCaptured), intentStatus)
}

func TestConfirmIsIdempotentPerTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mentorID := f.node.Generate()
	menteeID := f.node.Generate()
	sessionID := f.seedSession(t, mentorID, menteeID, sessiondomain.SessionStatusAwaitingPayment)

	payment := f.capturePayment(t, sessionID, menteeID, "txn_dup")

	var intentID snowflake.ID
	require.NoError(t, f.db.Raw(`SELECT id FROM payment_intents WHERE session_id = ?`, sessionID).Scan(&intentID).Error)

	again, err := f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{
		IntentID:    intentID,
		RequesterID: menteeID,
	})
	require.NoError(t, err)
	assert.Equal(t, payment.ID, again.ID)

	account, err := f.ledger.Account(ctx, mentorID)
	require.NoError(t, err)
	assert.Equal(t, int64(12750), account.PendingBalance)

	var movements int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM ledger_movements`).Scan(&movements).Error)
	assert.Equal(t, int64(1), movements)
}

func TestCreateIntentReturnsExistingPendingIntent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	menteeID := f.node.Generate()
	sessionID := f.seedSession(t, f.node.Generate(), menteeID, sessiondomain.SessionStatusAwaitingPayment)

	first, err := f.svc.CreateIntent(ctx, paymentdomain.CreateIntentRequest{SessionID: sessionID, RequesterID: menteeID})
	require.NoError(t, err)
	second, err := f.svc.CreateIntent(ctx, paymentdomain.CreateIntentRequest{SessionID: sessionID, RequesterID: menteeID})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM payment_intents`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateIntentRejectsWrongRequesterAndStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	menteeID := f.node.Generate()
	sessionID := f.seedSession(t, f.node.Generate(), menteeID, sessiondomain.SessionStatusAwaitingPayment)

	_, err := f.svc.CreateIntent(ctx, paymentdomain.CreateIntentRequest{SessionID: sessionID, RequesterID: f.node.Generate()})
	assert.ErrorIs(t, err, paymentdomain.ErrForbidden)

	scheduled := f.seedSession(t, f.node.Generate(), menteeID, sessiondomain.SessionStatusScheduled)
	_, err = f.svc.CreateIntent(ctx, paymentdomain.CreateIntentRequest{SessionID: scheduled, RequesterID: menteeID})
	assert.ErrorIs(t, err, paymentdomain.ErrSessionNotPayable)

	confirmed := f.seedSession(t, f.node.Generate(), menteeID, sessiondomain.SessionStatusConfirmed)
	_, err = f.svc.CreateIntent(ctx, paymentdomain.CreateIntentRequest{SessionID: confirmed, RequesterID: menteeID})
	assert.ErrorIs(t, err, paymentdomain.ErrSessionAlreadyConfirmed)

	_, err = f.svc.CreateIntent(ctx, paymentdomain.CreateIntentRequest{SessionID: f.node.Generate(), RequesterID: menteeID})
	assert.ErrorIs(t, err, sessiondomain.ErrNotFound)
}

func TestConfirmRejectsAmountMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	menteeID := f.node.Generate()
	sessionID := f.seedSession(t, f.node.Generate(), menteeID, sessiondomain.SessionStatusAwaitingPayment)

	intent, err := f.svc.CreateIntent(ctx, paymentdomain.CreateIntentRequest{SessionID: sessionID, RequesterID: menteeID})
	require.NoError(t, err)

	f.provider.capture = providers.CaptureResult{
		Captured:      true,
		TransactionID: "txn_mismatch",
		Amount:        intent.Amount - 1,
	}
	_, err = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{IntentID: intent.ID, RequesterID: menteeID})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)

	f.provider.capture = providers.CaptureResult{Captured: false}
	_, err = f.svc.Confirm(ctx, paymentdomain.ConfirmRequest{IntentID: intent.ID, RequesterID: menteeID})
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotCaptured)
}

func TestRefundCarvesMentorShareCumulatively(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mentorID := f.node.Generate()
	menteeID := f.node.Generate()
	sessionID := f.seedSession(t, mentorID, menteeID, sessiondomain.SessionStatusAwaitingPayment)
	payment := f.capturePayment(t, sessionID, menteeID, "txn_refund")
	adminID := f.node.Generate()

	refunded, err := f.svc.Refund(ctx, paymentdomain.RefundRequest{
		PaymentID:  payment.ID,
		Percentage: 50,
		AdminID:    adminID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7500), refunded.RefundedTotal())
	assert.Equal(t, paymentdomain.PaymentStatusCaptured, refunded.Status)

	// Mentor share of 7500 out of 15000 is 6375.
	account, err := f.ledger.Account(ctx, mentorID)
	require.NoError(t, err)
	assert.Equal(t, int64(12750-6375), account.PendingBalance)

	refunded, err = f.svc.Refund(ctx, paymentdomain.RefundRequest{
		PaymentID:  payment.ID,
		Percentage: 50,
		AdminID:    adminID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(15000), refunded.RefundedTotal())
	assert.Equal(t, paymentdomain.PaymentStatusRefunded, refunded.Status)

	// A fully refunded payment nets the mentor to exactly zero.
	account, err = f.ledger.Account(ctx, mentorID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.PendingBalance)
	assert.Equal(t, 2, f.provider.refundCalls)

	_, err = f.svc.Refund(ctx, paymentdomain.RefundRequest{
		PaymentID:  payment.ID,
		Percentage: 10,
		AdminID:    adminID,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotRefundable)
}

func TestRefundValidatesPercentage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	menteeID := f.node.Generate()
	sessionID := f.seedSession(t, f.node.Generate(), menteeID, sessiondomain.SessionStatusAwaitingPayment)
	payment := f.capturePayment(t, sessionID, menteeID, "txn_pct")

	for _, pct := range []int64{0, -1, 101} {
		_, err := f.svc.Refund(ctx, paymentdomain.RefundRequest{PaymentID: payment.ID, Percentage: pct})
		assert.ErrorIs(t, err, paymentdomain.ErrInvalidRefundPercentage)
	}

	_, err := f.svc.Refund(ctx, paymentdomain.RefundRequest{PaymentID: f.node.Generate(), Percentage: 50})
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)
}

func TestRefundOverTotalRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	menteeID := f.node.Generate()
	sessionID := f.seedSession(t, f.node.Generate(), menteeID, sessiondomain.SessionStatusAwaitingPayment)
	payment := f.capturePayment(t, sessionID, menteeID, "txn_over")

	_, err := f.svc.Refund(ctx, paymentdomain.RefundRequest{PaymentID: payment.ID, Percentage: 80})
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, paymentdomain.RefundRequest{PaymentID: payment.ID, Percentage: 80})
	assert.ErrorIs(t, err, paymentdomain.ErrRefundExceedsAmount)
}

func TestHistorySummarizes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	menteeID := f.node.Generate()
	s1 := f.seedSession(t, f.node.Generate(), menteeID, sessiondomain.SessionStatusAwaitingPayment)
	s2 := f.seedSession(t, f.node.Generate(), menteeID, sessiondomain.SessionStatusAwaitingPayment)
	f.capturePayment(t, s1, menteeID, "txn_h1")
	f.capturePayment(t, s2, menteeID, "txn_h2")

	history, err := f.svc.History(ctx, paymentdomain.ListPaymentFilter{MenteeID: &menteeID}, pagination.Pagination{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, history.Payments, 2)
	assert.Equal(t, int64(2), history.Summary.TotalCount)
	assert.Equal(t, int64(30000), history.Summary.TotalAmount)
	assert.Equal(t, int64(2), history.Summary.CapturedCount)
}
