package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/mivvo/expertiz/internal/credit/domain"
	"github.com/mivvo/expertiz/internal/credit/repository"
	notificationdomain "github.com/mivvo/expertiz/internal/notification/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type captureNotifier struct {
	emitted []notificationdomain.EmitRequest
}

func (c *captureNotifier) Emit(ctx context.Context, req notificationdomain.EmitRequest) error {
	c.emitted = append(c.emitted, req)
	return nil
}

func (c *captureNotifier) List(ctx context.Context, req notificationdomain.ListRequest) (notificationdomain.ListResponse, error) {
	return notificationdomain.ListResponse{}, nil
}

func (c *captureNotifier) MarkRead(ctx context.Context, userID, id snowflake.ID) error { return nil }

func (c *captureNotifier) MarkAllRead(ctx context.Context, userID snowflake.ID) error { return nil }

func (c *captureNotifier) Delete(ctx context.Context, userID, id snowflake.ID) error { return nil }

func (c *captureNotifier) Broadcast(ctx context.Context, req notificationdomain.BroadcastRequest) (int64, error) {
	return 0, nil
}

func setupCreditDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// SQLite support hack: remove FOR UPDATE clauses
	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	})
	db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	})

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&domain.CreditLedger{},
		&domain.CreditTransaction{},
	))

	// SQLite needs the partial unique index for the refund ON CONFLICT target
	require.NoError(t, db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_credit_transactions_refund_ref
		 ON credit_transactions(reference_id) WHERE type = 'refund'`,
	).Error)

	return db
}

func newCreditService(t *testing.T, db *gorm.DB, notifier notificationdomain.Service) *Service {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     repository.Provide(),
		Notifier: notifier,
	})
	return svc.(*Service)
}

func TestEnsureLedger_Idempotent(t *testing.T) {
	db := setupCreditDB(t)
	svc := newCreditService(t, db, nil)
	ctx := context.Background()

	userID := snowflake.ID(1001)
	require.NoError(t, svc.EnsureLedger(ctx, userID))
	require.NoError(t, svc.EnsureLedger(ctx, userID))

	var count int64
	require.NoError(t, db.Model(&domain.CreditLedger{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDebit_InsufficientCredit(t *testing.T) {
	db := setupCreditDB(t)
	svc := newCreditService(t, db, nil)
	ctx := context.Background()

	userID := snowflake.ID(1002)
	require.NoError(t, svc.EnsureLedger(ctx, userID))

	_, err := svc.Debit(ctx, domain.DebitRequest{
		UserID:      userID,
		Amount:      decimal.NewFromInt(250),
		ReferenceID: "report-1",
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientCredit)

	// A rejected debit must leave no trace
	var txnCount int64
	require.NoError(t, db.Model(&domain.CreditTransaction{}).Where("user_id = ?", userID).Count(&txnCount).Error)
	assert.Zero(t, txnCount)
}

func TestDebit_MovesBalanceToUsed(t *testing.T) {
	db := setupCreditDB(t)
	notifier := &captureNotifier{}
	svc := newCreditService(t, db, notifier)
	ctx := context.Background()

	userID := snowflake.ID(1003)
	require.NoError(t, svc.EnsureLedger(ctx, userID))

	_, err := svc.Credit(ctx, domain.CreditRequest{
		UserID:      userID,
		Amount:      decimal.NewFromInt(1000),
		ReferenceID: "purchase-1",
		Description: "credit purchase",
	})
	require.NoError(t, err)
	require.Len(t, notifier.emitted, 1)
	assert.Equal(t, notificationdomain.TypeSuccess, notifier.emitted[0].Type)

	ledger, err := svc.Debit(ctx, domain.DebitRequest{
		UserID:      userID,
		Amount:      decimal.NewFromInt(250),
		ReferenceID: "report-1",
		Description: "paint analysis",
	})
	require.NoError(t, err)

	assert.True(t, ledger.Balance.Equal(decimal.NewFromInt(750)), "balance %s", ledger.Balance)
	assert.True(t, ledger.TotalUsed.Equal(decimal.NewFromInt(250)), "total used %s", ledger.TotalUsed)
	assert.True(t, ledger.TotalPurchased.Equal(decimal.NewFromInt(1000)), "total purchased %s", ledger.TotalPurchased)

	var usage domain.CreditTransaction
	require.NoError(t, db.Where("user_id = ? AND type = ?", userID, domain.TransactionUsage).First(&usage).Error)
	assert.Equal(t, "report-1", usage.ReferenceID)
}

func TestDebit_ConcurrentDebitsKeepBalanceConsistent(t *testing.T) {
	db := setupCreditDB(t)
	svc := newCreditService(t, db, nil)
	ctx := context.Background()

	userID := snowflake.ID(1010)
	require.NoError(t, svc.EnsureLedger(ctx, userID))
	_, err := svc.Credit(ctx, domain.CreditRequest{UserID: userID, Amount: decimal.NewFromInt(100), ReferenceID: "purchase-1"})
	require.NoError(t, err)

	const workers = 10
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Debit(ctx, domain.DebitRequest{
				UserID:      userID,
				Amount:      decimal.NewFromInt(30),
				ReferenceID: fmt.Sprintf("report-%d", i),
			})
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientCredit):
			rejected++
		default:
			t.Fatalf("unexpected debit error: %v", err)
		}
	}
	assert.Equal(t, 3, succeeded, "only three 30-credit debits fit in 100")
	assert.Equal(t, workers-3, rejected)

	var ledger domain.CreditLedger
	require.NoError(t, db.Where("user_id = ?", userID).First(&ledger).Error)
	assert.True(t, ledger.Balance.Equal(decimal.NewFromInt(10)), "balance %s", ledger.Balance)
	assert.True(t, ledger.TotalUsed.Equal(decimal.NewFromInt(90)), "total used %s", ledger.TotalUsed)
	assert.True(t, ledger.Balance.Equal(ledger.TotalPurchased.Sub(ledger.TotalUsed)))
	assert.False(t, ledger.Balance.IsNegative())
}

func TestDebit_RejectsNonPositiveAmount(t *testing.T) {
	db := setupCreditDB(t)
	svc := newCreditService(t, db, nil)
	ctx := context.Background()

	userID := snowflake.ID(1004)
	require.NoError(t, svc.EnsureLedger(ctx, userID))

	_, err := svc.Debit(ctx, domain.DebitRequest{UserID: userID, Amount: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Debit(ctx, domain.DebitRequest{UserID: userID, Amount: decimal.NewFromInt(-10)})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestRefund_AppliedExactlyOnce(t *testing.T) {
	db := setupCreditDB(t)
	svc := newCreditService(t, db, nil)
	ctx := context.Background()

	userID := snowflake.ID(1005)
	require.NoError(t, svc.EnsureLedger(ctx, userID))
	_, err := svc.Credit(ctx, domain.CreditRequest{UserID: userID, Amount: decimal.NewFromInt(500), ReferenceID: "purchase-1"})
	require.NoError(t, err)
	_, err = svc.Debit(ctx, domain.DebitRequest{UserID: userID, Amount: decimal.NewFromInt(300), ReferenceID: "report-9"})
	require.NoError(t, err)

	first, err := svc.Refund(ctx, domain.RefundRequest{
		UserID:      userID,
		Amount:      decimal.NewFromInt(300),
		ReferenceID: "report-9",
		Description: "analysis failed",
	})
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.True(t, first.Ledger.Balance.Equal(decimal.NewFromInt(500)), "balance %s", first.Ledger.Balance)

	// Replaying the same refund must be a no-op
	second, err := svc.Refund(ctx, domain.RefundRequest{
		UserID:      userID,
		Amount:      decimal.NewFromInt(300),
		ReferenceID: "report-9",
		Description: "analysis failed",
	})
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.True(t, second.Ledger.Balance.Equal(decimal.NewFromInt(500)), "balance %s", second.Ledger.Balance)

	var refundCount int64
	require.NoError(t, db.Model(&domain.CreditTransaction{}).
		Where("user_id = ? AND type = ?", userID, domain.TransactionRefund).
		Count(&refundCount).Error)
	assert.Equal(t, int64(1), refundCount)
}

func TestRefund_DoesNotTouchTotalUsed(t *testing.T) {
	db := setupCreditDB(t)
	svc := newCreditService(t, db, nil)
	ctx := context.Background()

	userID := snowflake.ID(1006)
	require.NoError(t, svc.EnsureLedger(ctx, userID))
	_, err := svc.Credit(ctx, domain.CreditRequest{UserID: userID, Amount: decimal.NewFromInt(400), ReferenceID: "purchase-1"})
	require.NoError(t, err)
	_, err = svc.Debit(ctx, domain.DebitRequest{UserID: userID, Amount: decimal.NewFromInt(400), ReferenceID: "report-3"})
	require.NoError(t, err)

	result, err := svc.Refund(ctx, domain.RefundRequest{UserID: userID, Amount: decimal.NewFromInt(400), ReferenceID: "report-3"})
	require.NoError(t, err)
	require.True(t, result.Applied)

	assert.True(t, result.Ledger.Balance.Equal(decimal.NewFromInt(400)), "balance %s", result.Ledger.Balance)
	assert.True(t, result.Ledger.TotalUsed.Equal(decimal.NewFromInt(400)), "total used %s", result.Ledger.TotalUsed)
}

func TestSummary_ReturnsLedgerAndHistory(t *testing.T) {
	db := setupCreditDB(t)
	svc := newCreditService(t, db, nil)
	ctx := context.Background()

	userID := snowflake.ID(1007)
	require.NoError(t, svc.EnsureLedger(ctx, userID))
	_, err := svc.Credit(ctx, domain.CreditRequest{UserID: userID, Amount: decimal.NewFromInt(1000), ReferenceID: "purchase-1"})
	require.NoError(t, err)
	_, err = svc.Debit(ctx, domain.DebitRequest{UserID: userID, Amount: decimal.NewFromInt(250), ReferenceID: "report-1"})
	require.NoError(t, err)

	resp, err := svc.Summary(ctx, domain.SummaryRequest{UserID: userID})
	require.NoError(t, err)

	assert.True(t, resp.Ledger.Balance.Equal(decimal.NewFromInt(750)), "balance %s", resp.Ledger.Balance)
	assert.Len(t, resp.Transactions, 2)
	assert.False(t, resp.PageInfo.HasMore)
}

func TestSummary_UnknownUser(t *testing.T) {
	db := setupCreditDB(t)
	svc := newCreditService(t, db, nil)

	_, err := svc.Summary(context.Background(), domain.SummaryRequest{UserID: snowflake.ID(4242)})
	assert.ErrorIs(t, err, domain.ErrLedgerNotFound)
}
