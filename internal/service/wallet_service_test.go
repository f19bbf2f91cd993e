package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dualpay/fiat-wallet-service/internal/logger"
	"github.com/dualpay/fiat-wallet-service/internal/model"
	"github.com/dualpay/fiat-wallet-service/internal/rates"
	"github.com/dualpay/fiat-wallet-service/internal/repo"
)

type fakeRates struct {
	snap *rates.Snapshot
	err  error
}

func (f *fakeRates) Fetch(ctx context.Context, base model.Currency) (*rates.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func newTestService(t *testing.T) (*FiatWalletService, repo.RepositoryInterface, context.Context) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.User{}, &model.Wallet{}, &model.Transaction{},
		&model.KYCVerification{}, &model.OutboxEvent{},
	))

	// no expectations set: every cache call errors and the service
	// falls back to the database, which is the path under test
	rdb, _ := redismock.NewClientMock()

	log, err := logger.New("error")
	require.NoError(t, err)
	repository := repo.NewRepository(db, rdb, &kafka.Writer{}, log)
	svc := NewFiatWalletService(repository, &fakeRates{}, DefaultLimits(), log)
	return svc, repository, context.Background()
}

func seedUser(t *testing.T, r repo.RepositoryInterface, ctx context.Context, id uint64, kycStatus string) {
	t.Helper()
	require.NoError(t, r.DB(ctx).Create(&model.User{
		ID:        id,
		Email:     fmt.Sprintf("user%d@example.com", id),
		KYCStatus: kycStatus,
		Active:    true,
	}).Error)
}

func TestCreateWallet(t *testing.T) {
	svc, r, ctx := newTestService(t)
	seedUser(t, r, ctx, 1, model.KYCVerified)

	w, err := svc.CreateWallet(ctx, 1, model.USD)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
	assert.True(t, w.Active)
	assert.True(t, w.KYCVerified)
	assert.Equal(t, "10000", w.DailyLimit.String())
	assert.Equal(t, "50000", w.MonthlyLimit.String())

	// second wallet for the same pair is rejected
	_, err = svc.CreateWallet(ctx, 1, model.USD)
	assert.ErrorIs(t, err, ErrDuplicateWallet)

	// a different currency is fine
	_, err = svc.CreateWallet(ctx, 1, model.EUR)
	assert.NoError(t, err)

	_, err = svc.CreateWallet(ctx, 1, model.Currency("GBP"))
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)

	_, err = svc.CreateWallet(ctx, 99, model.USD)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetWallet(t *testing.T) {
	svc, r, ctx := newTestService(t)
	seedUser(t, r, ctx, 1, model.KYCVerified)

	_, err := svc.GetWallet(ctx, 1, model.USD)
	assert.ErrorIs(t, err, ErrWalletNotFound)

	_, err = svc.CreateWallet(ctx, 1, model.USD)
	require.NoError(t, err)

	// repeated reads without mutation return the identical balance
	w1, err := svc.GetWallet(ctx, 1, model.USD)
	require.NoError(t, err)
	w2, err := svc.GetWallet(ctx, 1, model.USD)
	require.NoError(t, err)
	assert.True(t, w1.Balance.Equal(w2.Balance))

	ws, err := svc.GetAllWallets(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, ws, 1)
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	svc, r, ctx := newTestService(t)
	seedUser(t, r, ctx, 1, model.KYCVerified)
	_, err := svc.CreateWallet(ctx, 1, model.USD)
	require.NoError(t, err)

	dep, err := svc.Deposit(ctx, 1, model.USD, decimal.RequireFromString("100.00"))
	require.NoError(t, err)
	assert.Equal(t, "100", dep.NewBalance.String())
	assert.NotEmpty(t, dep.TransactionRef)

	wd, err := svc.Withdraw(ctx, 1, model.USD, decimal.RequireFromString("100.00"), "IBAN-123")
	require.NoError(t, err)
	assert.True(t, wd.NewBalance.IsZero(), "round trip must return to the pre-deposit balance")

	// both rows completed
	var txs []model.Transaction
	require.NoError(t, r.DB(ctx).Order("id").Find(&txs).Error)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, model.TxCompleted, tx.Status)
	}
	assert.Equal(t, model.TxDeposit, txs[0].Type)
	assert.Equal(t, model.TxWithdrawal, txs[1].Type)
	assert.Equal(t, "IBAN-123", txs[1].Destination)
}

func TestDepositValidation(t *testing.T) {
	svc, r, ctx := newTestService(t)
	seedUser(t, r, ctx, 1, model.KYCVerified)
	_, err := svc.CreateWallet(ctx, 1, model.USD)
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, 1, model.USD, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Deposit(ctx, 1, model.USD, decimal.RequireFromString("-5"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Deposit(ctx, 1, model.USD, decimal.RequireFromString("1.005"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Deposit(ctx, 1, model.EUR, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrWalletNotFound)

	// failed validation must not leave transaction rows behind
	var count int64
	require.NoError(t, r.DB(ctx).Model(&model.Transaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestKYCGate(t *testing.T) {
	svc, r, ctx := newTestService(t)
	seedUser(t, r, ctx, 1, model.KYCPending)
	seedUser(t, r, ctx, 2, model.KYCVerified)

	_, err := svc.CreateWallet(ctx, 1, model.USD)
	require.NoError(t, err)
	_, err = svc.CreateWallet(ctx, 2, model.USD)
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, 1, model.USD, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrKYCRequired)

	_, err = svc.Withdraw(ctx, 1, model.USD, decimal.NewFromInt(10), "acct")
	assert.ErrorIs(t, err, ErrKYCRequired)

	_, err = svc.Transfer(ctx, 1, 2, model.USD, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrKYCRequired)

	// unverified counterparty blocks the transfer too
	_, err = svc.Transfer(ctx, 2, 1, model.USD, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrKYCRequired)
}

func TestWalletInactive(t *testing.T) {
	svc, r, ctx := newTestService(t)
	seedUser(t, r, ctx, 1, model.KYCVerified)
	_, err := svc.CreateWallet(ctx, 1, model.USD)
	require.NoError(t, err)

	require.NoError(t, svc.SetWalletActive(ctx, 1, model.USD, false))

	_, err = svc.Deposit(ctx, 1, model.USD, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrWalletInactive)

	require.NoError(t, svc.SetWalletActive(ctx, 1, model.USD, true))
	_, err = svc.Deposit(ctx, 1, model.USD, decimal.NewFromInt(10))
	assert.NoError(t, err)

	assert.ErrorIs(t, svc.SetWalletActive(ctx, 1, model.EUR, false), ErrWalletNotFound)
}

func TestDailyLimit(t *testing.T) {
	svc, r, ctx := newTestService(t)
	seedUser(t, r, ctx, 1, model.KYCVerified)
	_, err := svc.CreateWallet(ctx, 1, model.USD)
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, 1, model.USD, decimal.NewFromInt(9950))
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, 1, model.USD, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrLimitExceeded)

	res, err := svc.Deposit(ctx, 1, model.USD, decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.Equal(t, "10000", res.NewBalance.String())

	// deposit headroom is exhausted, withdrawals keep their own accumulator
	wd, err := svc.Withdraw(ctx, 1, model.USD, decimal.NewFromInt(9900), "acct")
	require.NoError(t, err)
	assert.Equal(t, "100", wd.NewBalance.String())

	_, err = svc.Withdraw(ctx, 1, model.USD, decimal.NewFromInt(100), "acct")
	require.NoError(t, err)

	// withdrawal accumulator now at its cap as well
	_, err = svc.Deposit(ctx, 1, model.USD, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrLimitExceeded)
	_, err = svc.Withdraw(ctx, 1, model.USD, decimal.NewFromInt(1), "acct")
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestMonthlyLimit(t *testing.T) {
	svc, r, ctx := newTestService(t)
	seedUser(t, r, ctx, 1, model.KYCVerified)
	w, err := svc.CreateWallet(ctx, 1, model.USD)
	require.NoError(t, err)

	// pin the clock mid-month so the backdated row sits inside the
	// monthly window but outside the daily one
	pinned := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.Local)
	svc.now = func() time.Time { return pinned }

	require.NoError(t, r.DB(ctx).Create(&model.Transaction{
		Reference: "hist-1",
		UserID:    1, WalletID: w.ID,
		Type: model.TxDeposit, Status: model.TxCompleted,
		Amount: decimal.NewFromInt(48000), Currency: model.USD,
		BalanceBefore: decimal.Zero, BalanceAfter: decimal.NewFromInt(48000),
		CreatedAt: time.Date(2025, time.June, 2, 9, 0, 0, 0, time.Local),
	}).Error)

	// 48000 + 3000 crosses the 50000 monthly cap, daily headroom alone
	// is not enough
	_, err = svc.Deposit(ctx, 1, model.USD, decimal.NewFromInt(3000))
	assert.ErrorIs(t, err, ErrLimitExceeded)

	res, err := svc.Deposit(ctx, 1, model.USD, decimal.NewFromInt(2000))
	require.NoError(t, err)
	assert.Equal(t, "2000", res.NewBalance.String())
}

func TestTransferLimitExceeded(t *testing.T) {
	svc, r, ctx := newTestService(t)
	seedUser(t, r, ctx, 1, model.KYCVerified)
	seedUser(t, r, ctx, 2, model.KYCVerified)
	_, err := svc.CreateWallet(ctx, 1, model.USD)
	require.NoError(t, err)
	_, err = svc.CreateWallet(ctx, 2, model.USD)
	require.NoError(t, err)

	// seed a balance well above the daily limit so the limit check, not
	// the balance check, is what trips
	require.NoError(t, r.DB(ctx).Model(&model.Wallet{}).
		Where("user_id = ? AND currency = ?", 1, model.USD).
		Update("balance", decimal.NewFromInt(20000)).Error)

	res, err := svc.Transfer(ctx, 1, 2, model.USD, decimal.NewFromInt(6000))
	require.NoError(t, err)
	assert.Equal(t, "14000", res.NewSourceBalance.String())

	_, err = svc.Transfer(ctx, 1, 2, model.USD, decimal.NewFromInt(5000))
	assert.ErrorIs(t, err, ErrLimitExceeded)

	// the failed transfer moved nothing
	bal, err := svc.GetBalance(ctx, 1, model.USD)
	require.NoError(t, err)
	assert.Equal(t, "14000", bal.String())
	bal, err = svc.GetBalance(ctx, 2, model.USD)
	require.NoError(t, err)
	assert.Equal(t, "6000", bal.String())
}

func TestInsufficientFunds(t *testing.T) {
	svc, r, ctx := newTestService(t)
	seedUser(t, r, ctx, 1, model.KYCVerified)
	_, err := svc.CreateWallet(ctx, 1, model.USD)
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, 1, model.USD, decimal.NewFromInt(50))
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, 1, model.USD, decimal.NewFromInt(51), "acct")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = svc.Withdraw(ctx, 1, model.USD, decimal.NewFromInt(50), "")
	assert.ErrorIs(t, err, ErrInvalidDestination)

	// balance untouched by the failures
	bal, err := svc.GetBalance(ctx, 1, model.USD)
	require.NoError(t, err)
	assert.Equal(t, "50", bal.String())
}

func TestTransferConservation(t *testing.T) {
	svc, r, ctx := newTestService(t)
	seedUser(t, r, ctx, 1, model.KYCVerified)
	seedUser(t, r, ctx, 2, model.KYCVerified)
	_, err := svc.CreateWallet(ctx, 1, model.USD)
	require.NoError(t, err)
	_, err = svc.CreateWallet(ctx, 2, model.USD)
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, 1, model.USD, decimal.NewFromInt(100))
	require.NoError(t, err)

	res, err := svc.Transfer(ctx, 1, 2, model.USD, decimal.RequireFromString("30.50"))
	require.NoError(t, err)
	assert.Equal(t, "69.5", res.NewSourceBalance.String())
	assert.Equal(t, "30.5", res.NewTargetBalance.String())
	assert.Equal(t, "100", res.NewSourceBalance.Add(res.NewTargetBalance).String())

	// two cross-referencing rows, both completed
	var txs []model.Transaction
	require.NoError(t, r.DB(ctx).Where("type IN ?",
		[]string{model.TxTransferOut, model.TxTransferIn}).Order("id").Find(&txs).Error)
	require.Len(t, txs, 2)
	assert.Equal(t, model.TxTransferOut, txs[0].Type)
	assert.Equal(t, uint64(2), *txs[0].RelatedUserID)
	assert.Equal(t, model.TxTransferIn, txs[1].Type)
	assert.Equal(t, uint64(1), *txs[1].RelatedUserID)
	assert.Equal(t, model.TxCompleted, txs[0].Status)
	assert.Equal(t, model.TxCompleted, txs[1].Status)
}

func TestTransferFailures(t *testing.T) {
	svc, r, ctx := newTestService(t)
	seedUser(t, r, ctx, 1, model.KYCVerified)
	seedUser(t, r, ctx, 2, model.KYCVerified)
	_, err := svc.CreateWallet(ctx, 1, model.USD)
	require.NoError(t, err)
	_, err = svc.CreateWallet(ctx, 2, model.USD)
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, 1, model.USD, decimal.NewFromInt(20))
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, 1, 1, model.USD, decimal.NewFromInt(5))
	assert.ErrorIs(t, err, ErrSelfTransfer)

	_, err = svc.Transfer(ctx, 1, 2, model.USD, decimal.NewFromInt(25))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = svc.Transfer(ctx, 1, 2, model.EUR, decimal.NewFromInt(5))
	assert.ErrorIs(t, err, ErrWalletNotFound)

	require.NoError(t, svc.SetWalletActive(ctx, 2, model.USD, false))
	_, err = svc.Transfer(ctx, 1, 2, model.USD, decimal.NewFromInt(5))
	assert.ErrorIs(t, err, ErrWalletInactive)

	// failed transfers leave no pending rows and no balance movement
	var count int64
	require.NoError(t, r.DB(ctx).Model(&model.Transaction{}).
		Where("type IN ?", []string{model.TxTransferOut, model.TxTransferIn}).
		Count(&count).Error)
	assert.Zero(t, count)
	bal, err := svc.GetBalance(ctx, 1, model.USD)
	require.NoError(t, err)
	assert.Equal(t, "20", bal.String())
}

func TestHistory(t *testing.T) {
	svc, r, ctx := newTestService(t)
	seedUser(t, r, ctx, 1, model.KYCVerified)
	_, err := svc.CreateWallet(ctx, 1, model.USD)
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, 1, model.USD, decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, 1, model.USD, decimal.NewFromInt(25), "acct")
	require.NoError(t, err)

	hist, err := svc.GetHistory(ctx, 1, model.USD, 10, svc.windowStart(false))
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestOutboxEvents(t *testing.T) {
	svc, r, ctx := newTestService(t)
	seedUser(t, r, ctx, 1, model.KYCVerified)
	_, err := svc.CreateWallet(ctx, 1, model.USD)
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, 1, model.USD, decimal.NewFromInt(10))
	require.NoError(t, err)

	evts, err := r.PollOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "Deposit", evts[0].EventType)
	assert.False(t, evts[0].Processed)

	require.NoError(t, r.MarkOutboxProcessed(ctx, evts[0].ID))
	evts, err = r.PollOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, evts)
}
