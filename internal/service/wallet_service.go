package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dualpay/fiat-wallet-service/internal/model"
	"github.com/dualpay/fiat-wallet-service/internal/rates"
	"github.com/dualpay/fiat-wallet-service/internal/repo"
)

// RateFetcher abstracts the exchange-rate provider client.
type RateFetcher interface {
	Fetch(ctx context.Context, base model.Currency) (*rates.Snapshot, error)
}

// Limits are the default period limits applied to new wallets.
type Limits struct {
	Daily   decimal.Decimal
	Monthly decimal.Decimal
}

// DefaultLimits per the product defaults (10000 / 50000 in wallet units).
func DefaultLimits() Limits {
	return Limits{
		Daily:   decimal.NewFromInt(10000),
		Monthly: decimal.NewFromInt(50000),
	}
}

// FiatWalletService glues the wallet bookkeeping rules and the repository.
type FiatWalletService struct {
	repo   repo.RepositoryInterface
	rates  RateFetcher
	limits Limits
	log    *zap.SugaredLogger
	// now is swapped in tests to pin limit windows
	now func() time.Time
}

// NewFiatWalletService returns a wired service.
func NewFiatWalletService(r repo.RepositoryInterface, rf RateFetcher, limits Limits, logger *zap.SugaredLogger) *FiatWalletService {
	return &FiatWalletService{repo: r, rates: rf, limits: limits, log: logger, now: time.Now}
}

// OperationResult is the success payload of a single-wallet mutation.
type OperationResult struct {
	TransactionRef string
	NewBalance     decimal.Decimal
}

// TransferResult is the success payload of a two-wallet transfer.
type TransferResult struct {
	SourceRef        string
	TargetRef        string
	NewSourceBalance decimal.Decimal
	NewTargetBalance decimal.Decimal
}

// validAmount accepts positive amounts quantized to the 2-decimal
// currency convention.
func validAmount(amt decimal.Decimal) bool {
	return amt.IsPositive() && amt.Equal(amt.Round(2))
}

// CreateWallet opens the user's wallet for one currency. One wallet per
// (user, currency) pair.
func (s *FiatWalletService) CreateWallet(ctx context.Context, userID uint64, currency model.Currency) (*model.Wallet, error) {
	if !currency.IsSupported() {
		return nil, ErrUnsupportedCurrency
	}
	db := s.repo.DB(ctx)
	user, err := s.repo.GetUser(ctx, db, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	w := &model.Wallet{
		UserID:       userID,
		Currency:     currency,
		Balance:      decimal.Zero,
		Active:       true,
		KYCVerified:  user.KYCStatus == model.KYCVerified,
		DailyLimit:   s.limits.Daily,
		MonthlyLimit: s.limits.Monthly,
	}
	// the composite (user, currency) index is the duplicate check, so a
	// concurrent create cannot slip past a read-then-create window
	if err := s.repo.CreateWallet(ctx, db, w); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateWallet
		}
		return nil, err
	}
	s.log.Infow("wallet created", "user", userID, "currency", currency)
	return w, nil
}

// GetWallet is a pure read of one wallet.
func (s *FiatWalletService) GetWallet(ctx context.Context, userID uint64, currency model.Currency) (*model.Wallet, error) {
	w, err := s.repo.GetWallet(ctx, s.repo.DB(ctx), userID, currency)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return w, nil
}

// GetAllWallets lists every wallet the user holds.
func (s *FiatWalletService) GetAllWallets(ctx context.Context, userID uint64) ([]model.Wallet, error) {
	return s.repo.GetAllWallets(ctx, userID)
}

// GetBalance serves the balance read path through the cache.
func (s *FiatWalletService) GetBalance(ctx context.Context, userID uint64, currency model.Currency) (decimal.Decimal, error) {
	if bal, err := s.repo.GetCachedBalance(ctx, userID, currency); err == nil {
		return bal, nil
	}
	w, err := s.GetWallet(ctx, userID, currency)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.repo.CacheBalance(ctx, userID, currency, w.Balance); err != nil {
		s.log.Warnw("cache balance", "err", err)
	}
	return w.Balance, nil
}

// GetHistory fetches recent transactions on one wallet.
func (s *FiatWalletService) GetHistory(ctx context.Context, userID uint64, currency model.Currency, limit int, since time.Time) ([]model.Transaction, error) {
	w, err := s.GetWallet(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, w.ID, limit, since)
}

// SetWalletActive toggles the active flag; wallets are never hard-deleted.
func (s *FiatWalletService) SetWalletActive(ctx context.Context, userID uint64, currency model.Currency, active bool) error {
	if err := s.repo.SetWalletActive(ctx, userID, currency, active); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrWalletNotFound
		}
		return err
	}
	return nil
}

// requireVerifiedUser resolves the user and enforces the KYC gate.
func (s *FiatWalletService) requireVerifiedUser(ctx context.Context, tx *gorm.DB, userID uint64) (*model.User, error) {
	user, err := s.repo.GetUser(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.KYCStatus != model.KYCVerified {
		return nil, ErrKYCRequired
	}
	return user, nil
}

// windowStart returns midnight of the current day or the first of the
// current month, in the service's local clock.
func (s *FiatWalletService) windowStart(monthly bool) time.Time {
	now := s.now()
	if monthly {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// checkLimits enforces both period windows against the accumulator for
// the given transaction types. Deposits and withdrawals keep separate
// accumulators; a withdrawal never consumes deposit headroom.
func (s *FiatWalletService) checkLimits(ctx context.Context, tx *gorm.DB, w *model.Wallet, types []string, amount decimal.Decimal) error {
	daySum, err := s.repo.PeriodSum(ctx, tx, w.ID, types, s.windowStart(false))
	if err != nil {
		return err
	}
	if daySum.Add(amount).GreaterThan(w.DailyLimit) {
		return ErrLimitExceeded
	}
	monthSum, err := s.repo.PeriodSum(ctx, tx, w.ID, types, s.windowStart(true))
	if err != nil {
		return err
	}
	if monthSum.Add(amount).GreaterThan(w.MonthlyLimit) {
		return ErrLimitExceeded
	}
	return nil
}

// lockWallet resolves the (user, currency) wallet and re-reads it under a
// row lock inside tx.
func (s *FiatWalletService) lockWallet(ctx context.Context, tx *gorm.DB, userID uint64, currency model.Currency) (*model.Wallet, error) {
	w, err := s.repo.GetWallet(ctx, tx, userID, currency)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return s.repo.GetWalletForUpdate(ctx, tx, w.ID)
}

func (s *FiatWalletService) emitWalletEvent(ctx context.Context, tx *gorm.DB, eventType string, walletID uint64, payload map[string]interface{}) error {
	raw, _ := json.Marshal(payload)
	return s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
		Aggregate:   "Wallet",
		AggregateID: walletID,
		EventType:   eventType,
		Payload:     string(raw),
	})
}

// Deposit credits the wallet after the KYC and limit gates pass. The
// transaction row is written pending before the balance moves and
// completed only after the balance update succeeds.
func (s *FiatWalletService) Deposit(ctx context.Context, userID uint64, currency model.Currency, amount decimal.Decimal) (*OperationResult, error) {
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}
	var res OperationResult
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.requireVerifiedUser(ctx, tx, userID); err != nil {
			return err
		}
		w, err := s.lockWallet(ctx, tx, userID, currency)
		if err != nil {
			return err
		}
		if !w.Active {
			return ErrWalletInactive
		}
		if err := s.checkLimits(ctx, tx, w, []string{model.TxDeposit}, amount); err != nil {
			return err
		}
		t := &model.Transaction{
			Reference: uuid.NewString(),
			UserID:    userID,
			WalletID:  w.ID,
			Type:      model.TxDeposit,
			Amount:    amount,
			Currency:  currency,
			Status:    model.TxPending,
		}
		newBal := w.Balance.Add(amount)
		t.BalanceBefore, t.BalanceAfter = w.Balance, newBal
		if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
			return err
		}
		if err := s.repo.UpdateWalletBalance(ctx, tx, w.ID, newBal, w.Version); err != nil {
			return err
		}
		if err := s.repo.UpdateTransactionStatus(ctx, tx, t.ID, model.TxCompleted); err != nil {
			return err
		}
		if err := s.emitWalletEvent(ctx, tx, "Deposit", w.ID, map[string]interface{}{
			"user_id": userID, "currency": currency, "amount": amount, "balance": newBal,
		}); err != nil {
			return err
		}
		if err := s.repo.CacheBalance(ctx, userID, currency, newBal); err != nil {
			s.log.Warnw("cache balance", "err", err)
		}
		res = OperationResult{TransactionRef: t.Reference, NewBalance: newBal}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Withdraw debits the wallet toward an external destination account.
func (s *FiatWalletService) Withdraw(ctx context.Context, userID uint64, currency model.Currency, amount decimal.Decimal, destinationAccount string) (*OperationResult, error) {
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}
	if destinationAccount == "" {
		return nil, ErrInvalidDestination
	}
	var res OperationResult
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.requireVerifiedUser(ctx, tx, userID); err != nil {
			return err
		}
		w, err := s.lockWallet(ctx, tx, userID, currency)
		if err != nil {
			return err
		}
		if !w.Active {
			return ErrWalletInactive
		}
		if err := s.checkLimits(ctx, tx, w, []string{model.TxWithdrawal, model.TxTransferOut}, amount); err != nil {
			return err
		}
		if w.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		t := &model.Transaction{
			Reference:   uuid.NewString(),
			UserID:      userID,
			WalletID:    w.ID,
			Type:        model.TxWithdrawal,
			Amount:      amount,
			Currency:    currency,
			Destination: destinationAccount,
			Status:      model.TxPending,
		}
		newBal := w.Balance.Sub(amount)
		t.BalanceBefore, t.BalanceAfter = w.Balance, newBal
		if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
			return err
		}
		if err := s.repo.UpdateWalletBalance(ctx, tx, w.ID, newBal, w.Version); err != nil {
			return err
		}
		if err := s.repo.UpdateTransactionStatus(ctx, tx, t.ID, model.TxCompleted); err != nil {
			return err
		}
		if err := s.emitWalletEvent(ctx, tx, "Withdraw", w.ID, map[string]interface{}{
			"user_id": userID, "currency": currency, "amount": amount, "balance": newBal,
		}); err != nil {
			return err
		}
		if err := s.repo.CacheBalance(ctx, userID, currency, newBal); err != nil {
			s.log.Warnw("cache balance", "err", err)
		}
		res = OperationResult{TransactionRef: t.Reference, NewBalance: newBal}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Transfer moves money between two users' wallets in one currency. Both
// transaction rows and both balance updates commit atomically; a failure
// anywhere rolls the whole transfer back.
func (s *FiatWalletService) Transfer(ctx context.Context, fromUserID, toUserID uint64, currency model.Currency, amount decimal.Decimal) (*TransferResult, error) {
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}
	if fromUserID == toUserID {
		return nil, ErrSelfTransfer
	}
	var res TransferResult
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.requireVerifiedUser(ctx, tx, fromUserID); err != nil {
			return err
		}
		if _, err := s.requireVerifiedUser(ctx, tx, toUserID); err != nil {
			return err
		}
		src, err := s.repo.GetWallet(ctx, tx, fromUserID, currency)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		dst, err := s.repo.GetWallet(ctx, tx, toUserID, currency)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		// lock wallets in deterministic order to avoid deadlocks
		first, second := src, dst
		if second.ID < first.ID {
			first, second = second, first
		}
		if first, err = s.repo.GetWalletForUpdate(ctx, tx, first.ID); err != nil {
			return err
		}
		if second, err = s.repo.GetWalletForUpdate(ctx, tx, second.ID); err != nil {
			return err
		}
		if first.ID == src.ID {
			src, dst = first, second
		} else {
			src, dst = second, first
		}
		if !src.Active || !dst.Active {
			return ErrWalletInactive
		}
		if err := s.checkLimits(ctx, tx, src, []string{model.TxWithdrawal, model.TxTransferOut}, amount); err != nil {
			return err
		}
		if src.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		newSrc := src.Balance.Sub(amount)
		newDst := dst.Balance.Add(amount)
		out := &model.Transaction{
			Reference:     uuid.NewString(),
			UserID:        fromUserID,
			WalletID:      src.ID,
			Type:          model.TxTransferOut,
			Amount:        amount,
			Currency:      currency,
			RelatedUserID: &toUserID,
			BalanceBefore: src.Balance,
			BalanceAfter:  newSrc,
			Status:        model.TxPending,
		}
		in := &model.Transaction{
			Reference:     uuid.NewString(),
			UserID:        toUserID,
			WalletID:      dst.ID,
			Type:          model.TxTransferIn,
			Amount:        amount,
			Currency:      currency,
			RelatedUserID: &fromUserID,
			BalanceBefore: dst.Balance,
			BalanceAfter:  newDst,
			Status:        model.TxPending,
		}
		// both rows exist before either balance moves
		if err := s.repo.CreateTransaction(ctx, tx, out); err != nil {
			return err
		}
		if err := s.repo.CreateTransaction(ctx, tx, in); err != nil {
			return err
		}
		if err := s.repo.UpdateWalletBalance(ctx, tx, src.ID, newSrc, src.Version); err != nil {
			return err
		}
		if err := s.repo.UpdateWalletBalance(ctx, tx, dst.ID, newDst, dst.Version); err != nil {
			return err
		}
		if err := s.repo.UpdateTransactionStatus(ctx, tx, out.ID, model.TxCompleted); err != nil {
			return err
		}
		if err := s.repo.UpdateTransactionStatus(ctx, tx, in.ID, model.TxCompleted); err != nil {
			return err
		}
		if err := s.emitWalletEvent(ctx, tx, "Transfer", src.ID, map[string]interface{}{
			"from": fromUserID, "to": toUserID, "currency": currency, "amount": amount,
		}); err != nil {
			return err
		}
		if err := s.repo.CacheBalance(ctx, fromUserID, currency, newSrc); err != nil {
			s.log.Warnw("cache balance", "err", err)
		}
		if err := s.repo.CacheBalance(ctx, toUserID, currency, newDst); err != nil {
			s.log.Warnw("cache balance", "err", err)
		}
		res = TransferResult{
			SourceRef:        out.Reference,
			TargetRef:        in.Reference,
			NewSourceBalance: newSrc,
			NewTargetBalance: newDst,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetExchangeRates fetches the latest provider table keyed by base,
// filtered to the supported set.
func (s *FiatWalletService) GetExchangeRates(ctx context.Context, base model.Currency) (*rates.Snapshot, error) {
	if !base.IsSupported() {
		return nil, ErrUnsupportedCurrency
	}
	snap, err := s.rates.Fetch(ctx, base)
	if err != nil {
		s.log.Warnw("rate fetch failed", "base", base, "err", err)
		return nil, ErrProviderUnreachable
	}
	return snap, nil
}

// ConvertCurrency converts amount from one supported currency to another
// using a fresh rate table requested with the source currency as base.
// The result follows the 2-decimal currency convention.
func (s *FiatWalletService) ConvertCurrency(ctx context.Context, amount decimal.Decimal, from, to model.Currency) (decimal.Decimal, error) {
	if !validAmount(amount) {
		return decimal.Zero, ErrInvalidAmount
	}
	if !from.IsSupported() || !to.IsSupported() {
		return decimal.Zero, ErrUnsupportedCurrency
	}
	if from == to {
		return amount.Round(2), nil
	}
	snap, err := s.GetExchangeRates(ctx, from)
	if err != nil {
		return decimal.Zero, err
	}
	rate, ok := snap.Rate(to)
	if !ok {
		return decimal.Zero, ErrRateUnavailable
	}
	return amount.Mul(rate).Round(2), nil
}
