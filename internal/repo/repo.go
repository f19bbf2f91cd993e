package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dualpay/fiat-wallet-service/internal/model"
)

const balanceCacheTTL = 5 * time.Minute

// RepositoryInterface restricts Repo methods so the service layer can be
// unit-tested against a mock.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	GetUser(ctx context.Context, tx *gorm.DB, userID uint64) (*model.User, error)
	CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error
	GetWallet(ctx context.Context, tx *gorm.DB, userID uint64, currency model.Currency) (*model.Wallet, error)
	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID uint64) (*model.Wallet, error)
	GetAllWallets(ctx context.Context, userID uint64) ([]model.Wallet, error)
	UpdateWalletBalance(ctx context.Context, tx *gorm.DB, walletID uint64, newBalance decimal.Decimal, oldVersion uint64) error
	SetWalletActive(ctx context.Context, userID uint64, currency model.Currency, active bool) error
	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	UpdateTransactionStatus(ctx context.Context, tx *gorm.DB, txID uint64, status string) error
	PeriodSum(ctx context.Context, tx *gorm.DB, walletID uint64, types []string, since time.Time) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, walletID uint64, limit int, since time.Time) ([]model.Transaction, error)
	GetKYC(ctx context.Context, userID uint64) (*model.KYCVerification, error)
	CreateKYC(ctx context.Context, k *model.KYCVerification) error
	UpdateKYCStatus(ctx context.Context, applicantID, status, reason string) (*model.KYCVerification, error)
	SetUserKYCStatus(ctx context.Context, userID uint64, status string) error
	SetWalletsKYCVerified(ctx context.Context, userID uint64, verified bool) error
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	CacheBalance(ctx context.Context, userID uint64, currency model.Currency, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, userID uint64, currency model.Currency) (decimal.Decimal, error)
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

func (r *Repository) GetUser(ctx context.Context, tx *gorm.DB, userID uint64) (*model.User, error) {
	var u model.User
	if err := tx.WithContext(ctx).Where("id = ?", userID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error {
	return tx.WithContext(ctx).Create(w).Error
}

// GetWallet looks up the (user, currency) wallet without locking.
func (r *Repository) GetWallet(ctx context.Context, tx *gorm.DB, userID uint64, currency model.Currency) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID, currency).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWalletForUpdate locks the wallet row where the dialect supports it;
// sqlite (tests) has no row locks, writes there are serialized by the
// single-writer database lock.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID uint64) (*model.Wallet, error) {
	q := tx.WithContext(ctx)
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var w model.Wallet
	if err := q.Where("id = ?", walletID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repository) GetAllWallets(ctx context.Context, userID uint64) ([]model.Wallet, error) {
	var ws []model.Wallet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("currency").Find(&ws).Error
	return ws, err
}

// UpdateWalletBalance applies a new balance with an optimistic lock on the
// version column and stamps the last-transaction time.
func (r *Repository) UpdateWalletBalance(ctx context.Context, tx *gorm.DB, walletID uint64, newBalance decimal.Decimal, oldVersion uint64) error {
	now := time.Now()
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, oldVersion).
		Updates(map[string]interface{}{
			"balance":          newBalance,
			"version":          oldVersion + 1,
			"last_transaction": &now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("optimistic lock conflict")
	}
	return nil
}

func (r *Repository) SetWalletActive(ctx context.Context, userID uint64, currency model.Currency, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND currency = ?", userID, currency).
		Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateTransaction inserts record.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return tx.WithContext(ctx).Create(t).Error
}

// UpdateTransactionStatus moves a transaction out of pending.
func (r *Repository) UpdateTransactionStatus(ctx context.Context, tx *gorm.DB, txID uint64, status string) error {
	return tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", txID).
		Update("status", status).Error
}

// PeriodSum totals completed transaction amounts of the given types on one
// wallet since the window start.
func (r *Repository) PeriodSum(ctx context.Context, tx *gorm.DB, walletID uint64, types []string, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("wallet_id = ? AND type IN ? AND status = ? AND created_at >= ?",
			walletID, types, model.TxCompleted, since).
		Row().Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

func (r *Repository) ListTransactions(ctx context.Context, walletID uint64, limit int, since time.Time) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ? AND created_at >= ?", walletID, since).
		Order("created_at asc").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func (r *Repository) GetKYC(ctx context.Context, userID uint64) (*model.KYCVerification, error) {
	var k model.KYCVerification
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&k).Error; err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *Repository) CreateKYC(ctx context.Context, k *model.KYCVerification) error {
	return r.db.WithContext(ctx).Create(k).Error
}

// UpdateKYCStatus applies a provider decision, matched by applicant id.
func (r *Repository) UpdateKYCStatus(ctx context.Context, applicantID, status, reason string) (*model.KYCVerification, error) {
	var k model.KYCVerification
	if err := r.db.WithContext(ctx).
		Where("provider_applicant_id = ?", applicantID).First(&k).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Model(&k).
		Updates(map[string]interface{}{"status": status, "reject_reason": reason}).Error; err != nil {
		return nil, err
	}
	k.Status = status
	k.RejectReason = reason
	return &k, nil
}

func (r *Repository) SetUserKYCStatus(ctx context.Context, userID uint64, status string) error {
	return r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", userID).
		Update("kyc_status", status).Error
}

// SetWalletsKYCVerified keeps the denormalized wallet flag in step with
// the user's verification outcome.
func (r *Repository) SetWalletsKYCVerified(ctx context.Context, userID uint64, verified bool) error {
	return r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ?", userID).
		Update("kyc_verified", verified).Error
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

func balanceKey(userID uint64, currency model.Currency) string {
	return fmt.Sprintf("balance:%d:%s", userID, currency)
}

// CacheBalance writes Redis.
func (r *Repository) CacheBalance(ctx context.Context, userID uint64, currency model.Currency, bal decimal.Decimal) error {
	return r.rdb.Set(ctx, balanceKey(userID, currency), bal.String(), balanceCacheTTL).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, userID uint64, currency model.Currency) (decimal.Decimal, error) {
	str, err := r.rdb.Get(ctx, balanceKey(userID, currency)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}
