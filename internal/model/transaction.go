package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TxDeposit     = "deposit"
	TxWithdrawal  = "withdrawal"
	TxTransferIn  = "transfer_in"
	TxTransferOut = "transfer_out"
)

// Transaction statuses.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
)

type Transaction struct {
	ID            uint64          `gorm:"primaryKey"`
	Reference     string          `gorm:"size:36;uniqueIndex;not null"`
	UserID        uint64          `gorm:"not null;index"`
	WalletID      uint64          `gorm:"not null;index"`
	Type          string          `gorm:"size:16;not null"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Currency      Currency        `gorm:"size:3;not null"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	RelatedUserID *uint64
	Destination   string `gorm:"size:64"`
	Status        string `gorm:"size:16;not null;default:'pending'"`
	CreatedAt     time.Time
}

func (Transaction) TableName() string { return "transaction" }
