package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Wallet struct {
	ID              uint64          `gorm:"primaryKey"`
	UserID          uint64          `gorm:"not null;uniqueIndex:idx_user_currency"`
	Currency        Currency        `gorm:"size:3;not null;uniqueIndex:idx_user_currency;index"`
	Balance         decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'"`
	Active          bool            `gorm:"not null;default:true"`
	KYCVerified     bool            `gorm:"not null;default:false"`
	DailyLimit      decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	MonthlyLimit    decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	LastTransaction *time.Time
	Version         uint64    `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallet" }
