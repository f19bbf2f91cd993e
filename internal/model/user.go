package model

import "time"

// KYC status values, ordered roughly by verification progress.
const (
	KYCNone      = "none"
	KYCPending   = "pending"
	KYCSubmitted = "submitted"
	KYCVerified  = "verified"
	KYCRejected  = "rejected"
)

type User struct {
	ID        uint64    `gorm:"primaryKey"`
	Email     string    `gorm:"size:255;uniqueIndex;not null"`
	KYCStatus string    `gorm:"size:16;not null;default:'none';index"`
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (User) TableName() string { return "app_user" }

// KYCVerification tracks one user's verification with the external provider.
type KYCVerification struct {
	ID                  uint64    `gorm:"primaryKey"`
	UserID              uint64    `gorm:"not null;uniqueIndex"`
	Status              string    `gorm:"size:16;not null;default:'pending'"`
	ProviderApplicantID string    `gorm:"size:64"`
	RejectReason        string    `gorm:"size:255"`
	CreatedAt           time.Time `gorm:"autoCreateTime"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
}

func (KYCVerification) TableName() string { return "kyc_verification" }
