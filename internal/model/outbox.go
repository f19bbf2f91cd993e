package model

import "time"

// OutboxEvent is a wallet event (deposit, withdraw, transfer) staged in
// the same database transaction as the balance change it describes. The
// poller binary ships staged events to Kafka and flips Processed, so a
// crash between commit and publish loses nothing.
type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	Aggregate   string    `gorm:"size:64;not null"`
	AggregateID uint64    `gorm:"not null"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Processed   bool      `gorm:"not null;default:false"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
