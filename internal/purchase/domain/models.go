// Package domain contains credit pack purchase models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusDeclined Status = "DECLINED"
	StatusExpired  Status = "EXPIRED"
)

// Purchase tracks one credit pack charge from offer to fulfillment. Credits
// are granted exactly once, on the pending-to-active transition.
type Purchase struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	InstallationID string          `gorm:"not null;index"`
	PackHandle     string          `gorm:"not null"`
	ChargeID       string          `gorm:"uniqueIndex;not null"`
	Credits        int64           `gorm:"not null"`
	Amount         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency       string          `gorm:"type:text;not null"`
	Status         Status          `gorm:"type:text;not null"`
	CompletedAt    *time.Time
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Purchase) TableName() string { return "credit_pack_purchases" }
