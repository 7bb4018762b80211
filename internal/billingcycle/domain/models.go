// Package domain contains period renewal and overage settlement models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type SettlementOutcome string

const (
	OutcomeNoCharge     SettlementOutcome = "NO_CHARGE"
	OutcomeBelowMinimum SettlementOutcome = "BELOW_MINIMUM"
	OutcomeCharged      SettlementOutcome = "CHARGED"
	OutcomeCapped       SettlementOutcome = "CAPPED"
)

// OverageSettlement is the audit row written for each settlement run that
// created (or skipped) a one-time charge.
type OverageSettlement struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	InstallationID string            `gorm:"not null;index"`
	PurchaseID     string            `gorm:"type:text"`
	Outcome        SettlementOutcome `gorm:"type:text;not null"`
	UnitCount      int64             `gorm:"not null"`
	Amount         decimal.Decimal   `gorm:"type:numeric(12,2);not null"`
	CappedExcess   decimal.Decimal   `gorm:"type:numeric(12,2)"`
	Currency       string            `gorm:"type:text;not null"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	SettledAt      time.Time         `gorm:"not null"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OverageSettlement) TableName() string { return "overage_settlements" }
