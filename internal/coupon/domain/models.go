// Package domain contains the coupon catalog and redemption models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Coupon is a catalog entry granting a fixed number of credits on redemption.
type Coupon struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	Code      string            `gorm:"uniqueIndex;not null"`
	Credits   int64             `gorm:"not null"`
	Active    bool              `gorm:"not null;default:true"`
	ExpiresAt *time.Time        `gorm:"index"`
	// MaxPerShop bounds redemptions per installation; 0 means single use.
	MaxPerShop int `gorm:"not null;default:1"`
	// MaxGlobal is recorded for reporting but not enforced at redemption
	// time; enforcement would need a counter with stronger consistency than
	// the ledger store offers.
	MaxGlobal int               `gorm:"not null;default:0"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Coupon) TableName() string { return "coupons" }

// Redemption is the audit row written after a successful ledger redemption.
// The ledger's own redemption list stays authoritative for per-shop limits.
type Redemption struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	CouponID       snowflake.ID `gorm:"not null;index"`
	Code           string       `gorm:"not null;index"`
	InstallationID string       `gorm:"not null;index"`
	Credits        int64        `gorm:"not null"`
	RedeemedAt     time.Time    `gorm:"not null"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Redemption) TableName() string { return "coupon_redemptions" }
