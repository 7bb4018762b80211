// Package seed bootstraps catalog rows so a fresh deployment works out of
// the box.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	coupondomain "github.com/fitglance/fitglance/internal/coupon/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureDefaultCoupons inserts the launch coupons if they are absent.
// Existing rows are left untouched so operators can deactivate a code without
// it reappearing on restart.
func EnsureDefaultCoupons(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	defaults := []coupondomain.Coupon{
		{ID: node.Generate(), Code: "WELCOME50", Credits: 50, Active: true, MaxPerShop: 1},
		{ID: node.Generate(), Code: "LAUNCH100", Credits: 100, Active: true, MaxPerShop: 1},
	}

	ctx := context.Background()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).
		Create(&defaults).Error
}
