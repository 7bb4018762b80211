package migration

import (
	billingcycledomain "github.com/fitglance/fitglance/internal/billingcycle/domain"
	"github.com/fitglance/fitglance/internal/config"
	coupondomain "github.com/fitglance/fitglance/internal/coupon/domain"
	purchasedomain "github.com/fitglance/fitglance/internal/purchase/domain"
	"github.com/fitglance/fitglance/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			if err := conn.AutoMigrate(
				&coupondomain.Coupon{},
				&coupondomain.Redemption{},
				&purchasedomain.Purchase{},
				&billingcycledomain.OverageSettlement{},
			); err != nil {
				return err
			}
		}
		return seed.EnsureDefaultCoupons(conn)
	}),
)
