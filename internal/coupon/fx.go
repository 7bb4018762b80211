package coupon

import (
	"github.com/fitglance/fitglance/internal/coupon/repository"
	"github.com/fitglance/fitglance/internal/coupon/service"
	"go.uber.org/fx"
)

var Module = fx.Module("coupon.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
