package deduction

import (
	"github.com/fitglance/fitglance/internal/deduction/domain"
	"github.com/fitglance/fitglance/internal/deduction/service"
	"github.com/fitglance/fitglance/internal/shopify"
	"go.uber.org/fx"
)

var Module = fx.Module("deduction.service",
	fx.Provide(func(c *shopify.Client) domain.BillingClient { return c }),
	fx.Provide(service.NewService),
)
