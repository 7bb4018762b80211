package billingcycle

import (
	"github.com/fitglance/fitglance/internal/billingcycle/domain"
	"github.com/fitglance/fitglance/internal/billingcycle/service"
	"github.com/fitglance/fitglance/internal/shopify"
	"go.uber.org/fx"
)

var Module = fx.Module("billingcycle.service",
	fx.Provide(func(c *shopify.Client) domain.BillingClient { return c }),
	fx.Provide(service.NewService),
)
