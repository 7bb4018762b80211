package subscription

import (
	"github.com/fitglance/fitglance/internal/shopify"
	"github.com/fitglance/fitglance/internal/subscription/domain"
	"github.com/fitglance/fitglance/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(func(c *shopify.Client) domain.BillingClient { return c }),
	fx.Provide(service.NewService),
)
