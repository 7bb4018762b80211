package purchase

import (
	"github.com/fitglance/fitglance/internal/purchase/domain"
	"github.com/fitglance/fitglance/internal/purchase/repository"
	"github.com/fitglance/fitglance/internal/purchase/service"
	"github.com/fitglance/fitglance/internal/shopify"
	"go.uber.org/fx"
)

var Module = fx.Module("purchase.service",
	fx.Provide(func(c *shopify.Client) domain.BillingClient { return c }),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
