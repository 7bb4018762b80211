package creditledger

import (
	"github.com/fitglance/fitglance/internal/creditledger/domain"
	"github.com/fitglance/fitglance/internal/creditledger/service"
	"github.com/fitglance/fitglance/internal/shopify"
	"go.uber.org/fx"
)

var Module = fx.Module("creditledger.service",
	fx.Provide(func(c *shopify.Client) domain.StoreClient { return c }),
	fx.Provide(service.NewService),
)
