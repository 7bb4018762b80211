package server

import (
	"context"
	"net/http"
	"time"

	"github.com/fitglance/fitglance/internal/billingcycle"
	billingcycledomain "github.com/fitglance/fitglance/internal/billingcycle/domain"
	"github.com/fitglance/fitglance/internal/clock"
	"github.com/fitglance/fitglance/internal/config"
	"github.com/fitglance/fitglance/internal/coupon"
	coupondomain "github.com/fitglance/fitglance/internal/coupon/domain"
	"github.com/fitglance/fitglance/internal/creditledger"
	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	"github.com/fitglance/fitglance/internal/deduction"
	deductiondomain "github.com/fitglance/fitglance/internal/deduction/domain"
	"github.com/fitglance/fitglance/internal/locks"
	"github.com/fitglance/fitglance/internal/metrics"
	"github.com/fitglance/fitglance/internal/notification"
	"github.com/fitglance/fitglance/internal/plancatalog"
	"github.com/fitglance/fitglance/internal/purchase"
	purchasedomain "github.com/fitglance/fitglance/internal/purchase/domain"
	"github.com/fitglance/fitglance/internal/shopify"
	"github.com/fitglance/fitglance/internal/subscription"
	subscriptiondomain "github.com/fitglance/fitglance/internal/subscription/domain"
	"github.com/fitglance/fitglance/internal/trial"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	metrics.Module,
	locks.Module,
	shopify.Module,
	plancatalog.Module,
	trial.Module,
	notification.Module,
	creditledger.Module,
	deduction.Module,
	billingcycle.Module,
	subscription.Module,
	coupon.Module,
	purchase.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	return r
}

func registerGin(m *metrics.Metrics) *gin.Engine {
	return NewEngine(m)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	clock        clock.Clock
	shop         *shopify.Client
	ledger       creditledgerdomain.Service
	deduction    deductiondomain.Service
	billingcycle billingcycledomain.Service
	subscription subscriptiondomain.Service
	coupon       coupondomain.Service
	purchase     purchasedomain.Service
	trial        *trial.Machine
}

type Params struct {
	fx.In

	Engine       *gin.Engine
	Config       config.Config
	Log          *zap.Logger
	Clock        clock.Clock
	Shop         *shopify.Client
	Ledger       creditledgerdomain.Service
	Deduction    deductiondomain.Service
	BillingCycle billingcycledomain.Service
	Subscription subscriptiondomain.Service
	Coupon       coupondomain.Service
	Purchase     purchasedomain.Service
	Trial        *trial.Machine
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:       p.Engine,
		cfg:          p.Config,
		log:          p.Log.Named("server"),
		clock:        p.Clock,
		shop:         p.Shop,
		ledger:       p.Ledger,
		deduction:    p.Deduction,
		billingcycle: p.BillingCycle,
		subscription: p.Subscription,
		coupon:       p.Coupon,
		purchase:     p.Purchase,
		trial:        p.Trial,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	api.Use(RequireInstallation(s.shop))
	{
		api.GET("/credits/balance", s.getBalance)
		api.POST("/credits/deduct", s.deductCredit)
		api.POST("/credits/refund", s.refundCredit)
		api.POST("/credits/purchase", s.purchaseCredits)
		api.POST("/coupons/redeem", s.redeemCoupon)
		api.GET("/trial/status", s.getTrialStatus)
		api.POST("/billing/overage/settle", s.settleOverage)
	}

	webhooks := s.engine.Group("/webhooks")
	{
		webhooks.POST("/app-subscriptions/update", s.handleSubscriptionUpdate)
		webhooks.POST("/app-purchases/update", s.handlePurchaseUpdate)
	}
}
