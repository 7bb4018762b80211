package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics exposes counters for credit and billing activity.
type Metrics struct {
	Registry *prometheus.Registry

	DeductionsTotal     *prometheus.CounterVec
	RefundsTotal        *prometheus.CounterVec
	OverageAccruedTotal prometheus.Counter
	OverageBilledTotal  prometheus.Counter
	OverageCappedTotal  prometheus.Counter
	CouponRedeemedTotal prometheus.Counter
	UsageRecordsTotal   *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		DeductionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitglance_credit_deductions_total",
			Help: "Credit deductions by source balance.",
		}, []string{"source"}),
		RefundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitglance_credit_refunds_total",
			Help: "Credit refunds by source balance.",
		}, []string{"source", "applied"}),
		OverageAccruedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitglance_overage_accrued_total",
			Help: "Overage units accrued for deferred billing.",
		}),
		OverageBilledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitglance_overage_billed_total",
			Help: "Overage settlement charges created.",
		}),
		OverageCappedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitglance_overage_capped_total",
			Help: "Overage settlements clamped to the maximum chargeable amount.",
		}),
		CouponRedeemedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitglance_coupon_redemptions_total",
			Help: "Successful coupon redemptions.",
		}),
		UsageRecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitglance_usage_records_total",
			Help: "Metered usage records by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.DeductionsTotal,
		m.RefundsTotal,
		m.OverageAccruedTotal,
		m.OverageBilledTotal,
		m.OverageCappedTotal,
		m.CouponRedeemedTotal,
		m.UsageRecordsTotal,
	)
	return m
}

var Module = fx.Module("metrics",
	fx.Provide(New),
)
