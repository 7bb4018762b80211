package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingcycleservice "github.com/fitglance/fitglance/internal/billingcycle/service"
	"github.com/fitglance/fitglance/internal/clock"
	"github.com/fitglance/fitglance/internal/config"
	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	"github.com/fitglance/fitglance/internal/creditledger/ledgertest"
	creditledgerservice "github.com/fitglance/fitglance/internal/creditledger/service"
	"github.com/fitglance/fitglance/internal/plancatalog"
	"github.com/fitglance/fitglance/internal/shopify"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type chargeStub struct {
	calls int
}

func (c *chargeStub) CreateOneTimeCharge(ctx context.Context, name string, amount decimal.Decimal, currency, returnURL string) (*shopify.OneTimeChargeResponse, error) {
	c.calls++
	return &shopify.OneTimeChargeResponse{PurchaseID: "gid://shopify/AppPurchaseOneTime/1"}, nil
}

func newScheduler(t *testing.T, fake *clock.FakeClock) (*Scheduler, creditledgerdomain.Service, *chargeStub) {
	t.Helper()
	store := ledgertest.NewStore()
	ledger := creditledgerservice.NewService(creditledgerservice.Params{
		Store: store,
		Log:   zap.NewNop(),
		Clock: fake,
	})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	charge := &chargeStub{}

	cycle := billingcycleservice.NewService(billingcycleservice.Params{
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Config:  config.Config{AppURL: "https://app.example.com"},
		Ledger:  ledger,
		Billing: charge,
		Catalog: plancatalog.NewStaticHolder(plancatalog.DefaultCatalog()),
	})

	s, err := New(Params{
		Log:    zap.NewNop(),
		Clock:  fake,
		Ledger: ledger,
		Cycle:  cycle,
		Store:  store,
	})
	require.NoError(t, err)
	return s, ledger, charge
}

func TestRolloverSkipsMonthlyPlans(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC))
	s, ledger, charge := newScheduler(t, fake)

	end := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	plan := int64(50)
	require.NoError(t, ledger.Apply(context.Background(), "gid://shopify/AppInstallation/1", creditledgerdomain.Update{
		PlanBalance:  &plan,
		TotalBalance: &plan,
		PeriodEnd:    &end,
	}))

	require.NoError(t, s.RunMonthlyRollover(context.Background()))
	assert.Equal(t, 0, charge.calls)
}

func TestRolloverSkipsBeforeBoundary(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC))
	s, ledger, _ := newScheduler(t, fake)

	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	included := int64(600)
	require.NoError(t, ledger.Apply(context.Background(), "gid://shopify/AppInstallation/1", creditledgerdomain.Update{
		IncludedPerPeriod: &included,
		MonthlyPeriodEnd:  &end,
	}))

	require.NoError(t, s.RunMonthlyRollover(context.Background()))

	acct, err := ledger.Get(context.Background(), "gid://shopify/AppInstallation/1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.PlanBalance)
}

func TestRolloverSettlesAndGrantsAfterBoundary(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC))
	s, ledger, charge := newScheduler(t, fake)

	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	included := int64(600)
	count := int64(60)
	amount := decimal.RequireFromString("4.80")
	require.NoError(t, ledger.Apply(context.Background(), "gid://shopify/AppInstallation/1", creditledgerdomain.Update{
		IncludedPerPeriod: &included,
		MonthlyPeriodEnd:  &end,
		OverageCount:      &count,
		OverageAmount:     &amount,
	}))

	fake.Advance(14 * 24 * time.Hour)
	require.NoError(t, s.RunMonthlyRollover(context.Background()))

	assert.Equal(t, 1, charge.calls, "accrued overage settled at the boundary")
	acct, err := ledger.Get(context.Background(), "gid://shopify/AppInstallation/1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), acct.PlanBalance)
	assert.True(t, acct.OverageAmount.IsZero())
	require.NotNil(t, acct.MonthlyPeriodEnd)
	assert.True(t, acct.MonthlyPeriodEnd.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))

	// The same sweep repeated in the same month is a no-op.
	require.NoError(t, s.RunMonthlyRollover(context.Background()))
	assert.Equal(t, 1, charge.calls)

	acct, err = ledger.Get(context.Background(), "gid://shopify/AppInstallation/1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), acct.PlanBalance)
}
