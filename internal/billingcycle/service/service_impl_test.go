package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/fitglance/fitglance/internal/billingcycle/domain"
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

const testInstallation = "gid://shopify/AppInstallation/1"

type chargeStub struct {
	calls      int
	lastAmount decimal.Decimal
	err        error
}

func (c *chargeStub) CreateOneTimeCharge(ctx context.Context, name string, amount decimal.Decimal, currency, returnURL string) (*shopify.OneTimeChargeResponse, error) {
	c.calls++
	c.lastAmount = amount
	if c.err != nil {
		return nil, c.err
	}
	return &shopify.OneTimeChargeResponse{
		ConfirmationURL: "https://example.com/confirm",
		PurchaseID:      "gid://shopify/AppPurchaseOneTime/1",
	}, nil
}

type fixture struct {
	svc    billingcycledomain.Service
	ledger creditledgerdomain.Service
	charge *chargeStub
	clock  *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	ledger := creditledgerservice.NewService(creditledgerservice.Params{
		Store: ledgertest.NewStore(),
		Log:   zap.NewNop(),
		Clock: fake,
	})
	charge := &chargeStub{}
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Config:  config.Config{AppURL: "https://app.example.com"},
		Ledger:  ledger,
		Billing: charge,
		Catalog: plancatalog.NewStaticHolder(plancatalog.DefaultCatalog()),
	})
	return &fixture{svc: svc, ledger: ledger, charge: charge, clock: fake}
}

func (f *fixture) seed(t *testing.T, update creditledgerdomain.Update) {
	t.Helper()
	require.NoError(t, f.ledger.Apply(context.Background(), testInstallation, update))
}

func (f *fixture) account(t *testing.T) creditledgerdomain.Account {
	t.Helper()
	acct, err := f.ledger.Get(context.Background(), testInstallation)
	require.NoError(t, err)
	return acct
}

func int64p(v int64) *int64 { return &v }

func decimalp(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestSettleNoAccruedOverage(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.BillAccumulatedOverage(context.Background(), testInstallation)
	require.NoError(t, err)
	assert.Equal(t, billingcycledomain.OutcomeNoCharge, result.Outcome)
	assert.Equal(t, 0, f.charge.calls)
}

func TestSettleBelowMinimumCarriesOver(t *testing.T) {
	f := newFixture(t)
	f.seed(t, creditledgerdomain.Update{
		OverageCount:  int64p(4),
		OverageAmount: decimalp("0.35"),
	})

	result, err := f.svc.BillAccumulatedOverage(context.Background(), testInstallation)
	require.NoError(t, err)
	assert.Equal(t, billingcycledomain.OutcomeBelowMinimum, result.Outcome)
	assert.Equal(t, 0, f.charge.calls)

	// The amount carries; nothing is reset.
	acct := f.account(t)
	assert.Equal(t, int64(4), acct.OverageCount)
	assert.True(t, acct.OverageAmount.Equal(decimal.RequireFromString("0.35")))
}

func TestSettleChargesAndResets(t *testing.T) {
	f := newFixture(t)
	f.seed(t, creditledgerdomain.Update{
		OverageCount:  int64p(60),
		OverageAmount: decimalp("4.80"),
	})

	result, err := f.svc.BillAccumulatedOverage(context.Background(), testInstallation)
	require.NoError(t, err)
	assert.Equal(t, billingcycledomain.OutcomeCharged, result.Outcome)
	assert.True(t, result.ChargedAmount.Equal(decimal.RequireFromString("4.80")))
	assert.Equal(t, 1, f.charge.calls)

	acct := f.account(t)
	assert.Equal(t, int64(0), acct.OverageCount)
	assert.True(t, acct.OverageAmount.IsZero())
	assert.NotNil(t, acct.LastOverageBilled)
}

func TestSettleCapsAtMaximum(t *testing.T) {
	f := newFixture(t)
	f.seed(t, creditledgerdomain.Update{
		OverageCount:  int64p(187500),
		OverageAmount: decimalp("15000"),
	})

	result, err := f.svc.BillAccumulatedOverage(context.Background(), testInstallation)
	require.NoError(t, err)
	assert.Equal(t, billingcycledomain.OutcomeCapped, result.Outcome)
	assert.True(t, result.ChargedAmount.Equal(decimal.RequireFromString("10000")))
	// The excess is forgiven, not carried to the next cycle.
	assert.True(t, result.CappedExcess.Equal(decimal.RequireFromString("5000")))
	assert.True(t, f.charge.lastAmount.Equal(decimal.RequireFromString("10000")))

	acct := f.account(t)
	assert.True(t, acct.OverageAmount.IsZero())
}

func TestSettleChargeFailureKeepsCounters(t *testing.T) {
	f := newFixture(t)
	f.seed(t, creditledgerdomain.Update{
		OverageCount:  int64p(60),
		OverageAmount: decimalp("4.80"),
	})
	f.charge.err = errors.New("billing api unavailable")

	_, err := f.svc.BillAccumulatedOverage(context.Background(), testInstallation)
	require.Error(t, err)

	acct := f.account(t)
	assert.Equal(t, int64(60), acct.OverageCount)
	assert.True(t, acct.OverageAmount.Equal(decimal.RequireFromString("4.80")))
}

func TestRenewalGrantsOnNewWatermark(t *testing.T) {
	f := newFixture(t)
	oldEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f.seed(t, creditledgerdomain.Update{
		PlanBalance:       int64p(30),
		TotalBalance:      int64p(30),
		IncludedPerPeriod: int64p(200),
		UsedThisPeriod:    int64p(170),
		PeriodEnd:         &oldEnd,
	})

	newEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	outcome, err := f.svc.CheckPeriodRenewal(context.Background(), billingcycledomain.RenewalRequest{
		InstallationID:    testInstallation,
		ObservedPeriodEnd: newEnd,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Renewed)
	assert.Equal(t, int64(200), outcome.GrantedCredits)
	assert.Nil(t, outcome.Settlement, "monthly renewal settles nothing")

	acct := f.account(t)
	assert.Equal(t, int64(230), acct.PlanBalance)
	assert.Equal(t, int64(0), acct.UsedThisPeriod)
	require.NotNil(t, acct.PeriodEnd)
	assert.True(t, acct.PeriodEnd.Equal(newEnd))
}

func TestRenewalNoopOnSameWatermark(t *testing.T) {
	f := newFixture(t)
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	f.seed(t, creditledgerdomain.Update{
		IncludedPerPeriod: int64p(200),
		PeriodEnd:         &end,
	})

	outcome, err := f.svc.CheckPeriodRenewal(context.Background(), billingcycledomain.RenewalRequest{
		InstallationID:    testInstallation,
		ObservedPeriodEnd: end,
	})
	require.NoError(t, err)
	assert.False(t, outcome.Renewed)
	assert.Equal(t, int64(0), outcome.GrantedCredits)
}

func TestAnnualRenewalSettlesBeforeGrant(t *testing.T) {
	f := newFixture(t)
	oldEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f.seed(t, creditledgerdomain.Update{
		IncludedPerPeriod: int64p(600),
		MonthlyPeriodEnd:  &oldEnd,
		OverageCount:      int64p(60),
		OverageAmount:     decimalp("4.80"),
	})

	newEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	outcome, err := f.svc.CheckPeriodRenewal(context.Background(), billingcycledomain.RenewalRequest{
		InstallationID:    testInstallation,
		ObservedPeriodEnd: newEnd,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Renewed)
	require.NotNil(t, outcome.Settlement)
	assert.Equal(t, billingcycledomain.OutcomeCharged, outcome.Settlement.Outcome)
	assert.Equal(t, 1, f.charge.calls)

	acct := f.account(t)
	assert.Equal(t, int64(600), acct.PlanBalance)
	assert.True(t, acct.OverageAmount.IsZero())
	require.NotNil(t, acct.MonthlyPeriodEnd)
	assert.True(t, acct.MonthlyPeriodEnd.Equal(newEnd))
}

func TestRenewalValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CheckPeriodRenewal(context.Background(), billingcycledomain.RenewalRequest{
		ObservedPeriodEnd: time.Now(),
	})
	assert.ErrorIs(t, err, billingcycledomain.ErrInvalidInstallation)

	_, err = f.svc.CheckPeriodRenewal(context.Background(), billingcycledomain.RenewalRequest{
		InstallationID: testInstallation,
	})
	assert.ErrorIs(t, err, billingcycledomain.ErrInvalidPeriodEnd)
}
