package service

import (
	"context"
	"errors"
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
	"github.com/fitglance/fitglance/internal/subscription/domain"
	"github.com/fitglance/fitglance/internal/trial"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testInstallation = "gid://shopify/AppInstallation/1"

type subscriptionStub struct {
	calls   int
	lastReq shopify.SubscriptionCreateRequest
	err     error
}

func (s *subscriptionStub) CreateRecurringSubscription(ctx context.Context, req shopify.SubscriptionCreateRequest) (*shopify.SubscriptionCreateResponse, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &shopify.SubscriptionCreateResponse{
		ConfirmationURL: "https://example.com/confirm",
		SubscriptionID:  "gid://shopify/AppSubscription/9",
	}, nil
}

type chargeStub struct{}

func (chargeStub) CreateOneTimeCharge(ctx context.Context, name string, amount decimal.Decimal, currency, returnURL string) (*shopify.OneTimeChargeResponse, error) {
	return &shopify.OneTimeChargeResponse{PurchaseID: "gid://shopify/AppPurchaseOneTime/1"}, nil
}

type fixture struct {
	svc     domain.Service
	ledger  creditledgerdomain.Service
	billing *subscriptionStub
	clock   *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	ledger := creditledgerservice.NewService(creditledgerservice.Params{
		Store: ledgertest.NewStore(),
		Log:   zap.NewNop(),
		Clock: fake,
	})
	catalog := plancatalog.NewStaticHolder(plancatalog.DefaultCatalog())
	billing := &subscriptionStub{}
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	cfg := config.Config{AppURL: "https://app.example.com"}

	cycle := billingcycleservice.NewService(billingcycleservice.Params{
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Config:  cfg,
		Ledger:  ledger,
		Billing: chargeStub{},
		Catalog: catalog,
	})

	svc := NewService(Params{
		Log:     zap.NewNop(),
		Clock:   fake,
		Config:  cfg,
		Catalog: catalog,
		Trial:   trial.NewMachine(catalog),
		Ledger:  ledger,
		Billing: billing,
		Cycle:   cycle,
	})
	return &fixture{svc: svc, ledger: ledger, billing: billing, clock: fake}
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

func boolp(v bool) *bool    { return &v }
func int64p(v int64) *int64 { return &v }

func TestReplacementCreatedWhenTrialExpires(t *testing.T) {
	f := newFixture(t)
	start := f.clock.Now().AddDate(0, 0, -31)
	f.seed(t, creditledgerdomain.Update{
		IsTrialPeriod:  boolp(true),
		TrialStartDate: &start,
		TrialBalance:   int64p(60),
		TotalBalance:   int64p(60),
	})

	outcome, err := f.svc.CheckAndReplaceTrialIfNeeded(context.Background(), domain.ReplacementRequest{
		InstallationID: testInstallation,
		PlanHandle:     "starter",
	})
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, trial.ReasonDaysElapsed, outcome.Reason)
	assert.Equal(t, "https://example.com/confirm", outcome.ConfirmationURL)

	req := f.billing.lastReq
	assert.Equal(t, 0, req.TrialDays, "replacement carries no second trial")
	assert.Equal(t, shopify.ReplacementApplyImmediately, req.ReplacementBehavior)
	assert.Equal(t, "EVERY_30_DAYS", req.Interval)
	assert.True(t, req.CappedAmount.IsPositive(), "monthly plans get a usage line")

	acct := f.account(t)
	assert.False(t, acct.IsTrialPeriod)
	// Period credits arrive with the activation webhook, not here.
	assert.Equal(t, int64(0), acct.PlanBalance)
}

func TestReplacementSkippedMidTrial(t *testing.T) {
	f := newFixture(t)
	start := f.clock.Now().AddDate(0, 0, -5)
	f.seed(t, creditledgerdomain.Update{
		IsTrialPeriod:  boolp(true),
		TrialStartDate: &start,
		TrialUsed:      int64p(40),
	})

	outcome, err := f.svc.CheckAndReplaceTrialIfNeeded(context.Background(), domain.ReplacementRequest{
		InstallationID: testInstallation,
		PlanHandle:     "starter",
	})
	require.NoError(t, err)
	assert.Nil(t, outcome)
	assert.Equal(t, 0, f.billing.calls)
}

func TestReplacementFailureLeavesTrialIntact(t *testing.T) {
	f := newFixture(t)
	start := f.clock.Now().AddDate(0, 0, -31)
	f.seed(t, creditledgerdomain.Update{
		IsTrialPeriod:  boolp(true),
		TrialStartDate: &start,
	})
	f.billing.err = errors.New("offer rejected")

	_, err := f.svc.CheckAndReplaceTrialIfNeeded(context.Background(), domain.ReplacementRequest{
		InstallationID: testInstallation,
		PlanHandle:     "starter",
	})
	require.Error(t, err)

	// No mutation on failure; the next call retries the replacement.
	acct := f.account(t)
	assert.True(t, acct.IsTrialPeriod)
}

func TestReplacementUnknownPlan(t *testing.T) {
	f := newFixture(t)
	start := f.clock.Now().AddDate(0, 0, -31)
	f.seed(t, creditledgerdomain.Update{
		IsTrialPeriod:  boolp(true),
		TrialStartDate: &start,
	})

	_, err := f.svc.CheckAndReplaceTrialIfNeeded(context.Background(), domain.ReplacementRequest{
		InstallationID: testInstallation,
		PlanHandle:     "enterprise",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPlan)
}

func TestProcessSubscriptionUpdateGrantsOnActivation(t *testing.T) {
	f := newFixture(t)
	periodEnd := time.Date(2026, 4, 14, 12, 0, 0, 0, time.UTC)

	err := f.svc.ProcessSubscriptionUpdate(context.Background(), domain.UpdatePayload{
		InstallationID:   testInstallation,
		Status:           "ACTIVE",
		Price:            decimal.RequireFromString("19"),
		Interval:         "EVERY_30_DAYS",
		CurrencyCode:     "USD",
		CurrentPeriodEnd: &periodEnd,
		LineItems: []shopify.SubscriptionLineItem{
			{ID: "gid://shopify/AppSubscriptionLineItem/1", PlanType: "RECURRING"},
			{ID: "gid://shopify/AppSubscriptionLineItem/2", PlanType: "USAGE"},
		},
	})
	require.NoError(t, err)

	acct := f.account(t)
	assert.Equal(t, int64(200), acct.PlanBalance, "starter allotment granted")
	assert.Equal(t, int64(200), acct.IncludedPerPeriod)
	assert.Equal(t, "gid://shopify/AppSubscriptionLineItem/2", acct.SubscriptionLineItemID)
	require.NotNil(t, acct.PeriodEnd)
	assert.True(t, acct.PeriodEnd.Equal(periodEnd))
	assert.Nil(t, acct.MonthlyPeriodEnd)
	// Activation also seeds the trial window for accounts created this way.
	assert.NotNil(t, acct.TrialStartDate)
}

func TestProcessSubscriptionUpdateReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	periodEnd := time.Date(2026, 4, 14, 12, 0, 0, 0, time.UTC)
	payload := domain.UpdatePayload{
		InstallationID:   testInstallation,
		Status:           "ACTIVE",
		Price:            decimal.RequireFromString("19"),
		Interval:         "EVERY_30_DAYS",
		CurrencyCode:     "USD",
		CurrentPeriodEnd: &periodEnd,
	}

	require.NoError(t, f.svc.ProcessSubscriptionUpdate(context.Background(), payload))
	require.NoError(t, f.svc.ProcessSubscriptionUpdate(context.Background(), payload))

	acct := f.account(t)
	assert.Equal(t, int64(200), acct.PlanBalance, "replayed webhook grants once")
}

func TestProcessSubscriptionUpdateAnnualUsesCalendarMonth(t *testing.T) {
	f := newFixture(t)

	err := f.svc.ProcessSubscriptionUpdate(context.Background(), domain.UpdatePayload{
		InstallationID: testInstallation,
		Status:         "ACTIVE",
		Price:          decimal.RequireFromString("490"),
		Interval:       "ANNUAL",
		CurrencyCode:   "USD",
	})
	require.NoError(t, err)

	acct := f.account(t)
	assert.Equal(t, int64(600), acct.PlanBalance)
	require.NotNil(t, acct.MonthlyPeriodEnd)
	assert.True(t, acct.MonthlyPeriodEnd.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, acct.PeriodEnd)
	assert.True(t, acct.IsAnnualPlan())
}

func TestProcessSubscriptionUpdateIgnoresUnmatchedPlan(t *testing.T) {
	f := newFixture(t)
	periodEnd := time.Date(2026, 4, 14, 12, 0, 0, 0, time.UTC)

	err := f.svc.ProcessSubscriptionUpdate(context.Background(), domain.UpdatePayload{
		InstallationID:   testInstallation,
		Status:           "ACTIVE",
		Price:            decimal.RequireFromString("7.77"),
		Interval:         "EVERY_30_DAYS",
		CurrencyCode:     "USD",
		CurrentPeriodEnd: &periodEnd,
	})
	require.NoError(t, err)

	acct := f.account(t)
	assert.Equal(t, int64(0), acct.PlanBalance)
	assert.False(t, acct.Exists)
}

func TestProcessSubscriptionUpdateNonActive(t *testing.T) {
	f := newFixture(t)

	err := f.svc.ProcessSubscriptionUpdate(context.Background(), domain.UpdatePayload{
		InstallationID: testInstallation,
		Status:         "CANCELLED",
	})
	require.NoError(t, err)
	assert.False(t, f.account(t).Exists)
}
