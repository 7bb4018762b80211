package service

import (
	"context"
	"testing"
	"time"

	"github.com/fitglance/fitglance/internal/clock"
	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	"github.com/fitglance/fitglance/internal/creditledger/ledgertest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testInstallation = "gid://shopify/AppInstallation/1"

func newTestService(t *testing.T, now time.Time) (creditledgerdomain.Service, *ledgertest.Store, *clock.FakeClock) {
	t.Helper()
	store := ledgertest.NewStore()
	fake := clock.NewFakeClock(now)
	svc := NewService(Params{Store: store, Log: zap.NewNop(), Clock: fake})
	return svc, store, fake
}

func TestInitializeSeedsTrialOnlyOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := newTestService(t, now)
	ctx := context.Background()

	acct, err := svc.Initialize(ctx, testInstallation, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acct.TrialBalance)
	assert.Equal(t, int64(100), acct.TotalBalance)
	assert.True(t, acct.IsTrialPeriod)
	require.NotNil(t, acct.TrialStartDate)

	// A second call must not reset the window or re-grant credits.
	again, err := svc.Initialize(ctx, testInstallation, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), again.TrialBalance)
	assert.Equal(t, int64(100), again.TotalBalance)
	assert.Equal(t, "100", store.Value("trial_balance"))
}

func TestApplyWritesOnlySetFields(t *testing.T) {
	svc, store, _ := newTestService(t, time.Now())
	ctx := context.Background()

	plan := int64(50)
	require.NoError(t, svc.Apply(ctx, testInstallation, creditledgerdomain.Update{PlanBalance: &plan}))

	assert.Equal(t, "50", store.Value("plan_balance"))
	assert.Empty(t, store.Value("total_balance"))
	assert.Empty(t, store.Value("coupon_balance"))
}

func TestAddCreditsForPeriodCarriesForward(t *testing.T) {
	svc, store, _ := newTestService(t, time.Now())
	ctx := context.Background()

	plan := int64(30)
	total := int64(30)
	used := int64(170)
	require.NoError(t, svc.Apply(ctx, testInstallation, creditledgerdomain.Update{
		PlanBalance:    &plan,
		TotalBalance:   &total,
		UsedThisPeriod: &used,
	}))

	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, svc.AddCreditsForPeriod(ctx, testInstallation, 100, creditledgerdomain.PeriodMarkers{
		IncludedPerPeriod: 100,
		PeriodEnd:         &periodEnd,
	}))

	acct, err := svc.Get(ctx, testInstallation)
	require.NoError(t, err)
	assert.Equal(t, int64(130), acct.PlanBalance, "unused credits carry across the boundary")
	assert.Equal(t, int64(130), acct.TotalBalance)
	assert.Equal(t, int64(0), acct.UsedThisPeriod)
	assert.Equal(t, int64(100), acct.IncludedPerPeriod)
	require.NotNil(t, acct.PeriodEnd)
	assert.True(t, acct.PeriodEnd.Equal(periodEnd))
	assert.Equal(t, "0", store.Value("used_this_period"))
}

func TestGetParsesTypedFields(t *testing.T) {
	svc, _, _ := newTestService(t, time.Now())
	ctx := context.Background()

	amount := decimal.RequireFromString("1.36")
	count := int64(17)
	redemptions := []creditledgerdomain.CouponRedemption{
		{Code: "WELCOME50", Credits: 50, RedeemedAt: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, svc.Apply(ctx, testInstallation, creditledgerdomain.Update{
		OverageCount:      &count,
		OverageAmount:     &amount,
		CouponRedemptions: &redemptions,
	}))

	acct, err := svc.Get(ctx, testInstallation)
	require.NoError(t, err)
	assert.True(t, acct.Exists)
	assert.Equal(t, int64(17), acct.OverageCount)
	assert.True(t, acct.OverageAmount.Equal(amount))
	require.Len(t, acct.CouponRedemptions, 1)
	assert.Equal(t, "WELCOME50", acct.CouponRedemptions[0].Code)
	assert.Equal(t, 1, acct.RedemptionCount("WELCOME50"))
}

func TestGetMissingAccount(t *testing.T) {
	svc, _, _ := newTestService(t, time.Now())

	acct, err := svc.Get(context.Background(), testInstallation)
	require.NoError(t, err)
	assert.False(t, acct.Exists)
	assert.True(t, acct.BalancesConsistent())

	_, err = svc.Get(context.Background(), " ")
	assert.ErrorIs(t, err, creditledgerdomain.ErrInvalidInstallation)
}
