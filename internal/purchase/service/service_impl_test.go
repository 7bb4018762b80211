package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fitglance/fitglance/internal/clock"
	"github.com/fitglance/fitglance/internal/config"
	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	"github.com/fitglance/fitglance/internal/creditledger/ledgertest"
	creditledgerservice "github.com/fitglance/fitglance/internal/creditledger/service"
	"github.com/fitglance/fitglance/internal/plancatalog"
	"github.com/fitglance/fitglance/internal/purchase/domain"
	"github.com/fitglance/fitglance/internal/purchase/repository"
	"github.com/fitglance/fitglance/internal/shopify"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testInstallation = "gid://shopify/AppInstallation/1"

type chargeStub struct {
	calls int
	err   error
}

func (c *chargeStub) CreateOneTimeCharge(ctx context.Context, name string, amount decimal.Decimal, currency, returnURL string) (*shopify.OneTimeChargeResponse, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &shopify.OneTimeChargeResponse{
		ConfirmationURL: "https://example.com/confirm",
		PurchaseID:      "gid://shopify/AppPurchaseOneTime/7",
	}, nil
}

type fixture struct {
	svc    domain.Service
	ledger creditledgerdomain.Service
	db     *gorm.DB
	charge *chargeStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Purchase{}))

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := creditledgerservice.NewService(creditledgerservice.Params{
		Store: ledgertest.NewStore(),
		Log:   zap.NewNop(),
		Clock: fake,
	})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	charge := &chargeStub{}

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Config:  config.Config{AppURL: "https://app.example.com"},
		Catalog: plancatalog.NewStaticHolder(plancatalog.DefaultCatalog()),
		Repo:    repository.Provide(),
		Ledger:  ledger,
		Billing: charge,
	})
	return &fixture{svc: svc, ledger: ledger, db: db, charge: charge}
}

func TestCreateRecordsPendingPurchase(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Create(context.Background(), domain.CreateRequest{
		InstallationID: testInstallation,
		PackHandle:     "pack-100",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/confirm", result.ConfirmationURL)
	assert.Equal(t, int64(100), result.Credits)

	var row domain.Purchase
	require.NoError(t, f.db.Where("charge_id = ?", result.ChargeID).First(&row).Error)
	assert.Equal(t, domain.StatusPending, row.Status)
	assert.Equal(t, "pack-100", row.PackHandle)

	// No credits before the charge activates.
	acct, err := f.ledger.Get(context.Background(), testInstallation)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.PurchasedBalance)
}

func TestCreateUnknownPack(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), domain.CreateRequest{
		InstallationID: testInstallation,
		PackHandle:     "pack-9000",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPack)
	assert.Equal(t, 0, f.charge.calls)
}

func TestFulfillGrantsOnce(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.Create(context.Background(), domain.CreateRequest{
		InstallationID: testInstallation,
		PackHandle:     "pack-100",
	})
	require.NoError(t, err)

	result, err := f.svc.HandlePurchaseUpdate(context.Background(), created.ChargeID, domain.StatusActive)
	require.NoError(t, err)
	assert.True(t, result.Granted)
	assert.Equal(t, int64(100), result.PurchasedBalance)
	assert.Equal(t, int64(100), result.TotalBalance)

	// A replayed webhook must not grant again.
	replay, err := f.svc.HandlePurchaseUpdate(context.Background(), created.ChargeID, domain.StatusActive)
	require.NoError(t, err)
	assert.False(t, replay.Granted)

	acct, err := f.ledger.Get(context.Background(), testInstallation)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acct.PurchasedBalance)
	assert.True(t, acct.BalancesConsistent())
}

func TestDeclinedChargeGrantsNothing(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.Create(context.Background(), domain.CreateRequest{
		InstallationID: testInstallation,
		PackHandle:     "pack-500",
	})
	require.NoError(t, err)

	result, err := f.svc.HandlePurchaseUpdate(context.Background(), created.ChargeID, domain.StatusDeclined)
	require.NoError(t, err)
	assert.False(t, result.Granted)

	var row domain.Purchase
	require.NoError(t, f.db.Where("charge_id = ?", created.ChargeID).First(&row).Error)
	assert.Equal(t, domain.StatusDeclined, row.Status)

	acct, err := f.ledger.Get(context.Background(), testInstallation)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.PurchasedBalance)
}

func TestFulfillUnknownCharge(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandlePurchaseUpdate(context.Background(), "gid://shopify/AppPurchaseOneTime/404", domain.StatusActive)
	assert.ErrorIs(t, err, domain.ErrUnknownCharge)
}
