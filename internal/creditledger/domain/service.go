package domain

import (
	"context"
	"errors"
	"time"

	"github.com/fitglance/fitglance/internal/shopify"
	"github.com/shopspring/decimal"
)

// Update is a partial read-modify-write payload; only set fields are written.
// Callers must always read-before-write within the same call: the store keeps
// whichever full value was written last.
type Update struct {
	TotalBalance     *int64
	TrialBalance     *int64
	TrialUsed        *int64
	PlanBalance      *int64
	PurchasedBalance *int64
	CouponBalance    *int64

	IncludedPerPeriod *int64
	UsedThisPeriod    *int64

	PeriodEnd        *time.Time
	MonthlyPeriodEnd *time.Time

	SubscriptionLineItemID *string

	IsTrialPeriod  *bool
	TrialStartDate *time.Time

	OverageCount      *int64
	OverageAmount     *decimal.Decimal
	LastOverageBilled *time.Time

	CouponRedemptions *[]CouponRedemption
	NotificationsSent *[]int
}

// PeriodMarkers carries the period state written together with a plan grant.
type PeriodMarkers struct {
	IncludedPerPeriod      int64
	PeriodEnd              *time.Time
	MonthlyPeriodEnd       *time.Time
	SubscriptionLineItemID string
}

// StoreClient is the namespaced key-value store attached to the merchant's
// installation, consumed through the batch get/set surface only.
type StoreClient interface {
	InstallationID(ctx context.Context) (string, error)
	GetMetafields(ctx context.Context, namespace string, keys []string) (map[string]shopify.Metafield, error)
	SetMetafields(ctx context.Context, entries []shopify.MetafieldInput) error
}

// Service is the typed read/write layer over the store.
type Service interface {
	Get(ctx context.Context, installationID string) (Account, error)
	Apply(ctx context.Context, installationID string, update Update) error
	// Initialize seeds trial credits. Safe to repeat: credits already present
	// are added to, never overwritten.
	Initialize(ctx context.Context, installationID string, trialCredits int64) (Account, error)
	// AddCreditsForPeriod grants a fresh period allotment additively; unused
	// balances carry forward across the boundary.
	AddCreditsForPeriod(ctx context.Context, installationID string, amount int64, markers PeriodMarkers) error
}

var (
	ErrInvalidInstallation = errors.New("invalid_installation")
	ErrInvalidAmount       = errors.New("invalid_amount")
)
