package domain

import (
	"context"
	"errors"
	"time"

	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	"github.com/fitglance/fitglance/internal/shopify"
	"github.com/shopspring/decimal"
)

// SettlementResult reports one overage billing run.
type SettlementResult struct {
	Outcome         SettlementOutcome `json:"outcome"`
	ChargedAmount   decimal.Decimal   `json:"chargedAmount"`
	CappedExcess    decimal.Decimal   `json:"cappedExcess"`
	ConfirmationURL string            `json:"confirmationUrl,omitempty"`
	PurchaseID      string            `json:"purchaseId,omitempty"`
}

// RenewalOutcome reports a period rollover check.
type RenewalOutcome struct {
	Renewed        bool              `json:"renewed"`
	GrantedCredits int64             `json:"grantedCredits"`
	Settlement     *SettlementResult `json:"settlement,omitempty"`
}

// RenewalRequest carries the freshly observed period end from subscription
// status; rollover is detected purely by inequality against the stored
// watermark, no grace window.
type RenewalRequest struct {
	InstallationID    string
	ObservedPeriodEnd time.Time
	// Markers override period bookkeeping written with the grant, e.g. when a
	// plan change updates the included allotment.
	Markers *creditledgerdomain.PeriodMarkers
	// Annual forces the billing mode when the account carries no period
	// marker yet (first activation); otherwise the stored marker decides.
	Annual *bool
}

// BillingClient is the slice of the billing API used for settlement charges.
type BillingClient interface {
	CreateOneTimeCharge(ctx context.Context, name string, amount decimal.Decimal, currency, returnURL string) (*shopify.OneTimeChargeResponse, error)
}

type Service interface {
	CheckPeriodRenewal(ctx context.Context, req RenewalRequest) (RenewalOutcome, error)
	BillAccumulatedOverage(ctx context.Context, installationID string) (SettlementResult, error)
}

var (
	ErrInvalidInstallation = errors.New("invalid_installation")
	ErrInvalidPeriodEnd    = errors.New("invalid_period_end")
)
