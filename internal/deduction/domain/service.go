// Package domain defines the deduction engine contract: one unit of use
// becomes a ledger mutation, an overage accrual, or a metered usage record.
package domain

import (
	"context"
	"errors"

	"github.com/fitglance/fitglance/internal/trial"
	"github.com/shopspring/decimal"
)

// Source identifies which balance (or billing path) absorbed a deduction.
type Source string

const (
	SourceTrial       Source = "trial"
	SourceCoupon      Source = "coupon"
	SourcePlan        Source = "plan"
	SourcePurchased   Source = "purchased"
	SourceOverage     Source = "overage"
	SourceUsageRecord Source = "usage_record"
)

type DeductRequest struct {
	InstallationID string
	// OperationID scopes the usage-record idempotency key; retried calls with
	// the same operation are not double-charged.
	OperationID string
	UnitCost    int64
	ShopContact string
}

// SourceAmount is one balance's share of a multi-unit deduction.
type SourceAmount struct {
	Source Source `json:"source"`
	Amount int64  `json:"amount"`
}

type DeductResult struct {
	Source    Source `json:"source"`
	Remaining int64  `json:"remaining"`

	// Breakdown lists every balance the deduction touched, in priority
	// order. Refunds that pass it back are reversed per source, so spans
	// across balances restore exactly.
	Breakdown []SourceAmount `json:"breakdown,omitempty"`

	// TrialReplacementNeeded is informational, not a failure: the deduction
	// still succeeded and trial credits remain spendable.
	TrialReplacementNeeded bool         `json:"trialReplacementNeeded,omitempty"`
	TrialEndReason         trial.Reason `json:"trialEndReason,omitempty"`

	// Deferred marks overage accrued for later settlement (annual plans).
	Deferred      bool   `json:"deferred,omitempty"`
	UsageRecordID string `json:"usageRecordId,omitempty"`
}

type RefundRequest struct {
	InstallationID string
	Source         Source
	Reason         string
	UnitCost       int64

	// Breakdown, when set, takes precedence over Source/UnitCost and
	// reverses each component against its own balance.
	Breakdown []SourceAmount
}

type RefundResult struct {
	Refunded bool   `json:"refunded"`
	Source   Source `json:"source"`
}

// BillingClient is the slice of the billing API the engine calls for metered
// overage on monthly plans.
type BillingClient interface {
	CreateUsageRecord(ctx context.Context, lineItemID string, amount decimal.Decimal, currency, description, idempotencyKey string) (string, error)
}

type Service interface {
	Deduct(ctx context.Context, req DeductRequest) (DeductResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

var (
	ErrInvalidInstallation    = errors.New("invalid_installation")
	ErrInvalidSource          = errors.New("invalid_source")
	ErrCappedAmountExceeded   = errors.New("capped_amount_exceeded")
	ErrNoBillableSubscription = errors.New("no_billable_subscription")
)
