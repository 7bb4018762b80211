// Package domain defines the trial replacement orchestration and the
// subscription webhook intake.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/fitglance/fitglance/internal/shopify"
	"github.com/fitglance/fitglance/internal/trial"
	"github.com/shopspring/decimal"
)

type ReplacementRequest struct {
	InstallationID string
	SubscriptionID string
	PlanHandle     string
	ReturnURL      string
}

// ReplacementOutcome is returned when a replacement offer was created; the
// merchant must approve it at ConfirmationURL before the paid subscription
// activates.
type ReplacementOutcome struct {
	ConfirmationURL string       `json:"confirmationUrl"`
	SubscriptionID  string       `json:"subscriptionId"`
	Reason          trial.Reason `json:"reason"`
}

// UpdatePayload is the subscription-status-changed webhook, reduced to the
// fields the engine needs. Plan resolution is best-effort by price, interval
// and currency.
type UpdatePayload struct {
	InstallationID   string
	Status           string
	Price            decimal.Decimal
	Interval         string
	CurrencyCode     string
	CurrentPeriodEnd *time.Time
	LineItems        []shopify.SubscriptionLineItem
}

// BillingClient is the slice of the billing API used for replacement offers.
type BillingClient interface {
	CreateRecurringSubscription(ctx context.Context, req shopify.SubscriptionCreateRequest) (*shopify.SubscriptionCreateResponse, error)
}

type Service interface {
	// CheckAndReplaceTrialIfNeeded creates a paid replacement offer when the
	// trial should end. Returns nil when no replacement is due.
	CheckAndReplaceTrialIfNeeded(ctx context.Context, req ReplacementRequest) (*ReplacementOutcome, error)
	ProcessSubscriptionUpdate(ctx context.Context, payload UpdatePayload) error
}

var (
	ErrInvalidPlan         = errors.New("invalid_plan")
	ErrInvalidInstallation = errors.New("invalid_installation")
)
