package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	billingcycledomain "github.com/fitglance/fitglance/internal/billingcycle/domain"
	"github.com/fitglance/fitglance/internal/clock"
	"github.com/fitglance/fitglance/internal/config"
	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	"github.com/fitglance/fitglance/internal/plancatalog"
	"github.com/fitglance/fitglance/internal/shopify"
	"github.com/fitglance/fitglance/internal/subscription/domain"
	"github.com/fitglance/fitglance/internal/trial"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Config  config.Config
	Catalog *plancatalog.Holder
	Trial   *trial.Machine
	Ledger  creditledgerdomain.Service
	Billing domain.BillingClient
	Cycle   billingcycledomain.Service
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	cfg     config.Config
	catalog *plancatalog.Holder
	trial   *trial.Machine
	ledger  creditledgerdomain.Service
	billing domain.BillingClient
	cycle   billingcycledomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		log:     p.Log.Named("subscription.service"),
		clock:   p.Clock,
		cfg:     p.Config,
		catalog: p.Catalog,
		trial:   p.Trial,
		ledger:  p.Ledger,
		billing: p.Billing,
		cycle:   p.Cycle,
	}
}

// CheckAndReplaceTrialIfNeeded checks the trial-end condition and, when it
// fires, creates a zero-trial replacement subscription applied immediately.
// The ledger is only touched after the billing API accepted the offer; an API
// failure leaves the trial state exactly as it was so the next call retries.
func (s *Service) CheckAndReplaceTrialIfNeeded(ctx context.Context, req domain.ReplacementRequest) (*domain.ReplacementOutcome, error) {
	if strings.TrimSpace(req.InstallationID) == "" {
		return nil, domain.ErrInvalidInstallation
	}

	acct, err := s.ledger.Get(ctx, req.InstallationID)
	if err != nil {
		return nil, err
	}
	if !acct.IsTrialPeriod {
		return nil, nil
	}

	now := s.clock.Now()
	decision := s.trial.ShouldEnd(acct, now)
	if !decision.ShouldEnd {
		return nil, nil
	}

	plan, ok := s.resolvePlan(req.PlanHandle)
	if !ok {
		return nil, domain.ErrInvalidPlan
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = s.cfg.AppURL + "/billing/return"
	}

	create := shopify.SubscriptionCreateRequest{
		Name:                plan.Name,
		Price:               plan.PriceAmount(),
		CurrencyCode:        plan.Currency,
		Interval:            string(plan.Interval),
		TrialDays:           0,
		ReplacementBehavior: shopify.ReplacementApplyImmediately,
		ReturnURL:           returnURL,
	}
	if !plan.IsAnnual() {
		policy := s.catalog.Get().Overage
		create.CappedAmount = policy.Max()
		create.UsageTerms = fmt.Sprintf("%s %s per try-on beyond the included allotment", policy.PerUnit().StringFixed(2), policy.Currency)
	}

	resp, err := s.billing.CreateRecurringSubscription(ctx, create)
	if err != nil {
		s.log.Error("trial replacement offer failed",
			zap.String("installation_id", req.InstallationID),
			zap.String("plan", plan.Handle),
			zap.Error(err))
		return nil, err
	}

	// Only the trial flag flips here. Period credits arrive through the
	// subscription update once the merchant approves the offer.
	off := false
	if err := s.ledger.Apply(ctx, req.InstallationID, creditledgerdomain.Update{IsTrialPeriod: &off}); err != nil {
		return nil, err
	}

	s.log.Info("trial ended, replacement subscription created",
		zap.String("installation_id", req.InstallationID),
		zap.String("reason", string(decision.Reason)),
		zap.String("subscription_id", resp.SubscriptionID))

	return &domain.ReplacementOutcome{
		ConfirmationURL: resp.ConfirmationURL,
		SubscriptionID:  resp.SubscriptionID,
		Reason:          decision.Reason,
	}, nil
}

// ProcessSubscriptionUpdate handles the subscription-status-changed webhook.
// Non-active statuses are acknowledged without ledger writes. An active
// subscription is matched against the plan catalog; the grant itself is
// delegated to the period renewal check so activation and rollover share one
// code path.
func (s *Service) ProcessSubscriptionUpdate(ctx context.Context, payload domain.UpdatePayload) error {
	if strings.TrimSpace(payload.InstallationID) == "" {
		return domain.ErrInvalidInstallation
	}

	if !strings.EqualFold(payload.Status, "ACTIVE") {
		s.log.Info("ignoring non-active subscription update",
			zap.String("installation_id", payload.InstallationID),
			zap.String("status", payload.Status))
		return nil
	}

	interval := plancatalog.Interval(strings.ToUpper(strings.TrimSpace(payload.Interval)))
	plan, ok := s.catalog.Get().Match(payload.Price, interval, payload.CurrencyCode)
	if !ok {
		// Unknown price point. Treat as a free or legacy plan: acknowledge
		// without granting credits rather than failing the webhook.
		s.log.Warn("subscription update matched no catalog plan",
			zap.String("installation_id", payload.InstallationID),
			zap.String("price", payload.Price.String()),
			zap.String("interval", payload.Interval),
			zap.String("currency", payload.CurrencyCode))
		return nil
	}

	// A shop can activate a paid plan without ever passing through the app UI
	// that seeds the trial account, so the account is created lazily here.
	if _, err := s.ledger.Initialize(ctx, payload.InstallationID, s.catalog.Get().Trial.Credits); err != nil {
		return err
	}

	annual := plan.IsAnnual()
	observed, err := s.observedPeriodEnd(payload, annual)
	if err != nil {
		return err
	}

	markers := creditledgerdomain.PeriodMarkers{
		IncludedPerPeriod:      plan.IncludedCredits,
		SubscriptionLineItemID: usageLineItemID(payload.LineItems),
	}

	outcome, err := s.cycle.CheckPeriodRenewal(ctx, billingcycledomain.RenewalRequest{
		InstallationID:    payload.InstallationID,
		ObservedPeriodEnd: observed,
		Markers:           &markers,
		Annual:            &annual,
	})
	if err != nil {
		return err
	}

	if outcome.Renewed {
		s.log.Info("subscription update processed",
			zap.String("installation_id", payload.InstallationID),
			zap.String("plan", plan.Handle),
			zap.Int64("granted", outcome.GrantedCredits))
	}
	return nil
}

func (s *Service) resolvePlan(handle string) (plancatalog.Plan, bool) {
	catalog := s.catalog.Get()
	if handle != "" {
		return catalog.ByHandle(handle)
	}
	if len(catalog.Plans) == 0 {
		return plancatalog.Plan{}, false
	}
	return catalog.Plans[0], true
}

// observedPeriodEnd derives the watermark the renewal check compares against.
// Monthly plans use the billing period end from the payload; annual plans roll
// credits on calendar months, independent of the yearly billing date.
func (s *Service) observedPeriodEnd(payload domain.UpdatePayload, annual bool) (time.Time, error) {
	if annual {
		return firstOfNextMonth(s.clock.Now()), nil
	}
	if payload.CurrentPeriodEnd == nil {
		return time.Time{}, billingcycledomain.ErrInvalidPeriodEnd
	}
	return *payload.CurrentPeriodEnd, nil
}

func firstOfNextMonth(now time.Time) time.Time {
	year, month, _ := now.UTC().Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

func usageLineItemID(items []shopify.SubscriptionLineItem) string {
	for _, li := range items {
		if li.PlanType == "USAGE" {
			return li.ID
		}
	}
	return ""
}
