package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fitglance/fitglance/internal/clock"
	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	deductiondomain "github.com/fitglance/fitglance/internal/deduction/domain"
	"github.com/fitglance/fitglance/internal/locks"
	"github.com/fitglance/fitglance/internal/metrics"
	"github.com/fitglance/fitglance/internal/notification"
	"github.com/fitglance/fitglance/internal/plancatalog"
	"github.com/fitglance/fitglance/internal/shopify"
	"github.com/fitglance/fitglance/internal/trial"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log          *zap.Logger
	Clock        clock.Clock
	Ledger       creditledgerdomain.Service
	Trial        *trial.Machine
	Billing      deductiondomain.BillingClient
	Catalog      *plancatalog.Holder
	Locker       *locks.Locker         `optional:"true"`
	Notification *notification.Service `optional:"true"`
	Metrics      *metrics.Metrics      `optional:"true"`
}

type Service struct {
	log          *zap.Logger
	clock        clock.Clock
	ledger       creditledgerdomain.Service
	trial        *trial.Machine
	billing      deductiondomain.BillingClient
	catalog      *plancatalog.Holder
	locker       *locks.Locker
	notification *notification.Service
	metrics      *metrics.Metrics
}

func NewService(p Params) deductiondomain.Service {
	return &Service{
		log:          p.Log.Named("deduction.service"),
		clock:        p.Clock,
		ledger:       p.Ledger,
		trial:        p.Trial,
		billing:      p.Billing,
		catalog:      p.Catalog,
		locker:       p.Locker,
		notification: p.Notification,
		metrics:      p.Metrics,
	}
}

// Deduct converts one unit of use into a ledger mutation or a billing call,
// in strict priority order: trial, coupon, plan, purchased, then overage.
func (s *Service) Deduct(ctx context.Context, req deductiondomain.DeductRequest) (deductiondomain.DeductResult, error) {
	if strings.TrimSpace(req.InstallationID) == "" {
		return deductiondomain.DeductResult{}, deductiondomain.ErrInvalidInstallation
	}
	if req.UnitCost <= 0 {
		req.UnitCost = 1
	}
	if req.OperationID == "" {
		req.OperationID = uuid.NewString()
	}

	var result deductiondomain.DeductResult
	err := s.locker.WithInstallationLock(ctx, req.InstallationID, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = s.deductLocked(ctx, req)
		return innerErr
	})
	return result, err
}

func (s *Service) deductLocked(ctx context.Context, req deductiondomain.DeductRequest) (deductiondomain.DeductResult, error) {
	acct, err := s.ledger.Get(ctx, req.InstallationID)
	if err != nil {
		return deductiondomain.DeductResult{}, err
	}

	if acct.TrialBalance > 0 {
		return s.deductTrial(ctx, req, acct)
	}
	if acct.TotalBalance > 0 {
		return s.deductBalance(ctx, req, acct)
	}
	if acct.IsAnnualPlan() {
		return s.accrueOverage(ctx, req, acct)
	}
	return s.createUsageRecord(ctx, req, acct)
}

// deductTrial spends a trial credit. A trial-end condition flags a
// replacement but never blocks the deduction; denying service mid-generation
// is worse than one extra trial unit.
func (s *Service) deductTrial(ctx context.Context, req deductiondomain.DeductRequest, acct creditledgerdomain.Account) (deductiondomain.DeductResult, error) {
	take := req.UnitCost
	if take > acct.TrialBalance {
		take = acct.TrialBalance
	}
	trialBalance := acct.TrialBalance - take
	trialUsed := acct.TrialUsed + take
	total := acct.TotalBalance - take

	update := creditledgerdomain.Update{
		TrialBalance: &trialBalance,
		TrialUsed:    &trialUsed,
		TotalBalance: &total,
	}
	if err := s.ledger.Apply(ctx, req.InstallationID, update); err != nil {
		return deductiondomain.DeductResult{}, err
	}
	s.countDeduction(deductiondomain.SourceTrial)

	// The end condition is evaluated on the post-deduction counters so the
	// credit that exhausts the allotment flags the replacement itself.
	acct.TrialBalance = trialBalance
	acct.TrialUsed = trialUsed
	decision := s.trial.ShouldEnd(acct, s.clock.Now())
	s.notifyTrialThresholds(ctx, req, acct)

	return deductiondomain.DeductResult{
		Source:                 deductiondomain.SourceTrial,
		Remaining:              total,
		Breakdown:              []deductiondomain.SourceAmount{{Source: deductiondomain.SourceTrial, Amount: take}},
		TrialReplacementNeeded: decision.ShouldEnd,
		TrialEndReason:         decision.Reason,
	}, nil
}

// deductBalance spends non-trial credits, most perishable first: coupon
// credits before the plan allotment, purchased credits preserved longest.
func (s *Service) deductBalance(ctx context.Context, req deductiondomain.DeductRequest, acct creditledgerdomain.Account) (deductiondomain.DeductResult, error) {
	coupon := acct.CouponBalance
	plan := acct.PlanBalance
	purchased := acct.PurchasedBalance

	remaining := req.UnitCost
	source := deductiondomain.Source("")
	breakdown := make([]deductiondomain.SourceAmount, 0, 3)

	for _, slot := range []struct {
		name    deductiondomain.Source
		balance *int64
	}{
		{deductiondomain.SourceCoupon, &coupon},
		{deductiondomain.SourcePlan, &plan},
		{deductiondomain.SourcePurchased, &purchased},
	} {
		if remaining == 0 || *slot.balance == 0 {
			continue
		}
		take := remaining
		if take > *slot.balance {
			take = *slot.balance
		}
		*slot.balance -= take
		remaining -= take
		breakdown = append(breakdown, deductiondomain.SourceAmount{Source: slot.name, Amount: take})
		if source == "" {
			source = slot.name
		}
	}

	spent := req.UnitCost - remaining
	total := acct.TotalBalance - spent
	usedThisPeriod := acct.UsedThisPeriod + spent

	update := creditledgerdomain.Update{
		CouponBalance:    &coupon,
		PlanBalance:      &plan,
		PurchasedBalance: &purchased,
		TotalBalance:     &total,
		UsedThisPeriod:   &usedThisPeriod,
	}
	if err := s.ledger.Apply(ctx, req.InstallationID, update); err != nil {
		return deductiondomain.DeductResult{}, err
	}
	s.countDeduction(source)

	return deductiondomain.DeductResult{
		Source:    source,
		Remaining: total,
		Breakdown: breakdown,
	}, nil
}

// accrueOverage tracks usage past the allotment on annual plans; no charge is
// created until the monthly settlement run.
func (s *Service) accrueOverage(ctx context.Context, req deductiondomain.DeductRequest, acct creditledgerdomain.Account) (deductiondomain.DeductResult, error) {
	policy := s.catalog.Get().Overage

	count := acct.OverageCount + req.UnitCost
	amount := acct.OverageAmount.Add(policy.PerUnit().Mul(intToDecimal(req.UnitCost)))

	update := creditledgerdomain.Update{
		OverageCount:  &count,
		OverageAmount: &amount,
	}
	if err := s.ledger.Apply(ctx, req.InstallationID, update); err != nil {
		return deductiondomain.DeductResult{}, err
	}

	if s.metrics != nil {
		s.metrics.OverageAccruedTotal.Add(float64(req.UnitCost))
	}
	s.countDeduction(deductiondomain.SourceOverage)
	s.log.Info("overage accrued for deferred billing",
		zap.String("installation_id", req.InstallationID),
		zap.Int64("overage_count", count),
		zap.String("overage_amount", amount.String()))

	return deductiondomain.DeductResult{
		Source:    deductiondomain.SourceOverage,
		Deferred:  true,
		Breakdown: []deductiondomain.SourceAmount{{Source: deductiondomain.SourceOverage, Amount: req.UnitCost}},
	}, nil
}

// createUsageRecord bills one metered unit on monthly plans. The record is
// append-only on the billing side; the ledger is not mutated.
func (s *Service) createUsageRecord(ctx context.Context, req deductiondomain.DeductRequest, acct creditledgerdomain.Account) (deductiondomain.DeductResult, error) {
	if acct.SubscriptionLineItemID == "" {
		return deductiondomain.DeductResult{}, deductiondomain.ErrNoBillableSubscription
	}

	policy := s.catalog.Get().Overage
	amount := policy.PerUnit().Mul(intToDecimal(req.UnitCost))
	idempotencyKey := fmt.Sprintf("%s:%s", req.InstallationID, req.OperationID)

	recordID, err := s.billing.CreateUsageRecord(ctx, acct.SubscriptionLineItemID, amount, policy.Currency, "AI try-on generation", idempotencyKey)
	if err != nil {
		if errors.Is(err, shopify.ErrCappedAmountExceeded) {
			if s.metrics != nil {
				s.metrics.UsageRecordsTotal.WithLabelValues("capped").Inc()
			}
			return deductiondomain.DeductResult{}, deductiondomain.ErrCappedAmountExceeded
		}
		s.log.Error("usage record creation failed",
			zap.String("installation_id", req.InstallationID),
			zap.String("operation_id", req.OperationID),
			zap.Error(err))
		return deductiondomain.DeductResult{}, err
	}

	if s.metrics != nil {
		s.metrics.UsageRecordsTotal.WithLabelValues("created").Inc()
	}
	s.countDeduction(deductiondomain.SourceUsageRecord)

	return deductiondomain.DeductResult{
		Source:        deductiondomain.SourceUsageRecord,
		UsageRecordID: recordID,
	}, nil
}

// Refund reverses the exact mutation of the matching deduction. Usage records
// cannot be reversed: that refund is logged only and reported unapplied.
func (s *Service) Refund(ctx context.Context, req deductiondomain.RefundRequest) (deductiondomain.RefundResult, error) {
	if strings.TrimSpace(req.InstallationID) == "" {
		return deductiondomain.RefundResult{}, deductiondomain.ErrInvalidInstallation
	}
	if req.UnitCost <= 0 {
		req.UnitCost = 1
	}

	if req.Source == deductiondomain.SourceUsageRecord {
		s.log.Warn("refund requested against an append-only usage record, not applied",
			zap.String("installation_id", req.InstallationID),
			zap.String("reason", req.Reason))
		s.countRefund(req.Source, false)
		return deductiondomain.RefundResult{Refunded: false, Source: req.Source}, nil
	}

	var result deductiondomain.RefundResult
	err := s.locker.WithInstallationLock(ctx, req.InstallationID, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = s.refundLocked(ctx, req)
		return innerErr
	})
	return result, err
}

func (s *Service) refundLocked(ctx context.Context, req deductiondomain.RefundRequest) (deductiondomain.RefundResult, error) {
	acct, err := s.ledger.Get(ctx, req.InstallationID)
	if err != nil {
		return deductiondomain.RefundResult{}, err
	}

	components := req.Breakdown
	if len(components) == 0 {
		components = []deductiondomain.SourceAmount{{Source: req.Source, Amount: req.UnitCost}}
	}

	// Each component restores its own balance; the shared totals accumulate
	// across components so spanning refunds reverse exactly.
	work := acct
	var creditsBack, usedBack int64
	touched := map[deductiondomain.Source]bool{}
	for _, comp := range components {
		amount := comp.Amount
		if amount <= 0 {
			amount = 1
		}
		switch comp.Source {
		case deductiondomain.SourceTrial:
			work.TrialBalance += amount
			work.TrialUsed = floorZero(work.TrialUsed - amount)
			creditsBack += amount

		case deductiondomain.SourceCoupon:
			work.CouponBalance += amount
			creditsBack += amount
			usedBack += amount

		case deductiondomain.SourcePlan:
			work.PlanBalance += amount
			creditsBack += amount
			usedBack += amount

		case deductiondomain.SourcePurchased:
			work.PurchasedBalance += amount
			creditsBack += amount
			usedBack += amount

		case deductiondomain.SourceOverage:
			policy := s.catalog.Get().Overage
			work.OverageCount = floorZero(work.OverageCount - amount)
			work.OverageAmount = work.OverageAmount.Sub(policy.PerUnit().Mul(intToDecimal(amount)))
			if work.OverageAmount.IsNegative() {
				work.OverageAmount = decimal.Zero
			}

		default:
			return deductiondomain.RefundResult{}, deductiondomain.ErrInvalidSource
		}
		touched[comp.Source] = true
	}

	update := creditledgerdomain.Update{}
	if touched[deductiondomain.SourceTrial] {
		update.TrialBalance = &work.TrialBalance
		update.TrialUsed = &work.TrialUsed
	}
	if touched[deductiondomain.SourceCoupon] {
		update.CouponBalance = &work.CouponBalance
	}
	if touched[deductiondomain.SourcePlan] {
		update.PlanBalance = &work.PlanBalance
	}
	if touched[deductiondomain.SourcePurchased] {
		update.PurchasedBalance = &work.PurchasedBalance
	}
	if touched[deductiondomain.SourceOverage] {
		update.OverageCount = &work.OverageCount
		update.OverageAmount = &work.OverageAmount
	}
	if creditsBack > 0 {
		total := acct.TotalBalance + creditsBack
		update.TotalBalance = &total
	}
	if usedBack > 0 {
		used := floorZero(acct.UsedThisPeriod - usedBack)
		update.UsedThisPeriod = &used
	}

	if err := s.ledger.Apply(ctx, req.InstallationID, update); err != nil {
		return deductiondomain.RefundResult{}, err
	}

	source := req.Source
	if source == "" {
		source = components[0].Source
	}
	s.countRefund(source, true)
	s.log.Info("deduction refunded",
		zap.String("installation_id", req.InstallationID),
		zap.String("source", string(source)),
		zap.Int("components", len(components)),
		zap.String("reason", req.Reason))

	return deductiondomain.RefundResult{Refunded: true, Source: source}, nil
}

// notifyTrialThresholds alerts the shop at 80/90/95/100% trial usage. The
// threshold set is monotonic; alerts are never un-sent. A threshold is only
// recorded after a delivery was attempted, so a crossing seen while no
// provider or contact is configured still alerts later.
func (s *Service) notifyTrialThresholds(ctx context.Context, req deductiondomain.DeductRequest, acct creditledgerdomain.Account) {
	if s.notification == nil || strings.TrimSpace(req.ShopContact) == "" {
		return
	}
	limit := s.catalog.Get().Trial.Credits
	if limit <= 0 {
		return
	}
	pct := int(acct.TrialUsed * 100 / limit)

	sent := acct.NotificationsSent
	changed := false
	for _, threshold := range notification.Thresholds {
		if pct < threshold || acct.HasNotification(threshold) {
			continue
		}
		remaining := floorZero(limit - acct.TrialUsed)
		s.notification.SendTrialThresholdAlert(ctx, req.ShopContact, threshold, acct.TrialUsed, remaining)
		sent = append(sent, threshold)
		changed = true
	}
	if !changed {
		return
	}

	if err := s.ledger.Apply(ctx, req.InstallationID, creditledgerdomain.Update{NotificationsSent: &sent}); err != nil {
		// Notification bookkeeping must not fail the deduction.
		s.log.Warn("failed to persist notification thresholds", zap.Error(err))
	}
}

func (s *Service) countDeduction(source deductiondomain.Source) {
	if s.metrics != nil {
		s.metrics.DeductionsTotal.WithLabelValues(string(source)).Inc()
	}
}

func (s *Service) countRefund(source deductiondomain.Source, applied bool) {
	if s.metrics != nil {
		s.metrics.RefundsTotal.WithLabelValues(string(source), fmt.Sprintf("%t", applied)).Inc()
	}
}

func intToDecimal(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func floorZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
