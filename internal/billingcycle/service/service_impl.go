package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/fitglance/fitglance/internal/billingcycle/domain"
	"github.com/fitglance/fitglance/internal/clock"
	"github.com/fitglance/fitglance/internal/config"
	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	"github.com/fitglance/fitglance/internal/locks"
	"github.com/fitglance/fitglance/internal/metrics"
	"github.com/fitglance/fitglance/internal/plancatalog"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  config.Config
	Ledger  creditledgerdomain.Service
	Billing billingcycledomain.BillingClient
	Catalog *plancatalog.Holder
	Locker  *locks.Locker    `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	cfg     config.Config
	ledger  creditledgerdomain.Service
	billing billingcycledomain.BillingClient
	catalog *plancatalog.Holder
	locker  *locks.Locker
	metrics *metrics.Metrics
}

func NewService(p Params) billingcycledomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("billingcycle.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		cfg:     p.Config,
		ledger:  p.Ledger,
		billing: p.Billing,
		catalog: p.Catalog,
		locker:  p.Locker,
		metrics: p.Metrics,
	}
}

// CheckPeriodRenewal compares the stored period watermark to the observed
// one. On rollover annual plans settle accumulated overage before the fresh
// allotment is granted; the grant itself is additive, never a reset.
func (s *Service) CheckPeriodRenewal(ctx context.Context, req billingcycledomain.RenewalRequest) (billingcycledomain.RenewalOutcome, error) {
	if strings.TrimSpace(req.InstallationID) == "" {
		return billingcycledomain.RenewalOutcome{}, billingcycledomain.ErrInvalidInstallation
	}
	if req.ObservedPeriodEnd.IsZero() {
		return billingcycledomain.RenewalOutcome{}, billingcycledomain.ErrInvalidPeriodEnd
	}

	var outcome billingcycledomain.RenewalOutcome
	err := s.locker.WithInstallationLock(ctx, req.InstallationID, func(ctx context.Context) error {
		var innerErr error
		outcome, innerErr = s.renewLocked(ctx, req)
		return innerErr
	})
	return outcome, err
}

func (s *Service) renewLocked(ctx context.Context, req billingcycledomain.RenewalRequest) (billingcycledomain.RenewalOutcome, error) {
	acct, err := s.ledger.Get(ctx, req.InstallationID)
	if err != nil {
		return billingcycledomain.RenewalOutcome{}, err
	}

	annual := acct.IsAnnualPlan()
	if req.Annual != nil {
		annual = *req.Annual
	}
	stored := acct.PeriodEnd
	if annual {
		stored = acct.MonthlyPeriodEnd
	}
	if stored != nil && stored.Equal(req.ObservedPeriodEnd) {
		return billingcycledomain.RenewalOutcome{}, nil
	}

	outcome := billingcycledomain.RenewalOutcome{Renewed: true}

	if annual {
		settlement, err := s.settleLocked(ctx, req.InstallationID, acct)
		if err != nil {
			return billingcycledomain.RenewalOutcome{}, err
		}
		outcome.Settlement = &settlement
	}

	markers := creditledgerdomain.PeriodMarkers{IncludedPerPeriod: acct.IncludedPerPeriod}
	if req.Markers != nil {
		markers = *req.Markers
	}
	observed := req.ObservedPeriodEnd
	if annual {
		markers.MonthlyPeriodEnd = &observed
	} else {
		markers.PeriodEnd = &observed
	}

	granted := acct.IncludedPerPeriod
	if req.Markers != nil && req.Markers.IncludedPerPeriod > 0 {
		granted = req.Markers.IncludedPerPeriod
	}
	if err := s.ledger.AddCreditsForPeriod(ctx, req.InstallationID, granted, markers); err != nil {
		return billingcycledomain.RenewalOutcome{}, err
	}
	outcome.GrantedCredits = granted

	s.log.Info("billing period renewed",
		zap.String("installation_id", req.InstallationID),
		zap.Bool("annual", annual),
		zap.Int64("granted", granted),
		zap.Time("period_end", req.ObservedPeriodEnd))

	return outcome, nil
}

// BillAccumulatedOverage settles deferred annual-plan overage via a one-time
// charge, honoring the minimum and maximum chargeable amounts.
func (s *Service) BillAccumulatedOverage(ctx context.Context, installationID string) (billingcycledomain.SettlementResult, error) {
	if strings.TrimSpace(installationID) == "" {
		return billingcycledomain.SettlementResult{}, billingcycledomain.ErrInvalidInstallation
	}

	var result billingcycledomain.SettlementResult
	err := s.locker.WithInstallationLock(ctx, installationID, func(ctx context.Context) error {
		acct, innerErr := s.ledger.Get(ctx, installationID)
		if innerErr != nil {
			return innerErr
		}
		result, innerErr = s.settleLocked(ctx, installationID, acct)
		return innerErr
	})
	return result, err
}

func (s *Service) settleLocked(ctx context.Context, installationID string, acct creditledgerdomain.Account) (billingcycledomain.SettlementResult, error) {
	policy := s.catalog.Get().Overage
	now := s.clock.Now()

	if acct.OverageAmount.IsZero() {
		if err := s.resetCounters(ctx, installationID, now); err != nil {
			return billingcycledomain.SettlementResult{}, err
		}
		return billingcycledomain.SettlementResult{Outcome: billingcycledomain.OutcomeNoCharge}, nil
	}

	if acct.OverageAmount.LessThan(policy.Min()) {
		// Too small to bill this cycle; the amount carries to the next
		// period, counters untouched.
		s.log.Info("overage below minimum chargeable amount, deferred",
			zap.String("installation_id", installationID),
			zap.String("amount", acct.OverageAmount.String()))
		return billingcycledomain.SettlementResult{
			Outcome:       billingcycledomain.OutcomeBelowMinimum,
			ChargedAmount: decimal.Zero,
		}, nil
	}

	charge := acct.OverageAmount.Round(2)
	cappedExcess := decimal.Zero
	outcome := billingcycledomain.OutcomeCharged
	if charge.GreaterThan(policy.Max()) {
		// Amount beyond the ceiling is forgiven, not carried over.
		cappedExcess = charge.Sub(policy.Max())
		charge = policy.Max()
		outcome = billingcycledomain.OutcomeCapped
		if s.metrics != nil {
			s.metrics.OverageCappedTotal.Inc()
		}
		s.log.Warn("overage settlement capped at maximum chargeable amount",
			zap.String("installation_id", installationID),
			zap.String("charged", charge.String()),
			zap.String("capped_excess", cappedExcess.String()))
	}

	resp, err := s.billing.CreateOneTimeCharge(ctx, "Try-on overage settlement", charge, policy.Currency, s.cfg.AppURL+"/billing/overage")
	if err != nil {
		s.log.Error("overage settlement charge failed",
			zap.String("installation_id", installationID),
			zap.String("amount", charge.String()),
			zap.Error(err))
		return billingcycledomain.SettlementResult{}, err
	}

	// Counters reset only after the charge exists.
	if err := s.resetCounters(ctx, installationID, now); err != nil {
		return billingcycledomain.SettlementResult{}, err
	}
	if s.metrics != nil {
		s.metrics.OverageBilledTotal.Inc()
	}

	s.recordSettlement(ctx, billingcycledomain.OverageSettlement{
		ID:             s.genID.Generate(),
		InstallationID: installationID,
		PurchaseID:     resp.PurchaseID,
		Outcome:        outcome,
		UnitCount:      acct.OverageCount,
		Amount:         charge,
		CappedExcess:   cappedExcess,
		Currency:       policy.Currency,
		SettledAt:      now,
	})

	return billingcycledomain.SettlementResult{
		Outcome:         outcome,
		ChargedAmount:   charge,
		CappedExcess:    cappedExcess,
		ConfirmationURL: resp.ConfirmationURL,
		PurchaseID:      resp.PurchaseID,
	}, nil
}

func (s *Service) resetCounters(ctx context.Context, installationID string, now time.Time) error {
	zeroCount := int64(0)
	zeroAmount := decimal.Zero
	return s.ledger.Apply(ctx, installationID, creditledgerdomain.Update{
		OverageCount:      &zeroCount,
		OverageAmount:     &zeroAmount,
		LastOverageBilled: &now,
	})
}

func (s *Service) recordSettlement(ctx context.Context, row billingcycledomain.OverageSettlement) {
	if s.db == nil {
		return
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		// Reporting only; the ledger already reflects the settlement.
		s.log.Warn("failed to record overage settlement", zap.Error(err))
	}
}
