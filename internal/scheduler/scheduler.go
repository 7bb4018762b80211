// Package scheduler runs the periodic billing jobs that have no webhook
// trigger: annual plans roll their credit month on the calendar, and the
// billing API sends nothing when that happens.
package scheduler

import (
	"context"
	"time"

	billingcycledomain "github.com/fitglance/fitglance/internal/billingcycle/domain"
	"github.com/fitglance/fitglance/internal/clock"
	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Clock  clock.Clock
	Ledger creditledgerdomain.Service
	Cycle  billingcycledomain.Service
	Store  creditledgerdomain.StoreClient
	Config Config `optional:"true"`
}

type Scheduler struct {
	log    *zap.Logger
	cfg    Config
	clock  clock.Clock
	ledger creditledgerdomain.Service
	cycle  billingcycledomain.Service
	store  creditledgerdomain.StoreClient
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Ledger == nil || p.Cycle == nil || p.Store == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:    p.Log.Named("scheduler"),
		cfg:    p.Config.withDefaults(),
		clock:  p.Clock,
		ledger: p.Ledger,
		cycle:  p.Cycle,
		store:  p.Store,
	}, nil
}

// RunMonthlyRollover checks the installation's annual-plan month boundary and
// settles plus re-grants when it has passed. Monthly plans are skipped; their
// rollover arrives through the subscription webhook.
func (s *Scheduler) RunMonthlyRollover(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	installationID, err := s.store.InstallationID(ctx)
	if err != nil {
		return err
	}

	acct, err := s.ledger.Get(ctx, installationID)
	if err != nil {
		return err
	}
	if !acct.IsAnnualPlan() {
		return nil
	}

	now := s.clock.Now()
	if acct.MonthlyPeriodEnd != nil && now.Before(*acct.MonthlyPeriodEnd) {
		return nil
	}

	observed := firstOfNextMonth(now)
	outcome, err := s.cycle.CheckPeriodRenewal(ctx, billingcycledomain.RenewalRequest{
		InstallationID:    installationID,
		ObservedPeriodEnd: observed,
	})
	if err != nil {
		s.log.Error("monthly rollover failed",
			zap.String("installation_id", installationID),
			zap.Error(err))
		return err
	}
	if outcome.Renewed {
		s.log.Info("annual plan month rolled over",
			zap.String("installation_id", installationID),
			zap.Int64("granted", outcome.GrantedCredits),
			zap.Time("next_period_end", observed))
	}
	return nil
}

func firstOfNextMonth(now time.Time) time.Time {
	year, month, _ := now.UTC().Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

func run(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(s.cfg.Interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if err := s.RunMonthlyRollover(ctx); err != nil {
							s.log.Warn("rollover sweep failed, will retry", zap.Error(err))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
