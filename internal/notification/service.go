// Package notification sends threshold-based trial alerts. Side effect only:
// it holds no ledger authority and its failures never roll back a deduction.
package notification

import (
	"context"
	"fmt"

	"github.com/fitglance/fitglance/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Thresholds are the trial usage percentages that trigger an alert.
var Thresholds = []int{80, 90, 95, 100}

type Service struct {
	provider Provider
	log      *zap.Logger
}

type Params struct {
	fx.In

	Provider Provider
	Log      *zap.Logger
}

func NewService(p Params) *Service {
	return &Service{
		provider: p.Provider,
		log:      p.Log.Named("notification.service"),
	}
}

// SendTrialThresholdAlert is fire-and-forget: delivery failures are logged
// and swallowed.
func (s *Service) SendTrialThresholdAlert(ctx context.Context, contact string, threshold int, used, remaining int64) {
	if contact == "" {
		return
	}

	subject := fmt.Sprintf("You've used %d%% of your free try-on credits", threshold)
	body := fmt.Sprintf(
		"<p>Your store has used %d try-on credits during the trial; %d remain.</p>"+
			"<p>Pick a plan before the trial ends to keep try-on available for your customers.</p>",
		used, remaining)

	if err := s.provider.Send(ctx, []string{contact}, subject, body); err != nil {
		s.log.Warn("trial threshold alert failed",
			zap.String("contact", contact),
			zap.Int("threshold", threshold),
			zap.Error(err))
		return
	}

	s.log.Info("trial threshold alert sent",
		zap.Int("threshold", threshold),
		zap.Int64("used", used))
}

func NewFromConfig(cfg config.Config) Provider {
	if cfg.SMTPHost == "" {
		return &NoOpProvider{}
	}
	return NewSMTP(SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

var Module = fx.Module("notification.service",
	fx.Provide(NewFromConfig),
	fx.Provide(NewService),
)
