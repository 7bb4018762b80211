package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fitglance/fitglance/internal/clock"
	"github.com/fitglance/fitglance/internal/coupon/domain"
	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	"github.com/fitglance/fitglance/internal/locks"
	"github.com/fitglance/fitglance/internal/metrics"
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
	Repo    domain.Repository
	Ledger  creditledgerdomain.Service
	Locker  *locks.Locker    `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	ledger  creditledgerdomain.Service
	locker  *locks.Locker
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("coupon.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		ledger:  p.Ledger,
		locker:  p.Locker,
		metrics: p.Metrics,
	}
}

// Validate resolves the code and checks activity, expiry and the per-shop
// redemption limit, in that order. It never mutates the ledger.
func (s *Service) Validate(ctx context.Context, installationID, code string) (*domain.Coupon, error) {
	if strings.TrimSpace(installationID) == "" {
		return nil, domain.ErrInvalidInstallation
	}
	if strings.TrimSpace(code) == "" {
		return nil, domain.ErrInvalidCode
	}

	coupon, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, domain.ErrInvalidCode
	}
	if !coupon.Active {
		return nil, domain.ErrInactiveCode
	}
	if coupon.ExpiresAt != nil && !s.clock.Now().Before(*coupon.ExpiresAt) {
		return nil, domain.ErrExpiredCode
	}

	acct, err := s.ledger.Get(ctx, installationID)
	if err != nil {
		return nil, err
	}
	limit := coupon.MaxPerShop
	if limit <= 0 {
		limit = 1
	}
	if acct.RedemptionCount(coupon.Code) >= limit {
		return nil, domain.ErrUsageLimitExceeded
	}
	return coupon, nil
}

// Redeem validates the coupon, then credits the ledger in one write: coupon
// balance, total balance and the appended redemption entry land together, so
// a failed write grants nothing and counts nothing.
func (s *Service) Redeem(ctx context.Context, req domain.RedeemRequest) (domain.RedeemResult, error) {
	var result domain.RedeemResult
	err := s.locker.WithInstallationLock(ctx, req.InstallationID, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = s.redeemLocked(ctx, req)
		return innerErr
	})
	return result, err
}

func (s *Service) redeemLocked(ctx context.Context, req domain.RedeemRequest) (domain.RedeemResult, error) {
	coupon, err := s.Validate(ctx, req.InstallationID, req.Code)
	if err != nil {
		return domain.RedeemResult{}, err
	}

	acct, err := s.ledger.Get(ctx, req.InstallationID)
	if err != nil {
		return domain.RedeemResult{}, err
	}

	now := s.clock.Now()
	couponBalance := acct.CouponBalance + coupon.Credits
	totalBalance := acct.TotalBalance + coupon.Credits
	redemptions := append(acct.CouponRedemptions, creditledgerdomain.CouponRedemption{
		Code:       coupon.Code,
		Credits:    coupon.Credits,
		RedeemedAt: now,
	})

	update := creditledgerdomain.Update{
		CouponBalance:     &couponBalance,
		TotalBalance:      &totalBalance,
		CouponRedemptions: &redemptions,
	}
	if err := s.ledger.Apply(ctx, req.InstallationID, update); err != nil {
		s.log.Error("coupon redemption write failed",
			zap.String("installation_id", req.InstallationID),
			zap.String("code", coupon.Code),
			zap.Error(err))
		return domain.RedeemResult{}, domain.ErrRedemptionFailed
	}

	if s.metrics != nil {
		s.metrics.CouponRedeemedTotal.Inc()
	}
	s.recordRedemption(ctx, coupon, req.InstallationID, now)

	s.log.Info("coupon redeemed",
		zap.String("installation_id", req.InstallationID),
		zap.String("code", coupon.Code),
		zap.Int64("credits", coupon.Credits))

	return domain.RedeemResult{
		Code:           coupon.Code,
		CreditsGranted: coupon.Credits,
		CouponBalance:  couponBalance,
		TotalBalance:   totalBalance,
	}, nil
}

func (s *Service) recordRedemption(ctx context.Context, coupon *domain.Coupon, installationID string, now time.Time) {
	if s.db == nil {
		return
	}
	row := domain.Redemption{
		ID:             s.genID.Generate(),
		CouponID:       coupon.ID,
		Code:           coupon.Code,
		InstallationID: installationID,
		Credits:        coupon.Credits,
		RedeemedAt:     now,
	}
	if err := s.repo.CreateRedemption(ctx, s.db, &row); err != nil {
		// Reporting only; the ledger's redemption list is authoritative.
		s.log.Warn("failed to record coupon redemption", zap.Error(err))
	}
}
