package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// RedeemRequest applies a coupon to the installation's ledger.
type RedeemRequest struct {
	InstallationID string
	Code           string
}

// RedeemResult reports the granted credits and resulting balances.
type RedeemResult struct {
	Code           string `json:"code"`
	CreditsGranted int64  `json:"creditsGranted"`
	CouponBalance  int64  `json:"couponBalance"`
	TotalBalance   int64  `json:"totalBalance"`
}

type Repository interface {
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Coupon, error)
	CreateRedemption(ctx context.Context, db *gorm.DB, redemption *Redemption) error
}

type Service interface {
	// Validate checks the coupon against the catalog and the installation's
	// redemption history without writing anything.
	Validate(ctx context.Context, installationID, code string) (*Coupon, error)
	Redeem(ctx context.Context, req RedeemRequest) (RedeemResult, error)
}

var (
	ErrInvalidInstallation = errors.New("invalid_installation")
	ErrInvalidCode         = errors.New("invalid_code")
	ErrInactiveCode        = errors.New("inactive_code")
	ErrExpiredCode         = errors.New("expired_code")
	ErrUsageLimitExceeded  = errors.New("usage_limit_exceeded")
	ErrRedemptionFailed    = errors.New("redemption_failed")
)
