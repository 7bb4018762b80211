package domain

import (
	"context"
	"errors"

	"github.com/fitglance/fitglance/internal/shopify"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CreateRequest struct {
	InstallationID string
	PackHandle     string
	ReturnURL      string
}

// CreateResult carries the confirmation URL the merchant must visit to
// approve the charge; credits land only after the purchase webhook.
type CreateResult struct {
	ConfirmationURL string `json:"confirmationUrl"`
	ChargeID        string `json:"chargeId"`
	Credits         int64  `json:"credits"`
}

// FulfillResult reports the grant applied by a purchase status update.
type FulfillResult struct {
	Granted          bool  `json:"granted"`
	Credits          int64 `json:"credits"`
	PurchasedBalance int64 `json:"purchasedBalance"`
	TotalBalance     int64 `json:"totalBalance"`
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, purchase *Purchase) error
	FindByChargeID(ctx context.Context, db *gorm.DB, chargeID string) (*Purchase, error)
	// MarkActive transitions PENDING to ACTIVE; reports false when the row was
	// already past pending, making fulfillment replay-safe.
	MarkActive(ctx context.Context, db *gorm.DB, chargeID string) (bool, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, chargeID string, status Status) error
}

// BillingClient is the slice of the billing API used for pack charges.
type BillingClient interface {
	CreateOneTimeCharge(ctx context.Context, name string, amount decimal.Decimal, currency, returnURL string) (*shopify.OneTimeChargeResponse, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (CreateResult, error)
	// HandlePurchaseUpdate processes the one-time purchase webhook. Only the
	// first ACTIVE update grants credits; replays and declines are no-ops on
	// the ledger.
	HandlePurchaseUpdate(ctx context.Context, chargeID string, status Status) (FulfillResult, error)
}

var (
	ErrInvalidInstallation = errors.New("invalid_installation")
	ErrInvalidPack         = errors.New("invalid_pack")
	ErrUnknownCharge       = errors.New("unknown_charge")
)
