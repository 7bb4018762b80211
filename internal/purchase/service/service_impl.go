package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/fitglance/fitglance/internal/config"
	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	"github.com/fitglance/fitglance/internal/locks"
	"github.com/fitglance/fitglance/internal/plancatalog"
	"github.com/fitglance/fitglance/internal/purchase/domain"
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
	Config  config.Config
	Catalog *plancatalog.Holder
	Repo    domain.Repository
	Ledger  creditledgerdomain.Service
	Billing domain.BillingClient
	Locker  *locks.Locker `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	cfg     config.Config
	catalog *plancatalog.Holder
	repo    domain.Repository
	ledger  creditledgerdomain.Service
	billing domain.BillingClient
	locker  *locks.Locker
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("purchase.service"),
		genID:   p.GenID,
		cfg:     p.Config,
		catalog: p.Catalog,
		repo:    p.Repo,
		ledger:  p.Ledger,
		billing: p.Billing,
		locker:  p.Locker,
	}
}

// Create opens a one-time charge for the pack and records it as pending. No
// credits move until the charge activates.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.CreateResult, error) {
	if strings.TrimSpace(req.InstallationID) == "" {
		return domain.CreateResult{}, domain.ErrInvalidInstallation
	}
	pack, ok := s.catalog.Get().PackByHandle(req.PackHandle)
	if !ok {
		return domain.CreateResult{}, domain.ErrInvalidPack
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = s.cfg.AppURL + "/billing/purchase"
	}

	price := decimal.NewFromFloat(pack.Price)
	resp, err := s.billing.CreateOneTimeCharge(ctx, pack.Name, price, pack.Currency, returnURL)
	if err != nil {
		s.log.Error("credit pack charge failed",
			zap.String("installation_id", req.InstallationID),
			zap.String("pack", pack.Handle),
			zap.Error(err))
		return domain.CreateResult{}, err
	}

	row := domain.Purchase{
		ID:             s.genID.Generate(),
		InstallationID: req.InstallationID,
		PackHandle:     pack.Handle,
		ChargeID:       resp.PurchaseID,
		Credits:        pack.Credits,
		Amount:         price,
		Currency:       pack.Currency,
		Status:         domain.StatusPending,
	}
	if err := s.repo.Create(ctx, s.db, &row); err != nil {
		// The charge exists at the billing API regardless; losing the row
		// loses the credit grant, so this failure is fatal.
		s.log.Error("failed to record pending purchase",
			zap.String("charge_id", resp.PurchaseID),
			zap.Error(err))
		return domain.CreateResult{}, err
	}

	s.log.Info("credit pack purchase created",
		zap.String("installation_id", req.InstallationID),
		zap.String("pack", pack.Handle),
		zap.String("charge_id", resp.PurchaseID))

	return domain.CreateResult{
		ConfirmationURL: resp.ConfirmationURL,
		ChargeID:        resp.PurchaseID,
		Credits:         pack.Credits,
	}, nil
}

// HandlePurchaseUpdate fulfills an approved charge. The pending-to-active row
// transition is the idempotency gate: a replayed webhook finds the row active
// and grants nothing.
func (s *Service) HandlePurchaseUpdate(ctx context.Context, chargeID string, status domain.Status) (domain.FulfillResult, error) {
	if strings.TrimSpace(chargeID) == "" {
		return domain.FulfillResult{}, domain.ErrUnknownCharge
	}

	purchase, err := s.repo.FindByChargeID(ctx, s.db, chargeID)
	if err != nil {
		return domain.FulfillResult{}, err
	}
	if purchase == nil {
		return domain.FulfillResult{}, domain.ErrUnknownCharge
	}

	if status != domain.StatusActive {
		if err := s.repo.UpdateStatus(ctx, s.db, chargeID, status); err != nil {
			return domain.FulfillResult{}, err
		}
		s.log.Info("credit pack purchase not fulfilled",
			zap.String("charge_id", chargeID),
			zap.String("status", string(status)))
		return domain.FulfillResult{}, nil
	}

	var result domain.FulfillResult
	err = s.locker.WithInstallationLock(ctx, purchase.InstallationID, func(ctx context.Context) error {
		granted, innerErr := s.repo.MarkActive(ctx, s.db, chargeID)
		if innerErr != nil {
			return innerErr
		}
		if !granted {
			return nil
		}

		acct, innerErr := s.ledger.Get(ctx, purchase.InstallationID)
		if innerErr != nil {
			return innerErr
		}
		purchased := acct.PurchasedBalance + purchase.Credits
		total := acct.TotalBalance + purchase.Credits
		innerErr = s.ledger.Apply(ctx, purchase.InstallationID, creditledgerdomain.Update{
			PurchasedBalance: &purchased,
			TotalBalance:     &total,
		})
		if innerErr != nil {
			return innerErr
		}

		result = domain.FulfillResult{
			Granted:          true,
			Credits:          purchase.Credits,
			PurchasedBalance: purchased,
			TotalBalance:     total,
		}
		return nil
	})
	if err != nil {
		return domain.FulfillResult{}, err
	}

	if result.Granted {
		s.log.Info("credit pack fulfilled",
			zap.String("installation_id", purchase.InstallationID),
			zap.String("charge_id", chargeID),
			zap.Int64("credits", purchase.Credits))
	}
	return result, nil
}
