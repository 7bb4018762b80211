package repository

import (
	"context"
	"errors"

	"github.com/fitglance/fitglance/internal/purchase/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, purchase *domain.Purchase) error {
	return db.WithContext(ctx).Create(purchase).Error
}

func (r *repo) FindByChargeID(ctx context.Context, db *gorm.DB, chargeID string) (*domain.Purchase, error) {
	var p domain.Purchase
	err := db.WithContext(ctx).
		Where("charge_id = ?", chargeID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repo) MarkActive(ctx context.Context, db *gorm.DB, chargeID string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Purchase{}).
		Where("charge_id = ? AND status = ?", chargeID, domain.StatusPending).
		Updates(map[string]any{
			"status":       domain.StatusActive,
			"completed_at": gorm.Expr("CURRENT_TIMESTAMP"),
			"updated_at":   gorm.Expr("CURRENT_TIMESTAMP"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, chargeID string, status domain.Status) error {
	return db.WithContext(ctx).
		Model(&domain.Purchase{}).
		Where("charge_id = ?", chargeID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}).Error
}
