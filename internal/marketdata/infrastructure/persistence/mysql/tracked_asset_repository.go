// Package mysql persists the market data watch list.
package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/avkuzmin/cryptofolio/internal/marketdata/domain"
	"github.com/avkuzmin/cryptofolio/pkg/db"
)

type TrackedAssetRepository struct {
	db *db.DB
}

func NewTrackedAssetRepository(database *db.DB) *TrackedAssetRepository {
	return &TrackedAssetRepository{db: database}
}

func (r *TrackedAssetRepository) Create(ctx context.Context, a *domain.TrackedAsset) (uint64, error) {
	var existing domain.TrackedAsset
	err := r.db.WithContext(ctx).Where("name = ?", a.Name).First(&existing).Error
	if err == nil {
		return 0, domain.ErrTrackedAssetExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return 0, err
	}
	return a.ID, nil
}

func (r *TrackedAssetRepository) GetByName(ctx context.Context, name string) (*domain.TrackedAsset, error) {
	var a domain.TrackedAsset
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTrackedAssetNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *TrackedAssetRepository) List(ctx context.Context) ([]domain.TrackedAsset, error) {
	var assets []domain.TrackedAsset
	err := r.db.WithContext(ctx).Order("id").Find(&assets).Error
	return assets, err
}

func (r *TrackedAssetRepository) Delete(ctx context.Context, id uint64) error {
	result := r.db.WithContext(ctx).Delete(&domain.TrackedAsset{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrTrackedAssetNotFound
	}
	return nil
}
