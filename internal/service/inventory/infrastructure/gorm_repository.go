// internal/service/inventory/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"circuitbay/internal/service/inventory/domain"

	"gorm.io/gorm"
)

// GormReservationStore 是 domain.ReservationStore 的 GORM 实现。
type GormReservationStore struct {
	db *gorm.DB
}

func NewGormReservationStore(db *gorm.DB) (*GormReservationStore, error) {
	if err := db.AutoMigrate(&ReservationModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate reservations table: %w", err)
	}
	return &GormReservationStore{db: db}, nil
}

func (s *GormReservationStore) Create(ctx context.Context, r *domain.Reservation) error {
	return s.db.WithContext(ctx).Create(toReservationModel(r)).Error
}

func (s *GormReservationStore) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	var m ReservationModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, err
	}
	return toDomainReservation(&m), nil
}

func (s *GormReservationStore) Update(ctx context.Context, r *domain.Reservation) error {
	return s.db.WithContext(ctx).Model(&ReservationModel{}).
		Where("id = ?", r.ID).
		Updates(map[string]interface{}{
			"status":     string(r.Status),
			"updated_at": r.UpdatedAt,
		}).Error
}

func (s *GormReservationStore) SumActive(ctx context.Context, componentID string) (int, error) {
	var sum int64
	err := s.db.WithContext(ctx).Model(&ReservationModel{}).
		Where("component_id = ? AND status IN ?", componentID,
			[]string{string(domain.StatusHeld), string(domain.StatusCommitted)}).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&sum).Error
	return int(sum), err
}

func (s *GormReservationStore) FindActiveByOrder(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	var models []ReservationModel
	err := s.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID,
			[]string{string(domain.StatusHeld), string(domain.StatusCommitted)}).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Reservation, 0, len(models))
	for i := range models {
		out = append(out, toDomainReservation(&models[i]))
	}
	return out, nil
}

// GormStockStore 是 domain.StockStore 的 GORM 实现。
type GormStockStore struct {
	db *gorm.DB
}

func NewGormStockStore(db *gorm.DB) (*GormStockStore, error) {
	if err := db.AutoMigrate(&ComponentStockModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate component stocks table: %w", err)
	}
	return &GormStockStore{db: db}, nil
}

func (s *GormStockStore) Get(ctx context.Context, componentID string) (*domain.ComponentStock, error) {
	var m ComponentStockModel
	err := s.db.WithContext(ctx).Where("component_id = ?", componentID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUnknownComponent
		}
		return nil, err
	}
	return &domain.ComponentStock{ComponentID: m.ComponentID, Listed: m.Listed, UpdatedAt: m.UpdatedAt}, nil
}

func (s *GormStockStore) Upsert(ctx context.Context, stock *domain.ComponentStock) error {
	m := ComponentStockModel{
		ComponentID: stock.ComponentID,
		Listed:      stock.Listed,
		UpdatedAt:   time.Now(),
	}
	return s.db.WithContext(ctx).Save(&m).Error
}
