// internal/service/inventory/infrastructure/gorm_model.go
package infrastructure

import (
	"time"

	"circuitbay/internal/service/inventory/domain"
)

// ReservationModel 对应 inventory_reservations 表。
type ReservationModel struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	ComponentID string `gorm:"type:varchar(64);index:idx_component_status"`
	OrderID     string `gorm:"type:varchar(36);index"`
	Quantity    int    `gorm:"not null"`
	Status      string `gorm:"type:varchar(16);index:idx_component_status"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ReservationModel) TableName() string { return "inventory_reservations" }

// ComponentStockModel 对应 component_stocks 表。
type ComponentStockModel struct {
	ComponentID string `gorm:"primaryKey;type:varchar(64)"`
	Listed      int    `gorm:"not null"`
	UpdatedAt   time.Time
}

func (ComponentStockModel) TableName() string { return "component_stocks" }

func toReservationModel(r *domain.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:          r.ID,
		ComponentID: r.ComponentID,
		OrderID:     r.OrderID,
		Quantity:    r.Quantity,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toDomainReservation(m *ReservationModel) *domain.Reservation {
	return &domain.Reservation{
		ID:          m.ID,
		ComponentID: m.ComponentID,
		OrderID:     m.OrderID,
		Quantity:    m.Quantity,
		Status:      domain.Status(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
