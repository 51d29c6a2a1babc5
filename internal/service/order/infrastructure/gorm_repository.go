// internal/service/order/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"circuitbay/internal/service/order/domain"

	"gorm.io/gorm"
)

// OrderModel 对应 orders 表。
// Seq 是自增列，订单号 CB-<seq> 由它格式化得到，单调递增。
// 物流和类型展开为 shipped_at 可空列 + 承运商/运单字段。
type OrderModel struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	Seq         int64  `gorm:"autoIncrement;uniqueIndex"`
	OrderNumber string `gorm:"type:varchar(24);uniqueIndex"`
	BuyerID     string `gorm:"type:varchar(36);index"`
	SellerID    string `gorm:"type:varchar(36);index"`
	ComponentID string `gorm:"type:varchar(36);index"`

	Quantity       int64
	UnitPriceMinor int64
	TaxMinor       int64
	TotalMinor     int64
	IsBulkOrder    bool
	QuoteID        string `gorm:"type:varchar(36)"`

	AddressJSON  string `gorm:"type:varchar(512)"`
	Status       string `gorm:"type:varchar(16);index"`
	CancelReason string `gorm:"type:varchar(255)"`

	Carrier        string `gorm:"type:varchar(64)"`
	TrackingNumber string `gorm:"type:varchar(64)"`
	ShippedAt      *time.Time

	HistoryJSON string `gorm:"type:text"`
	Version     int64  `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (OrderModel) TableName() string { return "orders" }

func toOrderModel(o *domain.Order) (*OrderModel, error) {
	addr, err := json.Marshal(o.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal address: %w", err)
	}
	history, err := json.Marshal(o.History)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status history: %w", err)
	}

	m := &OrderModel{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		BuyerID:        o.BuyerID,
		SellerID:       o.SellerID,
		ComponentID:    o.ComponentID,
		Quantity:       o.Quantity,
		UnitPriceMinor: o.UnitPriceMinor,
		TaxMinor:       o.TaxMinor,
		TotalMinor:     o.TotalMinor,
		IsBulkOrder:    o.IsBulkOrder,
		QuoteID:        o.QuoteID,
		AddressJSON:    string(addr),
		Status:         string(o.Status),
		CancelReason:   o.CancelReason,
		HistoryJSON:    string(history),
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if shipped, ok := o.Shipment.(domain.Shipped); ok {
		at := shipped.ShippedAt
		m.Carrier = shipped.Carrier
		m.TrackingNumber = shipped.TrackingNumber
		m.ShippedAt = &at
	}
	return m, nil
}

func toDomainOrder(m *OrderModel) (*domain.Order, error) {
	var addr domain.Address
	if err := json.Unmarshal([]byte(m.AddressJSON), &addr); err != nil {
		return nil, fmt.Errorf("corrupt address for order %s: %w", m.ID, err)
	}
	var history []domain.StatusChange
	if m.HistoryJSON != "" {
		if err := json.Unmarshal([]byte(m.HistoryJSON), &history); err != nil {
			return nil, fmt.Errorf("corrupt status history for order %s: %w", m.ID, err)
		}
	}

	var shipment domain.Shipment = domain.NotShipped{}
	if m.ShippedAt != nil {
		if m.TrackingNumber == "" {
			return nil, fmt.Errorf("order %s has a shipped_at but no tracking number", m.ID)
		}
		shipment = domain.Shipped{
			Carrier:        m.Carrier,
			TrackingNumber: m.TrackingNumber,
			ShippedAt:      *m.ShippedAt,
		}
	}

	return &domain.Order{
		ID:             m.ID,
		OrderNumber:    m.OrderNumber,
		BuyerID:        m.BuyerID,
		SellerID:       m.SellerID,
		ComponentID:    m.ComponentID,
		Quantity:       m.Quantity,
		UnitPriceMinor: m.UnitPriceMinor,
		TaxMinor:       m.TaxMinor,
		TotalMinor:     m.TotalMinor,
		IsBulkOrder:    m.IsBulkOrder,
		QuoteID:        m.QuoteID,
		Address:        addr,
		Status:         domain.Status(m.Status),
		CancelReason:   m.CancelReason,
		Shipment:       shipment,
		History:        history,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

// GormOrderRepository 是 OrderRepository 的 MySQL 实现。
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) (*GormOrderRepository, error) {
	if err := db.AutoMigrate(&OrderModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate orders table: %w", err)
	}
	return &GormOrderRepository{db: db}, nil
}

// Create 在一个事务里落库并分配订单号：
// 先插入拿到自增 Seq，再把 CB-<seq> 写回订单号列。
func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	m, err := toOrderModel(order)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		m.OrderNumber = fmt.Sprintf("CB-%06d", m.Seq)
		return tx.Model(&OrderModel{}).Where("id = ?", m.ID).
			Update("order_number", m.OrderNumber).Error
	})
	if err != nil {
		return err
	}

	order.OrderNumber = m.OrderNumber
	return nil
}

func (r *GormOrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	var m OrderModel
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainOrder(&m)
}

// Update 带乐观锁写回：WHERE id AND version，零行即并发冲突，
// 调用方必须重读后重试，绝不静默覆盖。
func (r *GormOrderRepository) Update(ctx context.Context, order *domain.Order) error {
	m, err := toOrderModel(order)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]interface{}{
			"status":          m.Status,
			"cancel_reason":   m.CancelReason,
			"carrier":         m.Carrier,
			"tracking_number": m.TrackingNumber,
			"shipped_at":      m.ShippedAt,
			"history_json":    m.HistoryJSON,
			"version":         order.Version + 1,
			"updated_at":      m.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentModification
	}
	order.Version++
	return nil
}
