// internal/service/inventory/domain/repository.go
package domain

import "context"

// ReservationStore 是预占记录的持久化接口，由基础设施层实现。
type ReservationStore interface {
	Create(ctx context.Context, r *Reservation) error
	Get(ctx context.Context, id string) (*Reservation, error)
	Update(ctx context.Context, r *Reservation) error

	// SumActive 返回某个元器件上 held+committed 预占的数量总和。
	SumActive(ctx context.Context, componentID string) (int, error)

	// FindActiveByOrder 返回某个订单的全部活跃预占，Saga 补偿时用。
	FindActiveByOrder(ctx context.Context, orderID string) ([]*Reservation, error)
}

// StockStore 维护各元器件的挂牌库存量。
type StockStore interface {
	Get(ctx context.Context, componentID string) (*ComponentStock, error)
	Upsert(ctx context.Context, stock *ComponentStock) error
}

// CatalogNotifier 是对目录服务的出站端口：库存售罄/恢复时通知对方。
// 通知失败不阻塞库存操作，只记日志。
type CatalogNotifier interface {
	MarkOutOfStock(ctx context.Context, componentID string) error
	MarkBackInStock(ctx context.Context, componentID string) error
}
