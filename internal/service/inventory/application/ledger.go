// internal/service/inventory/application/ledger.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"circuitbay/internal/pkg/logger"
	"circuitbay/internal/pkg/metrics"
	"circuitbay/internal/service/inventory/domain"

	"github.com/google/uuid"
)

// ComponentLocker 为单个元器件提供串行化点。
// 生产环境用 ZooKeeper 分布式锁，测试里用本地互斥锁。
type ComponentLocker interface {
	Lock(ctx context.Context, componentID string) (unlock func(), err error)
}

// ListingSource 提供元器件的目录挂牌量，台账首次见到某个元器件时从这里取数。
type ListingSource interface {
	ListedInventory(ctx context.Context, componentID string) (int, error)
}

// Ledger 是库存预占台账的应用服务。
// check-and-reserve 在元器件级别的锁内完成，排除读后写竞争。
type Ledger struct {
	reservations domain.ReservationStore
	stocks       domain.StockStore
	catalog      domain.CatalogNotifier
	listings     ListingSource
	locker       ComponentLocker
}

func NewLedger(reservations domain.ReservationStore, stocks domain.StockStore, catalog domain.CatalogNotifier, listings ListingSource, locker ComponentLocker) *Ledger {
	return &Ledger{
		reservations: reservations,
		stocks:       stocks,
		catalog:      catalog,
		listings:     listings,
		locker:       locker,
	}
}

// Reserve 原子地检查可用量并创建一条 held 预占。
// 可用量 = 挂牌库存 - sum(held+committed)。不足时整体拒绝，不做部分预占。
func (l *Ledger) Reserve(ctx context.Context, componentID, orderID string, quantity int) (string, error) {
	if quantity <= 0 {
		return "", fmt.Errorf("reserve quantity must be positive, got %d", quantity)
	}

	unlock, err := l.locker.Lock(ctx, componentID)
	if err != nil {
		return "", fmt.Errorf("failed to acquire component lock: %w", err)
	}
	defer unlock()

	stock, err := l.stocks.Get(ctx, componentID)
	if errors.Is(err, domain.ErrUnknownComponent) {
		// 台账首次见到该元器件：从目录拉挂牌量落账后继续（仍在锁内）
		stock, err = l.seedFromListing(ctx, componentID)
	}
	if err != nil {
		return "", err
	}

	active, err := l.reservations.SumActive(ctx, componentID)
	if err != nil {
		return "", err
	}

	available := stock.Listed - active
	if available < quantity {
		metrics.ReservationConflicts.Inc()
		return "", domain.ErrInsufficientInventory
	}

	r := &domain.Reservation{
		ID:          uuid.New().String(),
		ComponentID: componentID,
		OrderID:     orderID,
		Quantity:    quantity,
		Status:      domain.StatusHeld,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := l.reservations.Create(ctx, r); err != nil {
		return "", err
	}

	// 预占打满挂牌量时通知目录服务下架
	if available == quantity {
		l.notifyOutOfStock(ctx, componentID)
	}

	return r.ID, nil
}

// Commit 将预占坐实（held → committed）。对已坐实的记录幂等。
// 可用量不变：committed 预占继续占用额度，直到订单终结。
func (l *Ledger) Commit(ctx context.Context, reservationID string) error {
	r, err := l.reservations.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if r.Status == domain.StatusCommitted {
		return nil
	}
	if err := r.Commit(); err != nil {
		return err
	}
	return l.reservations.Update(ctx, r)
}

// Release 释放预占并归还可用额度（held|committed → released）。幂等。
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	r, err := l.reservations.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if r.Status == domain.StatusReleased {
		return nil
	}

	unlock, err := l.locker.Lock(ctx, r.ComponentID)
	if err != nil {
		return fmt.Errorf("failed to acquire component lock: %w", err)
	}
	defer unlock()

	wasExhausted, err := l.isExhausted(ctx, r.ComponentID)
	if err != nil {
		return err
	}

	if !r.Release() {
		return nil
	}
	if err := l.reservations.Update(ctx, r); err != nil {
		return err
	}

	// 之前售罄、现在有量了，通知目录恢复上架
	if wasExhausted {
		if err := l.catalog.MarkBackInStock(ctx, r.ComponentID); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("component_id", r.ComponentID).Msg("failed to notify catalog of restock")
		}
	}
	return nil
}

// ReleaseByOrder 释放某个订单的全部活跃预占，订单取消或 Saga 补偿时调用。
func (l *Ledger) ReleaseByOrder(ctx context.Context, orderID string) error {
	rs, err := l.reservations.FindActiveByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, r := range rs {
		if err := l.Release(ctx, r.ID); err != nil {
			return err
		}
	}
	return nil
}

// Available 返回某个元器件当前的可预占数量。
func (l *Ledger) Available(ctx context.Context, componentID string) (int, error) {
	stock, err := l.stocks.Get(ctx, componentID)
	if err != nil {
		return 0, err
	}
	active, err := l.reservations.SumActive(ctx, componentID)
	if err != nil {
		return 0, err
	}
	return stock.Listed - active, nil
}

// SyncListing 把目录服务的挂牌库存同步进台账。
func (l *Ledger) SyncListing(ctx context.Context, componentID string, listed int) error {
	return l.stocks.Upsert(ctx, &domain.ComponentStock{
		ComponentID: componentID,
		Listed:      listed,
		UpdatedAt:   time.Now(),
	})
}

func (l *Ledger) seedFromListing(ctx context.Context, componentID string) (*domain.ComponentStock, error) {
	listed, err := l.listings.ListedInventory(ctx, componentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listing for %s: %w", componentID, err)
	}
	if err := l.SyncListing(ctx, componentID, listed); err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().
		Str("component_id", componentID).
		Int("listed", listed).
		Msg("component listing seeded from catalog")
	return l.stocks.Get(ctx, componentID)
}

func (l *Ledger) isExhausted(ctx context.Context, componentID string) (bool, error) {
	available, err := l.Available(ctx, componentID)
	if err != nil {
		return false, err
	}
	return available <= 0, nil
}

func (l *Ledger) notifyOutOfStock(ctx context.Context, componentID string) {
	if err := l.catalog.MarkOutOfStock(ctx, componentID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("component_id", componentID).Msg("failed to notify catalog of stock-out")
	}
}
