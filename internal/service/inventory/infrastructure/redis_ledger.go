// internal/service/inventory/infrastructure/redis_ledger.go
package infrastructure

import (
	"context"
	"fmt"
	"strings"

	"circuitbay/internal/pkg/logger"
	"circuitbay/internal/pkg/metrics"
	"circuitbay/internal/pkg/redis"
	"circuitbay/internal/service/inventory/domain"

	"github.com/google/uuid"
)

const (
	reserveScriptName = "inventory_reserve"
	commitScriptName  = "inventory_commit"
	releaseScriptName = "inventory_release"
)

// RedisLedger 是库存台账的 Redis 实现。
// check-and-reserve 由单个 Lua 脚本完成，天然是元器件级别的串行化点，
// 适合抢购场景下替代 SQL + 分布式锁的路径。
type RedisLedger struct {
	client  *redis.Client
	catalog domain.CatalogNotifier
}

// NewRedisLedger 创建适配器并加载全部 Lua 脚本。
func NewRedisLedger(client *redis.Client, catalog domain.CatalogNotifier) (*RedisLedger, error) {
	for name, content := range map[string]string{
		reserveScriptName: reserveScript,
		commitScriptName:  commitScript,
		releaseScriptName: releaseScript,
	} {
		if err := client.LoadScriptFromContent(name, content); err != nil {
			return nil, fmt.Errorf("failed to load inventory script %s: %w", name, err)
		}
	}
	return &RedisLedger{client: client, catalog: catalog}, nil
}

// 两类键共用 {componentID} 哈希标签，保证同一元器件的库存计数
// 和预占记录落在同一个 Cluster slot，脚本才能跨键原子操作。
func stockKey(componentID string) string {
	return fmt.Sprintf("inv:stock:{%s}", componentID)
}

func reservationKey(componentID, token string) string {
	return fmt.Sprintf("inv:res:{%s}:%s", componentID, token)
}

// splitReservationID 拆出预占号里嵌的元器件 ID，Commit/Release 靠它重建键。
func splitReservationID(reservationID string) (componentID, token string, err error) {
	i := strings.LastIndex(reservationID, ":")
	if i <= 0 || i == len(reservationID)-1 {
		return "", "", fmt.Errorf("malformed reservation id %q", reservationID)
	}
	return reservationID[:i], reservationID[i+1:], nil
}

// Reserve 原子地检查可用量并登记一条 held 预占。
// 返回的预占号形如 <componentID>:<token>，元器件 ID 内嵌其中。
func (r *RedisLedger) Reserve(ctx context.Context, componentID, orderID string, quantity int) (string, error) {
	token := uuid.New().String()
	reservationID := componentID + ":" + token
	keys := []string{stockKey(componentID), reservationKey(componentID, token)}
	result, err := r.client.RunScript(ctx, reserveScriptName, keys, quantity, componentID, orderID)
	if err != nil {
		return "", fmt.Errorf("inventory reserve script failed: %w", err)
	}

	remaining, ok := result.(int64)
	if !ok {
		return "", fmt.Errorf("unexpected result type from reserve script: %T", result)
	}
	if remaining < 0 {
		metrics.ReservationConflicts.Inc()
		return "", domain.ErrInsufficientInventory
	}

	if remaining == 0 {
		if err := r.catalog.MarkOutOfStock(ctx, componentID); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("component_id", componentID).Msg("failed to notify catalog of stock-out")
		}
	}
	return reservationID, nil
}

// Commit 坐实预占。幂等。
func (r *RedisLedger) Commit(ctx context.Context, reservationID string) error {
	componentID, token, err := splitReservationID(reservationID)
	if err != nil {
		return err
	}
	result, err := r.client.RunScript(ctx, commitScriptName, []string{reservationKey(componentID, token)})
	if err != nil {
		return fmt.Errorf("inventory commit script failed: %w", err)
	}
	switch result.(int64) {
	case 1:
		return nil
	case -1:
		return domain.ErrReservationNotFound
	case -2:
		return domain.ErrReservationReleased
	default:
		return fmt.Errorf("unknown result code from commit script: %v", result)
	}
}

// Release 释放预占并归还可用量。幂等。
func (r *RedisLedger) Release(ctx context.Context, reservationID string) error {
	componentID, token, err := splitReservationID(reservationID)
	if err != nil {
		return err
	}
	keys := []string{reservationKey(componentID, token), stockKey(componentID)}
	result, err := r.client.RunScript(ctx, releaseScriptName, keys)
	if err != nil {
		return fmt.Errorf("inventory release script failed: %w", err)
	}
	code, ok := result.(int64)
	if !ok {
		return fmt.Errorf("unexpected result type from release script: %T", result)
	}
	switch code {
	case -1:
		return domain.ErrReservationNotFound
	case -2:
		return nil // 已释放，幂等空操作
	case 1:
		// 释放让库存从售罄恢复，通知目录重新上架
		if nerr := r.catalog.MarkBackInStock(ctx, componentID); nerr != nil {
			logger.Ctx(ctx).Warn().Err(nerr).Str("component_id", componentID).Msg("failed to notify catalog of restock")
		}
		return nil
	default:
		return nil
	}
}

// PrepareStock （管理用）初始化某个元器件的可用库存。
func (r *RedisLedger) PrepareStock(ctx context.Context, componentID string, available int) error {
	return r.client.GetClient().Set(ctx, stockKey(componentID), available, 0).Err()
}

var reserveScript = `
-- KEYS[1]: 可用库存, 例如 inv:stock:{comp-123}
-- KEYS[2]: 预占记录 hash, 例如 inv:res:<uuid>
-- ARGV[1]: 预占数量
-- ARGV[2]: 元器件 ID
-- ARGV[3]: 订单 ID

local qty = tonumber(ARGV[1])
local stock = tonumber(redis.call('get', KEYS[1]))

if not stock or stock < qty then
    return -1
end

redis.call('decrby', KEYS[1], qty)
redis.call('hset', KEYS[2],
    'component', ARGV[2],
    'order', ARGV[3],
    'qty', qty,
    'status', 'held')
return stock - qty
`

var commitScript = `
-- KEYS[1]: 预占记录 hash

local status = redis.call('hget', KEYS[1], 'status')
if not status then
    return -1
end
if status == 'committed' then
    return 1
end
if status == 'released' then
    return -2
end
redis.call('hset', KEYS[1], 'status', 'committed')
return 1
`

var releaseScript = `
-- KEYS[1]: 预占记录 hash
-- KEYS[2]: 可用库存（与 KEYS[1] 同一哈希标签，Cluster 下同 slot）
-- 返回: -1 未找到, -2 已释放(幂等), 1 库存从售罄恢复, 2 正常释放

local status = redis.call('hget', KEYS[1], 'status')
if not status then
    return -1
end
if status == 'released' then
    return -2
end

local qty = tonumber(redis.call('hget', KEYS[1], 'qty'))

local before = tonumber(redis.call('get', KEYS[2])) or 0
redis.call('incrby', KEYS[2], qty)
redis.call('hset', KEYS[1], 'status', 'released')

if before == 0 then
    return 1
end
return 2
`
