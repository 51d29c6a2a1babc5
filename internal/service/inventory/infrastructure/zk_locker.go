// internal/service/inventory/infrastructure/zk_locker.go
package infrastructure

import (
	"context"

	"circuitbay/internal/pkg/logger"
	"circuitbay/internal/pkg/zookeeper"
)

// ZkComponentLocker 用 ZooKeeper 分布式锁实现 application.ComponentLocker。
// 多实例部署时，同一元器件的 check-and-reserve 在集群范围内串行。
type ZkComponentLocker struct {
	conn *zookeeper.Conn
}

func NewZkComponentLocker(conn *zookeeper.Conn) *ZkComponentLocker {
	return &ZkComponentLocker{conn: conn}
}

func (z *ZkComponentLocker) Lock(ctx context.Context, componentID string) (func(), error) {
	lock, err := zookeeper.NewResourceLock(z.conn, "component-"+componentID)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("component_id", componentID).Msg("failed to release component lock")
		}
	}, nil
}
