// internal/service/payment/infrastructure/redis_dedup.go
package infrastructure

import (
	"context"
	"time"

	"circuitbay/internal/pkg/redis"

	"github.com/pkg/errors"
)

const callbackDedupTTL = 48 * time.Hour

// RedisCallbackDeduper 登记已经落账的网关回调。
// 键在回调成功应用之后写入，保留 48 小时，覆盖网关的最长重投窗口；
// 键还没写入时的重复投递由支付状态机挡掉。
type RedisCallbackDeduper struct {
	client *redis.Client
}

func NewRedisCallbackDeduper(client *redis.Client) *RedisCallbackDeduper {
	return &RedisCallbackDeduper{client: client}
}

// AlreadyApplied 该 gatewayTxID 的回调是否已经成功落账。
func (d *RedisCallbackDeduper) AlreadyApplied(ctx context.Context, gatewayTxID string) (bool, error) {
	n, err := d.client.GetClient().Exists(ctx, "cb:"+gatewayTxID).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to check callback dedup key")
	}
	return n > 0, nil
}

// MarkApplied 回调落账后登记去重键。
func (d *RedisCallbackDeduper) MarkApplied(ctx context.Context, gatewayTxID string) error {
	err := d.client.GetClient().Set(ctx, "cb:"+gatewayTxID, "1", callbackDedupTTL).Err()
	return errors.Wrap(err, "failed to mark callback dedup key")
}
