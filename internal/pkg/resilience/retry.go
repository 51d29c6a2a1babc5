// internal/pkg/resilience/retry.go
package resilience

import (
	"context"
	"errors"
	"time"
)

// Permanent 包装一个不应该被重试的错误（例如网关明确拒绝）。
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// PermanentError 标记 err 为不可重试。
func PermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// RetryPolicy 描述指数退避的重试参数。
type RetryPolicy struct {
	BaseDelay time.Duration // 第一次重试前的等待，之后每次翻倍
	Attempts  int           // 总尝试次数（含第一次）

	sleep func(ctx context.Context, d time.Duration) error // 测试时可替换
}

// DefaultRetryPolicy 是对外部协作方的统一策略：1s/2s/4s，共 4 次尝试。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: time.Second, Attempts: 4}
}

// Do 按策略执行 fn。遇到 Permanent 错误或 ctx 取消立即返回；
// 其余错误按 base*2^n 退避后重试，重试耗尽后返回最后一个错误。
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	delay := p.BaseDelay
	for i := 0; i < p.Attempts; i++ {
		if i > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var perm *Permanent
		if errors.As(lastErr, &perm) {
			return perm.Err
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
