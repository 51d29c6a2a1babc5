// internal/pkg/resilience/breaker.go
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen 表示熔断器处于打开状态，调用被直接短路。
// 编排器看到这个错误时会把受影响的 Saga 延迟重试，而不是判定为永久失败。
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState 是熔断器的三种状态。
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreaker 针对单个外部协作方（支付网关、通知服务）的熔断器。
// 连续失败达到阈值后打开，冷却窗口结束后进入半开状态放行一次探测。
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	coolDown     time.Duration
	state        BreakerState

	now func() time.Time // 可注入的时钟，测试用
}

// NewCircuitBreaker 创建一个熔断器。threshold 为连续失败阈值，coolDown 为打开后的冷却窗口。
func NewCircuitBreaker(name string, threshold int, coolDown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		coolDown:  coolDown,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// Allow 判断本次调用是否放行。
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen {
		if cb.now().Sub(cb.lastFailure) > cb.coolDown {
			cb.state = BreakerHalfOpen
			return true
		}
		return false
	}
	return true
}

// Success 记录一次成功调用，关闭熔断器并清零失败计数。
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failureCount = 0
}

// Failure 记录一次失败调用，连续失败达到阈值后打开熔断器。
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = cb.now()
	if cb.state == BreakerHalfOpen || cb.failureCount >= cb.threshold {
		cb.state = BreakerOpen
	}
}

// State 返回当前状态，供指标上报。
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name 返回熔断器保护的协作方名称。
func (cb *CircuitBreaker) Name() string { return cb.name }
