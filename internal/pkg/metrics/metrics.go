// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 采购 Saga 与外部协作方的核心指标，order-service 的 /metrics 上暴露。
var (
	// SagaOutcomes 按结果（completed / compensated / parked）统计 Saga 终态。
	SagaOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuitbay_saga_outcomes_total",
		Help: "Terminal outcomes of purchase sagas.",
	}, []string{"outcome"})

	// CompensationSteps 统计实际执行的补偿动作。
	CompensationSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuitbay_saga_compensation_steps_total",
		Help: "Compensation actions applied, by step name.",
	}, []string{"step"})

	// ReservationConflicts 统计因库存不足被拒绝的预占请求。
	ReservationConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circuitbay_inventory_reservation_conflicts_total",
		Help: "Reservations rejected due to insufficient inventory.",
	})

	// GatewayRetries 统计对支付网关的重试次数。
	GatewayRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circuitbay_gateway_retries_total",
		Help: "Retried calls to the payment gateway.",
	})

	// BreakerOpen 各外部协作方的熔断器状态（1=open）。
	BreakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuitbay_breaker_open",
		Help: "Whether the circuit breaker for a collaborator is open.",
	}, []string{"collaborator"})

	// EscrowReleases 按触发方式（delivery / timer）统计托管放款。
	EscrowReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuitbay_escrow_releases_total",
		Help: "Escrow releases by trigger.",
	}, []string{"trigger"})

	// CallbackReplays 统计被去重丢弃的网关回调。
	CallbackReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circuitbay_gateway_callback_replays_total",
		Help: "Duplicate gateway callbacks dropped by the dedup guard.",
	})
)
