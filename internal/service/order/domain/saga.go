// internal/service/order/domain/saga.go
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SagaPhase 是采购 Saga 的所处阶段。
// needs-manual-intervention 是唯一需要人工介入的终态，进入后绝不自动重试。
type SagaPhase string

const (
	PhaseReserving          SagaPhase = "reserving"          // 同步段：预占库存、发起支付
	PhaseAwaitingPayment    SagaPhase = "awaiting_payment"    // 等网关回调
	PhaseAwaitingSettlement SagaPhase = "awaiting_settlement" // 托管中，等收货确认或定时器
	PhaseCompleted          SagaPhase = "completed"
	PhaseCompensated        SagaPhase = "compensated"
	PhaseManual             SagaPhase = "needs-manual-intervention"
)

// Terminal 判断阶段是否为终态。
func (p SagaPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCompensated || p == PhaseManual
}

// StepStatus 是补偿日志中一个步骤的状态。
type StepStatus string

const (
	StepCompleted   StepStatus = "completed"
	StepCompensated StepStatus = "compensated"
)

var (
	ErrSagaNotFound = errors.New("saga record not found")
	// ErrStaleFence 表示外部回调携带的 fencing token 已过期，事件被拒收。
	ErrStaleFence = errors.New("stale fencing token, event rejected")
	// ErrCompensationFailed 表示回滚无法自动完成，Saga 已停靠待人工处理。
	ErrCompensationFailed = errors.New("saga compensation failed, manual intervention required")
	// ErrSettlementDisputed 表示订单挂着未决纠纷，放款推迟到下一轮到期扫描。
	ErrSettlementDisputed = errors.New("settlement deferred: open dispute")
)

// StepRecord 是补偿日志的一行：步骤名、状态和补偿所需的载荷。
type StepRecord struct {
	Name    string            `json:"name"`
	Status  StepStatus        `json:"status"`
	Payload map[string]string `json:"payload,omitempty"`
	At      time.Time         `json:"at"`
}

// SagaRecord 是编排器对一次采购 Saga 的持久化账目。
// Fence 在每次阶段推进时递增，外部异步事件必须携带当前值，
// 迟到的上一阶段事件会被拒收而不是二次应用。
type SagaRecord struct {
	ID      string
	OrderID string
	Phase   SagaPhase
	Fence   int64
	Steps   []StepRecord

	FailReason string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NewSagaRecord(id, orderID string, now time.Time) *SagaRecord {
	return &SagaRecord{
		ID:        id,
		OrderID:   orderID,
		Phase:     PhaseReserving,
		Fence:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RecordStep 把一个已完成的前向步骤追加进补偿日志。
func (s *SagaRecord) RecordStep(name string, payload map[string]string, now time.Time) {
	s.Steps = append(s.Steps, StepRecord{Name: name, Status: StepCompleted, Payload: payload, At: now})
	s.UpdatedAt = now
}

// AdvancePhase 推进阶段并递增 fencing token。
func (s *SagaRecord) AdvancePhase(to SagaPhase, now time.Time) {
	s.Phase = to
	s.Fence++
	s.UpdatedAt = now
}

// CheckFence 校验外部事件携带的 token。只接受恰好等于当前值的事件。
func (s *SagaRecord) CheckFence(token int64) error {
	if token != s.Fence {
		return fmt.Errorf("%w: got %d, current %d", ErrStaleFence, token, s.Fence)
	}
	return nil
}

// MarkCompensated 把一个步骤标记为已补偿，返回是否本次生效。
// 已补偿的步骤返回 false，保证每个补偿动作恰好应用一次。
func (s *SagaRecord) MarkCompensated(name string, now time.Time) bool {
	for i := range s.Steps {
		if s.Steps[i].Name == name && s.Steps[i].Status == StepCompleted {
			s.Steps[i].Status = StepCompensated
			s.UpdatedAt = now
			return true
		}
	}
	return false
}

// StepPayload 读取某个已记录步骤的补偿载荷字段，缺失时返回空串。
func (s *SagaRecord) StepPayload(name, key string) string {
	for i := range s.Steps {
		if s.Steps[i].Name == name {
			return s.Steps[i].Payload[key]
		}
	}
	return ""
}

// StepsToCompensate 返回尚未补偿的已完成步骤，按记录顺序的逆序。
func (s *SagaRecord) StepsToCompensate() []StepRecord {
	var out []StepRecord
	for i := len(s.Steps) - 1; i >= 0; i-- {
		if s.Steps[i].Status == StepCompleted {
			out = append(out, s.Steps[i])
		}
	}
	return out
}

// Park 把 Saga 停靠到人工介入终态，保留失败原因。
func (s *SagaRecord) Park(reason string, now time.Time) {
	s.Phase = PhaseManual
	s.FailReason = reason
	s.Fence++
	s.UpdatedAt = now
}

// SagaStore 是 SagaRecord 的持久化端口。
type SagaStore interface {
	Create(ctx context.Context, record *SagaRecord) error
	Get(ctx context.Context, id string) (*SagaRecord, error)
	GetByOrder(ctx context.Context, orderID string) (*SagaRecord, error)
	Update(ctx context.Context, record *SagaRecord) error
	// FindInFlight 返回所有非终态的 Saga，进程重启后用于恢复订阅。
	FindInFlight(ctx context.Context) ([]*SagaRecord, error)
}
