// internal/service/payment/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"circuitbay/internal/service/payment/domain"

	"gorm.io/gorm"
)

// PaymentModel 对应 payments 表。托管和类型展开成状态列 + 可空时间列，
// 回读时由 mapper 收敛回和类型，非法组合在映射层报错。
type PaymentModel struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	OrderID      string `gorm:"type:varchar(36);index"`
	SellerID     string `gorm:"type:varchar(36);index"`
	AmountMinor  int64  `gorm:"not null"`
	Currency     string `gorm:"type:varchar(8)"`
	Method       string `gorm:"type:varchar(32)"`
	GatewayTxID  string `gorm:"type:varchar(64);uniqueIndex"`
	Status       string `gorm:"type:varchar(16);index"`
	EscrowStatus string `gorm:"type:varchar(16);index:idx_escrow_due"`
	HeldUntil    *time.Time `gorm:"index:idx_escrow_due"`
	ReleasedAt   *time.Time
	ReleaseBy    string `gorm:"type:varchar(16)"`
	RefundedAt   *time.Time
	RefundMinor  int64
	RefundReason string `gorm:"type:varchar(255)"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (PaymentModel) TableName() string { return "payments" }

func toPaymentModel(p *domain.Payment) *PaymentModel {
	m := &PaymentModel{
		ID:          p.ID,
		OrderID:     p.OrderID,
		SellerID:    p.SellerID,
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		Method:      p.Method,
		GatewayTxID: p.GatewayTxID,
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	switch e := p.Escrow.(type) {
	case domain.EscrowNone:
		m.EscrowStatus = "none"
	case domain.EscrowHeld:
		m.EscrowStatus = "held"
		held := e.HeldUntil
		m.HeldUntil = &held
	case domain.EscrowReleased:
		m.EscrowStatus = "released"
		at := e.At
		m.ReleasedAt = &at
		m.ReleaseBy = string(e.Trigger)
	case domain.EscrowRefunded:
		m.EscrowStatus = "refunded"
		at := e.At
		m.RefundedAt = &at
		m.RefundMinor = e.AmountMinor
		m.RefundReason = e.Reason
	}
	return m
}

func toDomainPayment(m *PaymentModel) (*domain.Payment, error) {
	var escrow domain.EscrowState
	switch m.EscrowStatus {
	case "none", "":
		escrow = domain.EscrowNone{}
	case "held":
		if m.HeldUntil == nil {
			return nil, fmt.Errorf("payment %s: held escrow without held_until", m.ID)
		}
		escrow = domain.EscrowHeld{HeldUntil: *m.HeldUntil}
	case "released":
		if m.ReleasedAt == nil {
			return nil, fmt.Errorf("payment %s: released escrow without released_at", m.ID)
		}
		escrow = domain.EscrowReleased{At: *m.ReleasedAt, Trigger: domain.ReleaseTrigger(m.ReleaseBy)}
	case "refunded":
		if m.RefundedAt == nil {
			return nil, fmt.Errorf("payment %s: refunded escrow without refunded_at", m.ID)
		}
		escrow = domain.EscrowRefunded{At: *m.RefundedAt, AmountMinor: m.RefundMinor, Reason: m.RefundReason}
	default:
		return nil, fmt.Errorf("payment %s: unknown escrow status %q", m.ID, m.EscrowStatus)
	}

	return &domain.Payment{
		ID:          m.ID,
		OrderID:     m.OrderID,
		SellerID:    m.SellerID,
		AmountMinor: m.AmountMinor,
		Currency:    m.Currency,
		Method:      m.Method,
		GatewayTxID: m.GatewayTxID,
		Status:      domain.Status(m.Status),
		Escrow:      escrow,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

// GormPaymentRepository 是 domain.PaymentRepository 的 GORM 实现。
type GormPaymentRepository struct {
	db *gorm.DB
}

func NewGormPaymentRepository(db *gorm.DB) (*GormPaymentRepository, error) {
	if err := db.AutoMigrate(&PaymentModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate payments table: %w", err)
	}
	return &GormPaymentRepository{db: db}, nil
}

func (r *GormPaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	return r.db.WithContext(ctx).Create(toPaymentModel(p)).Error
}

func (r *GormPaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	var m PaymentModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return toDomainPayment(&m)
}

func (r *GormPaymentRepository) GetByGatewayTx(ctx context.Context, gatewayTxID string) (*domain.Payment, error) {
	var m PaymentModel
	if err := r.db.WithContext(ctx).Where("gateway_tx_id = ?", gatewayTxID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return toDomainPayment(&m)
}

func (r *GormPaymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	m := toPaymentModel(p)
	return r.db.WithContext(ctx).Model(&PaymentModel{}).Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"status":        m.Status,
			"escrow_status": m.EscrowStatus,
			"held_until":    m.HeldUntil,
			"released_at":   m.ReleasedAt,
			"release_by":    m.ReleaseBy,
			"refunded_at":   m.RefundedAt,
			"refund_minor":  m.RefundMinor,
			"refund_reason": m.RefundReason,
			"updated_at":    m.UpdatedAt,
		}).Error
}

func (r *GormPaymentRepository) FindDueEscrows(ctx context.Context, now time.Time, limit int) ([]*domain.Payment, error) {
	var models []PaymentModel
	err := r.db.WithContext(ctx).
		Where("escrow_status = ? AND held_until <= ?", "held", now).
		Order("held_until ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Payment, 0, len(models))
	for i := range models {
		p, err := toDomainPayment(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
