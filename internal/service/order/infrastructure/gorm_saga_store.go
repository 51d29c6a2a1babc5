// internal/service/order/infrastructure/gorm_saga_store.go
package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"circuitbay/internal/service/order/domain"

	"gorm.io/gorm"
)

// SagaRecordModel 对应 saga_records 表。步骤日志整体序列化进 JSON 列，
// 记录在终态后保留，用于审计和幂等判定。
type SagaRecordModel struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	OrderID    string `gorm:"type:varchar(36);uniqueIndex"`
	Phase      string `gorm:"type:varchar(32);index"`
	Fence      int64  `gorm:"not null"`
	StepsJSON  string `gorm:"type:text"`
	FailReason string `gorm:"type:varchar(512)"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (SagaRecordModel) TableName() string { return "saga_records" }

func toSagaModel(r *domain.SagaRecord) (*SagaRecordModel, error) {
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal saga steps: %w", err)
	}
	return &SagaRecordModel{
		ID:         r.ID,
		OrderID:    r.OrderID,
		Phase:      string(r.Phase),
		Fence:      r.Fence,
		StepsJSON:  string(steps),
		FailReason: r.FailReason,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

func toDomainSaga(m *SagaRecordModel) (*domain.SagaRecord, error) {
	var steps []domain.StepRecord
	if m.StepsJSON != "" {
		if err := json.Unmarshal([]byte(m.StepsJSON), &steps); err != nil {
			return nil, fmt.Errorf("corrupt step log for saga %s: %w", m.ID, err)
		}
	}
	return &domain.SagaRecord{
		ID:         m.ID,
		OrderID:    m.OrderID,
		Phase:      domain.SagaPhase(m.Phase),
		Fence:      m.Fence,
		Steps:      steps,
		FailReason: m.FailReason,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}

// GormSagaStore 是 SagaStore 的 MySQL 实现。
type GormSagaStore struct {
	db *gorm.DB
}

func NewGormSagaStore(db *gorm.DB) (*GormSagaStore, error) {
	if err := db.AutoMigrate(&SagaRecordModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate saga_records table: %w", err)
	}
	return &GormSagaStore{db: db}, nil
}

func (s *GormSagaStore) Create(ctx context.Context, record *domain.SagaRecord) error {
	m, err := toSagaModel(record)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormSagaStore) Get(ctx context.Context, id string) (*domain.SagaRecord, error) {
	var m SagaRecordModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSagaNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainSaga(&m)
}

func (s *GormSagaStore) GetByOrder(ctx context.Context, orderID string) (*domain.SagaRecord, error) {
	var m SagaRecordModel
	err := s.db.WithContext(ctx).First(&m, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSagaNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainSaga(&m)
}

func (s *GormSagaStore) Update(ctx context.Context, record *domain.SagaRecord) error {
	m, err := toSagaModel(record)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&SagaRecordModel{}).
		Where("id = ?", record.ID).
		Updates(map[string]interface{}{
			"phase":       m.Phase,
			"fence":       m.Fence,
			"steps_json":  m.StepsJSON,
			"fail_reason": m.FailReason,
			"updated_at":  m.UpdatedAt,
		}).Error
}

func (s *GormSagaStore) FindInFlight(ctx context.Context) ([]*domain.SagaRecord, error) {
	var models []SagaRecordModel
	err := s.db.WithContext(ctx).
		Where("phase NOT IN ?", []string{
			string(domain.PhaseCompleted),
			string(domain.PhaseCompensated),
			string(domain.PhaseManual),
		}).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]*domain.SagaRecord, 0, len(models))
	for i := range models {
		record, err := toDomainSaga(&models[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
