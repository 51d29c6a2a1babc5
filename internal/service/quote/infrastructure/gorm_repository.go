// internal/service/quote/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"circuitbay/internal/service/quote/domain"

	"gorm.io/gorm"
)

// QuoteModel 对应 bulk_quotes 表。
type QuoteModel struct {
	ID             string `gorm:"primaryKey;type:varchar(36)"`
	BuyerID        string `gorm:"type:varchar(36);index"`
	SellerID       string `gorm:"type:varchar(36);index"`
	ComponentID    string `gorm:"type:varchar(36);index"`
	Quantity       int64  `gorm:"not null"`
	UnitPriceMinor int64
	Status         string `gorm:"type:varchar(16);index:idx_quote_inactive"`
	LastActor      string `gorm:"type:varchar(8)"`
	Rounds         int
	ConsumedBy     string `gorm:"type:varchar(36)"`
	Version        int64  `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"index:idx_quote_inactive"`
}

func (QuoteModel) TableName() string { return "bulk_quotes" }

func toQuoteModel(q *domain.BulkQuote) *QuoteModel {
	return &QuoteModel{
		ID:             q.ID,
		BuyerID:        q.BuyerID,
		SellerID:       q.SellerID,
		ComponentID:    q.ComponentID,
		Quantity:       q.Quantity,
		UnitPriceMinor: q.UnitPriceMinor,
		Status:         string(q.Status),
		LastActor:      string(q.LastActor),
		Rounds:         q.Rounds,
		ConsumedBy:     q.ConsumedBy,
		Version:        q.Version,
		CreatedAt:      q.CreatedAt,
		UpdatedAt:      q.UpdatedAt,
	}
}

func toDomainQuote(m *QuoteModel) *domain.BulkQuote {
	return &domain.BulkQuote{
		ID:             m.ID,
		BuyerID:        m.BuyerID,
		SellerID:       m.SellerID,
		ComponentID:    m.ComponentID,
		Quantity:       m.Quantity,
		UnitPriceMinor: m.UnitPriceMinor,
		Status:         domain.Status(m.Status),
		LastActor:      domain.Actor(m.LastActor),
		Rounds:         m.Rounds,
		ConsumedBy:     m.ConsumedBy,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// GormQuoteRepository 是 QuoteRepository 的 MySQL 实现。
type GormQuoteRepository struct {
	db *gorm.DB
}

func NewGormQuoteRepository(db *gorm.DB) (*GormQuoteRepository, error) {
	if err := db.AutoMigrate(&QuoteModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate bulk_quotes table: %w", err)
	}
	return &GormQuoteRepository{db: db}, nil
}

func (r *GormQuoteRepository) Create(ctx context.Context, quote *domain.BulkQuote) error {
	return r.db.WithContext(ctx).Create(toQuoteModel(quote)).Error
}

func (r *GormQuoteRepository) Get(ctx context.Context, id string) (*domain.BulkQuote, error) {
	var m QuoteModel
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainQuote(&m), nil
}

// Update 带乐观锁写回：WHERE id AND version，零行即并发冲突。
// 并发的还价和接受只有一个能赢，输家拿到 ErrQuoteConflict 重读后重试。
func (r *GormQuoteRepository) Update(ctx context.Context, quote *domain.BulkQuote) error {
	result := r.db.WithContext(ctx).Model(&QuoteModel{}).
		Where("id = ? AND version = ?", quote.ID, quote.Version).
		Updates(map[string]interface{}{
			"quantity":         quote.Quantity,
			"unit_price_minor": quote.UnitPriceMinor,
			"status":           string(quote.Status),
			"last_actor":       string(quote.LastActor),
			"rounds":           quote.Rounds,
			"consumed_by":      quote.ConsumedBy,
			"version":          quote.Version + 1,
			"updated_at":       quote.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrQuoteConflict
	}
	quote.Version++
	return nil
}

func (r *GormQuoteRepository) FindInactiveBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.BulkQuote, error) {
	var models []QuoteModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at <= ?",
			[]string{string(domain.StatusRequested), string(domain.StatusQuoted), string(domain.StatusCountered)}, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	quotes := make([]*domain.BulkQuote, 0, len(models))
	for i := range models {
		quotes = append(quotes, toDomainQuote(&models[i]))
	}
	return quotes, nil
}
