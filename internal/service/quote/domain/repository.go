// internal/service/quote/domain/repository.go
package domain

import (
	"context"
	"time"
)

// QuoteRepository 是 BulkQuote 的持久化端口。
// Update 必须带乐观锁：并发的还价/接受只有一个能落库，失败方收到 ErrQuoteConflict。
type QuoteRepository interface {
	Create(ctx context.Context, quote *BulkQuote) error
	Get(ctx context.Context, id string) (*BulkQuote, error)
	Update(ctx context.Context, quote *BulkQuote) error
	// FindInactiveBefore 返回 updated_at 早于 cutoff 的非终态报价，供定时过期扫描。
	FindInactiveBefore(ctx context.Context, cutoff time.Time, limit int) ([]*BulkQuote, error)
}
