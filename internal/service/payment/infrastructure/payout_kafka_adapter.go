package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"circuitbay/internal/pkg/mq"

	"github.com/segmentio/kafka-go"
)

// PayoutKafkaAdapter 在放款成功后向结算主题发出卖家打款事件。
// 投递失败只记日志不回滚，结算对账批处理会兜底。
type PayoutKafkaAdapter struct {
	writer *kafka.Writer
}

func NewPayoutKafkaAdapter(writer *kafka.Writer) *PayoutKafkaAdapter {
	return &PayoutKafkaAdapter{writer: writer}
}

type sellerPayoutEvent struct {
	PaymentID   string    `json:"paymentId"`
	OrderID     string    `json:"orderId"`
	SellerID    string    `json:"sellerId"`
	AmountMinor int64     `json:"amountMinor"`
	At          time.Time `json:"at"`
}

func (a *PayoutKafkaAdapter) EmitSellerPayout(ctx context.Context, paymentID, orderID, sellerID string, amountMinor int64) error {
	payload, err := json.Marshal(sellerPayoutEvent{
		PaymentID:   paymentID,
		OrderID:     orderID,
		SellerID:    sellerID,
		AmountMinor: amountMinor,
		At:          time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(sellerID), payload)
}
